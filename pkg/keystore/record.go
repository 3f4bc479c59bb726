// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keystorage.
//
// go-keystorage is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keystore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Each record field is an independent file inside the key directory.
// File names are part of the on-disk format contract.

func artifactPath(dir, name string) string {
	return filepath.Join(dir, name)
}

// createKeyDirectory creates the key directory with owner-only
// permissions. An existing directory is a failure: records are never
// stored over prior state.
func (s *Service) createKeyDirectory(dir string) error {
	if err := os.Mkdir(dir, keyDirPerms); err != nil {
		s.logger.Errorf("key mkdir %s: %v", dir, err)
		return fmt.Errorf("keystore: create %s: %w", dir, err)
	}
	return nil
}

// writeArtifact persists one record field with owner-only permissions.
func (s *Service) writeArtifact(dir, name string, payload []byte) error {
	path := artifactPath(dir, name)
	if err := os.WriteFile(path, payload, 0600); err != nil {
		s.logger.Errorf("failed to write to %s: %v", path, err)
		return fmt.Errorf("keystore: write %s: %w", path, err)
	}
	return nil
}

// readArtifact reads one record field.
func (s *Service) readArtifact(dir, name string) ([]byte, error) {
	path := artifactPath(dir, name)
	payload, err := os.ReadFile(path)
	if err != nil {
		s.logger.Errorf("failed to read from %s: %v", path, err)
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	return payload, nil
}

// checkVersion reads the record version and requires an exact match with
// the current supported version.
func (s *Service) checkVersion(dir string) error {
	version, err := s.readArtifact(dir, fnVersion)
	if err != nil {
		return err
	}
	if string(version) != currentVersion {
		s.logger.Errorf("version mismatch in %s: expected %s got %s", dir, currentVersion, version)
		return fmt.Errorf("%w: expected %s got %s", ErrVersionMismatch, currentVersion, version)
	}
	return nil
}
