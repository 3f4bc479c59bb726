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
	"time"

	"github.com/jeremyhahn/go-keystorage/pkg/metrics"
)

// Destroy removes the protected key by invalidating the hardware key,
// securely overwriting the discardable artifacts and removing the
// directory. Every step is attempted regardless of prior failures: even
// when secure overwrite is unsupported by the media or the hardware
// delete fails, removing the directory still denies the normal retrieval
// path. The result is success only if all steps succeeded.
func (s *Service) Destroy(dir string) error {
	start := time.Now()
	success := true
	// Try each thing, even if previous things failed.
	if err := s.deleteKeymasterKey(dir); err != nil {
		s.logger.MaybeError(err)
		metrics.RecordDestroyStepFailure(metrics.StepHardwareDelete)
		success = false
	}
	if err := s.runSecdiscard(dir); err != nil {
		s.logger.MaybeError(err)
		metrics.RecordDestroyStepFailure(metrics.StepSecdiscard)
		success = false
	}
	if err := s.shredder.RemoveRecursive(dir); err != nil {
		s.logger.MaybeError(err)
		metrics.RecordDestroyStepFailure(metrics.StepRemove)
		success = false
	}
	var err error
	if !success {
		err = fmt.Errorf("%w: %s", ErrDestroyIncomplete, dir)
	}
	metrics.RecordOperation(metrics.OpDestroy, metrics.PathHardware, err)
	metrics.ObserveDuration(metrics.OpDestroy, metrics.PathHardware, start)
	return err
}

// deleteKeymasterKey asks the module to invalidate the directory's key
// blob.
func (s *Service) deleteKeymasterKey(dir string) error {
	blob, err := s.readArtifact(dir, fnKeymasterKeyBlob)
	if err != nil {
		return err
	}
	km, err := s.keymasterConn()
	if err != nil {
		return err
	}
	defer km.Close()
	if err := km.DeleteKey(blob); err != nil {
		s.logger.Errorf("keymaster key deletion failed for %s: %v", dir, err)
		return fmt.Errorf("%w: delete key: %v", ErrCryptoFailure, err)
	}
	return nil
}

// runSecdiscard securely overwrites the artifacts whose destruction makes
// the key unrecoverable. The secdiscardable token matters most: once it
// is gone, the derived key cannot be rebuilt even if backing storage
// retains stale copies of the smaller files.
func (s *Service) runSecdiscard(dir string) error {
	return s.shredder.SecureDiscard(
		artifactPath(dir, fnEncryptedKey),
		artifactPath(dir, fnKeymasterKeyBlob),
		artifactPath(dir, fnSecdiscardable),
	)
}
