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

// Package keystore protects a raw symmetric key at rest inside one
// directory per key. The key is wrapped either by a hardware security
// module key bound to the caller's authentication factor, or by software
// AES-256-GCM under a key derived from that factor. Retrieval returns the
// original key only when the factor matches; destruction is a best-effort
// sequence of hardware key deletion, secure overwrite and directory
// removal.
//
// Callers must serialize Store, Retrieve and Destroy per directory;
// concurrent operations on the same directory are undefined.
package keystore

import (
	"fmt"
	"time"

	"github.com/jeremyhahn/go-keystorage/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keystorage/pkg/keymaster"
	"github.com/jeremyhahn/go-keystorage/pkg/logging"
	"github.com/jeremyhahn/go-keystorage/pkg/metrics"
	"github.com/jeremyhahn/go-keystorage/pkg/shred"
)

// Config assembles the collaborators a Service needs.
type Config struct {
	// Logger receives diagnostics. Defaults to the package default
	// logger.
	Logger *logging.Logger

	// Random produces the secdiscardable token, salts and software
	// nonces. Defaults to the system CSPRNG.
	Random rand.Source

	// ScryptParams is the cost exponent string ("N:r:p") captured into
	// records stored with a stretched secret. Defaults to
	// DefaultScryptParams. The value is read at Store time only; records
	// carry their own copy.
	ScryptParams string

	// OpenKeymaster opens a connection to the hardware security module.
	// Connection failure surfaces from this call, before any key
	// operation. Leave nil on systems without a module; hardware-bound
	// operations then fail with ErrNoKeymaster.
	OpenKeymaster func() (keymaster.Keymaster, error)

	// Shredder drives the external secure-erase and removal tools during
	// destruction. Defaults to the production tools.
	Shredder *shred.Shredder
}

// Service implements the key storage protocol over one directory per
// protected key.
type Service struct {
	logger        *logging.Logger
	random        rand.Source
	scryptParams  string
	openKeymaster func() (keymaster.Keymaster, error)
	shredder      *shred.Shredder
}

// New creates a Service from the configuration, applying defaults for
// absent collaborators.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	s := &Service{
		logger:        cfg.Logger,
		random:        cfg.Random,
		scryptParams:  cfg.ScryptParams,
		openKeymaster: cfg.OpenKeymaster,
		shredder:      cfg.Shredder,
	}
	if s.logger == nil {
		s.logger = logging.DefaultLogger()
	}
	if s.random == nil {
		s.random = rand.NewSoftwareSource()
	}
	if s.scryptParams == "" {
		s.scryptParams = DefaultScryptParams
	}
	if err := ValidateScryptParams(s.scryptParams); err != nil {
		return nil, err
	}
	if s.shredder == nil {
		s.shredder = shred.NewDefault()
	}
	return s, nil
}

// Store protects key under auth in a freshly created directory. Any
// failing step aborts immediately; partial directory state may remain and
// Destroy is the only cleanup path.
func (s *Service) Store(dir string, auth Authentication, key []byte) error {
	start := time.Now()
	path := pathLabel(auth)
	err := s.store(dir, auth, key)
	metrics.RecordOperation(metrics.OpStore, path, err)
	metrics.ObserveDuration(metrics.OpStore, path, start)
	return err
}

func (s *Service) store(dir string, auth Authentication, key []byte) error {
	if err := s.createKeyDirectory(dir); err != nil {
		return err
	}
	if err := s.writeArtifact(dir, fnVersion, []byte(currentVersion)); err != nil {
		return err
	}
	secdiscardable, err := s.random.ReadRandom(secdiscardableBytes)
	if err != nil {
		s.logger.Errorf("random read failed: %v", err)
		return fmt.Errorf("%w: secdiscardable generation: %v", ErrCryptoFailure, err)
	}
	if err := s.writeArtifact(dir, fnSecdiscardable, secdiscardable); err != nil {
		return err
	}
	stretching := chooseStretching(auth, s.scryptParams)
	if err := s.writeArtifact(dir, fnStretching, []byte(stretching)); err != nil {
		return err
	}
	var salt []byte
	if stretchingNeedsSalt(stretching) {
		salt, err = s.random.ReadRandom(saltBytes)
		if err != nil {
			s.logger.Errorf("random read failed: %v", err)
			return fmt.Errorf("%w: salt generation: %v", ErrCryptoFailure, err)
		}
		if err := s.writeArtifact(dir, fnSalt, salt); err != nil {
			return err
		}
	}
	appID, err := s.generateAppID(auth, stretching, salt, secdiscardable)
	if err != nil {
		return err
	}
	var encryptedKey []byte
	if auth.UsesKeymaster() {
		km, err := s.keymasterConn()
		if err != nil {
			return err
		}
		defer km.Close()
		desc, err := s.generateKeyDescription(auth, appID)
		if err != nil {
			return err
		}
		blob, err := km.GenerateKey(desc)
		if err != nil {
			s.logger.Errorf("keymaster key generation failed for %s: %v", dir, err)
			return fmt.Errorf("%w: generate key: %v", ErrCryptoFailure, err)
		}
		if err := s.writeArtifact(dir, fnKeymasterKeyBlob, blob); err != nil {
			return err
		}
		encryptedKey, err = s.encryptWithKeymaster(km, dir, beginParams(auth, appID), key)
		if err != nil {
			return err
		}
	} else {
		encryptedKey, err = s.encryptWithoutKeymaster(appID, key)
		if err != nil {
			return err
		}
	}
	return s.writeArtifact(dir, fnEncryptedKey, encryptedKey)
}

// Retrieve reconstructs the protected key from the directory's record.
// The application identity is recomputed from the persisted artifacts, so
// retrieval is deterministic given the same secret regardless of later
// configuration changes.
func (s *Service) Retrieve(dir string, auth Authentication) ([]byte, error) {
	start := time.Now()
	path := pathLabel(auth)
	key, err := s.retrieve(dir, auth)
	metrics.RecordOperation(metrics.OpRetrieve, path, err)
	metrics.ObserveDuration(metrics.OpRetrieve, path, start)
	return key, err
}

func (s *Service) retrieve(dir string, auth Authentication) ([]byte, error) {
	if err := s.checkVersion(dir); err != nil {
		return nil, err
	}
	secdiscardable, err := s.readArtifact(dir, fnSecdiscardable)
	if err != nil {
		return nil, err
	}
	stretchingBytes, err := s.readArtifact(dir, fnStretching)
	if err != nil {
		return nil, err
	}
	stretching := string(stretchingBytes)
	var salt []byte
	if stretchingNeedsSalt(stretching) {
		salt, err = s.readArtifact(dir, fnSalt)
		if err != nil {
			return nil, err
		}
	}
	appID, err := s.generateAppID(auth, stretching, salt, secdiscardable)
	if err != nil {
		return nil, err
	}
	encryptedKey, err := s.readArtifact(dir, fnEncryptedKey)
	if err != nil {
		return nil, err
	}
	if auth.UsesKeymaster() {
		km, err := s.keymasterConn()
		if err != nil {
			return nil, err
		}
		defer km.Close()
		return s.decryptWithKeymaster(km, dir, beginParams(auth, appID), encryptedKey)
	}
	return s.decryptWithoutKeymaster(appID, encryptedKey)
}

// keymasterConn opens a hardware module connection for the duration of
// one operation.
func (s *Service) keymasterConn() (keymaster.Keymaster, error) {
	if s.openKeymaster == nil {
		s.logger.Error(ErrNoKeymaster)
		return nil, ErrNoKeymaster
	}
	km, err := s.openKeymaster()
	if err != nil {
		s.logger.Errorf("keymaster connection failed: %v", err)
		return nil, fmt.Errorf("%w: connect: %v", ErrCryptoFailure, err)
	}
	return km, nil
}

// pathLabel names the encryption path for metrics.
func pathLabel(auth Authentication) string {
	if auth.UsesKeymaster() {
		return metrics.PathHardware
	}
	return metrics.PathSoftware
}
