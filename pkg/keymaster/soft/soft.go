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

// Package soft provides a software implementation of the keymaster
// contract for development and tests. Key material lives inside the key
// blob, sealed under a caller-supplied root key, so blobs survive process
// restarts as long as the root key does. There is no isolation boundary:
// anything holding the root key can recover the keys.
//
// Blobs carry a format version. Raising the module's blob format with
// SetBlobFormat makes Begin report ErrKeyRequiresUpgrade for older blobs,
// which exercises the same upgrade path a hardware module drives.
package soft

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-keystorage/pkg/keymaster"
)

const (
	// RootKeySize is the required root key length in bytes.
	RootKeySize = 32

	// CurrentBlobFormat is the format version newly created modules seal
	// blobs with.
	CurrentBlobFormat = 1

	gcmNonceSize = 12
	gcmTagBits   = 128
)

// blobAAD binds sealed blobs to this module so they cannot be confused
// with other GCM output sealed under the same root key.
var blobAAD = []byte("go-keystorage soft keymaster key blob")

// keyData is the plaintext content of a sealed key blob.
type keyData struct {
	Format         int    `json:"format"`
	ID             string `json:"id"`
	Key            []byte `json:"key"`
	ApplicationID  []byte `json:"application_id"`
	NoAuthRequired bool   `json:"no_auth_required"`
	UserSecureID   uint64 `json:"user_secure_id,omitempty"`
	AuthTimeoutSec uint32 `json:"auth_timeout_sec,omitempty"`
}

// Keymaster is the software module. It is safe for concurrent use.
type Keymaster struct {
	mu         sync.Mutex
	sealer     cipher.AEAD
	blobFormat int
	deleted    map[string]struct{}
}

// New creates a software keymaster sealing blobs under the given 32-byte
// root key.
func New(rootKey []byte) (*Keymaster, error) {
	if len(rootKey) != RootKeySize {
		return nil, fmt.Errorf("soft: root key must be %d bytes, got %d", RootKeySize, len(rootKey))
	}
	block, err := aes.NewCipher(rootKey)
	if err != nil {
		return nil, fmt.Errorf("soft: root cipher: %w", err)
	}
	sealer, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("soft: root AEAD: %w", err)
	}
	return &Keymaster{
		sealer:     sealer,
		blobFormat: CurrentBlobFormat,
		deleted:    make(map[string]struct{}),
	}, nil
}

// SetBlobFormat changes the blob format version for newly sealed blobs.
// Blobs sealed under an older format are reported as requiring upgrade.
func (km *Keymaster) SetBlobFormat(v int) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.blobFormat = v
}

// GenerateKey creates a new AES key per the description and returns its
// sealed blob.
func (km *Keymaster) GenerateKey(desc keymaster.KeyDescription) ([]byte, error) {
	if desc.KeySizeBits != 128 && desc.KeySizeBits != 256 {
		return nil, fmt.Errorf("soft: unsupported key size %d bits", desc.KeySizeBits)
	}
	if desc.MinMacLengthBits > gcmTagBits {
		return nil, fmt.Errorf("soft: unsupported minimum tag length %d bits", desc.MinMacLengthBits)
	}
	key := make([]byte, desc.KeySizeBits/8)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("soft: key generation: %w", err)
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.seal(&keyData{
		Format:         km.blobFormat,
		ID:             uuid.New().String(),
		Key:            key,
		ApplicationID:  desc.ApplicationID,
		NoAuthRequired: desc.NoAuthRequired,
		UserSecureID:   desc.UserSecureID,
		AuthTimeoutSec: uint32(desc.AuthTimeout.Seconds()),
	})
}

// Begin opens a session on the key blob after enforcing format version,
// application identity binding and authentication requirements.
func (km *Keymaster) Begin(purpose keymaster.Purpose, keyBlob []byte, params keymaster.BeginParams, op keymaster.OpParams) (keymaster.Operation, keymaster.OutParams, error) {
	km.mu.Lock()
	kd, err := km.unseal(keyBlob)
	if err != nil {
		km.mu.Unlock()
		return nil, keymaster.OutParams{}, err
	}
	if _, gone := km.deleted[kd.ID]; gone {
		km.mu.Unlock()
		return nil, keymaster.OutParams{}, keymaster.ErrKeyDeleted
	}
	needsUpgrade := kd.Format < km.blobFormat
	km.mu.Unlock()

	if needsUpgrade {
		return nil, keymaster.OutParams{}, keymaster.ErrKeyRequiresUpgrade
	}
	if err := km.authorize(kd, params); err != nil {
		return nil, keymaster.OutParams{}, err
	}

	block, err := aes.NewCipher(kd.Key)
	if err != nil {
		return nil, keymaster.OutParams{}, fmt.Errorf("soft: key cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, keymaster.OutParams{}, fmt.Errorf("soft: key AEAD: %w", err)
	}

	switch purpose {
	case keymaster.PurposeEncrypt:
		nonce := make([]byte, gcmNonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, keymaster.OutParams{}, fmt.Errorf("soft: nonce generation: %w", err)
		}
		return &operation{purpose: purpose, gcm: gcm, nonce: nonce},
			keymaster.OutParams{Nonce: nonce}, nil
	case keymaster.PurposeDecrypt:
		if len(op.Nonce) != gcmNonceSize {
			return nil, keymaster.OutParams{},
				fmt.Errorf("soft: decrypt nonce should be %d bytes, was %d", gcmNonceSize, len(op.Nonce))
		}
		nonce := make([]byte, gcmNonceSize)
		copy(nonce, op.Nonce)
		return &operation{purpose: purpose, gcm: gcm, nonce: nonce}, keymaster.OutParams{}, nil
	default:
		return nil, keymaster.OutParams{}, fmt.Errorf("soft: unsupported purpose %v", purpose)
	}
}

// UpgradeKey reseals the key under the module's current blob format. The
// replacement blob refers to a fresh key instance, leaving the old blob
// independently deletable.
func (km *Keymaster) UpgradeKey(keyBlob []byte, params keymaster.BeginParams) ([]byte, error) {
	km.mu.Lock()
	defer km.mu.Unlock()
	kd, err := km.unseal(keyBlob)
	if err != nil {
		return nil, err
	}
	if _, gone := km.deleted[kd.ID]; gone {
		return nil, keymaster.ErrKeyDeleted
	}
	if err := km.authorize(kd, params); err != nil {
		return nil, err
	}
	upgraded := *kd
	upgraded.Format = km.blobFormat
	upgraded.ID = uuid.New().String()
	return km.seal(&upgraded)
}

// DeleteKey invalidates the key instance the blob refers to.
func (km *Keymaster) DeleteKey(keyBlob []byte) error {
	km.mu.Lock()
	defer km.mu.Unlock()
	kd, err := km.unseal(keyBlob)
	if err != nil {
		return err
	}
	km.deleted[kd.ID] = struct{}{}
	return nil
}

// Close releases the module. The software module holds no resources.
func (km *Keymaster) Close() error {
	return nil
}

// authorize enforces the per-use key parameters: tag length, application
// identity binding and, for gated keys, a token for the bound user.
// Token expiry is the hardware's job; the software module has no secure
// clock and only validates structure and identity.
func (km *Keymaster) authorize(kd *keyData, params keymaster.BeginParams) error {
	if params.MacLengthBits != gcmTagBits {
		return fmt.Errorf("soft: unsupported tag length %d bits", params.MacLengthBits)
	}
	if subtle.ConstantTimeCompare(kd.ApplicationID, params.ApplicationID) != 1 {
		return keymaster.ErrInvalidApplicationID
	}
	if kd.NoAuthRequired {
		return nil
	}
	if len(params.AuthToken) == 0 {
		return keymaster.ErrAuthenticationRequired
	}
	token, err := keymaster.ParseAuthToken(params.AuthToken)
	if err != nil {
		return err
	}
	if token.UserID != kd.UserSecureID {
		return keymaster.ErrAuthenticationRequired
	}
	return nil
}

func (km *Keymaster) seal(kd *keyData) ([]byte, error) {
	plaintext, err := json.Marshal(kd)
	if err != nil {
		return nil, fmt.Errorf("soft: blob encoding: %w", err)
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("soft: blob nonce: %w", err)
	}
	return km.sealer.Seal(nonce, nonce, plaintext, blobAAD), nil
}

func (km *Keymaster) unseal(blob []byte) (*keyData, error) {
	if len(blob) < gcmNonceSize {
		return nil, keymaster.ErrInvalidKeyBlob
	}
	plaintext, err := km.sealer.Open(nil, blob[:gcmNonceSize], blob[gcmNonceSize:], blobAAD)
	if err != nil {
		return nil, keymaster.ErrInvalidKeyBlob
	}
	var kd keyData
	if err := json.Unmarshal(plaintext, &kd); err != nil {
		return nil, keymaster.ErrInvalidKeyBlob
	}
	return &kd, nil
}

// operation buffers streamed input and produces all output at Finish.
// GCM is not an online mode, so the software module defers the transform
// to finalization; callers must tolerate modules that return output this
// way.
type operation struct {
	purpose keymaster.Purpose
	gcm     cipher.AEAD
	nonce   []byte
	buf     []byte
	done    bool
}

// Update appends input to the session. All output is deferred to Finish.
func (o *operation) Update(data []byte) ([]byte, error) {
	if o.done {
		return nil, fmt.Errorf("soft: update on finished operation")
	}
	o.buf = append(o.buf, data...)
	return nil, nil
}

// Finish completes the session. Encryption returns ciphertext body and
// tag; decryption verifies the tag and returns the plaintext.
func (o *operation) Finish() ([]byte, error) {
	if o.done {
		return nil, fmt.Errorf("soft: finish on finished operation")
	}
	o.done = true
	switch o.purpose {
	case keymaster.PurposeEncrypt:
		return o.gcm.Seal(nil, o.nonce, o.buf, nil), nil
	case keymaster.PurposeDecrypt:
		plaintext, err := o.gcm.Open(nil, o.nonce, o.buf, nil)
		if err != nil {
			return nil, keymaster.ErrVerificationFailed
		}
		return plaintext, nil
	default:
		return nil, fmt.Errorf("soft: unsupported purpose %v", o.purpose)
	}
}
