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

// Package keymaster defines the narrow contract the key storage protocol
// consumes from a hardware security module. The module holds key material
// in an isolated environment and exposes it only as opaque key blobs;
// callers generate, use, upgrade and delete keys without ever seeing raw
// key bytes.
//
// Implementations decide where the isolation boundary actually lives: a
// TPM, a secure element, or the software module in the soft subpackage
// used for development and tests.
package keymaster

import (
	"errors"
	"time"
)

// Purpose selects the operation a session is opened for.
type Purpose int

const (
	// PurposeEncrypt opens an encryption session.
	PurposeEncrypt Purpose = iota

	// PurposeDecrypt opens a decryption session.
	PurposeDecrypt
)

// String returns the purpose name for logging.
func (p Purpose) String() string {
	switch p {
	case PurposeEncrypt:
		return "encrypt"
	case PurposeDecrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

var (
	// ErrKeyRequiresUpgrade indicates the key blob is in an older format
	// and must be passed through UpgradeKey before the operation can
	// proceed. Callers are expected to upgrade and retry; this error is
	// never a terminal failure by itself.
	ErrKeyRequiresUpgrade = errors.New("keymaster: key blob requires upgrade")

	// ErrInvalidKeyBlob indicates the key blob could not be authenticated
	// or decoded by the module.
	ErrInvalidKeyBlob = errors.New("keymaster: invalid key blob")

	// ErrKeyDeleted indicates the key blob refers to a key the module has
	// invalidated.
	ErrKeyDeleted = errors.New("keymaster: key has been deleted")

	// ErrInvalidApplicationID indicates the application identity supplied
	// at Begin does not match the identity the key was bound to.
	ErrInvalidApplicationID = errors.New("keymaster: application id mismatch")

	// ErrAuthenticationRequired indicates the key requires a hardware
	// authentication token and none (or an unacceptable one) was supplied.
	ErrAuthenticationRequired = errors.New("keymaster: authentication required")

	// ErrVerificationFailed indicates authenticated decryption failed tag
	// verification at Finish.
	ErrVerificationFailed = errors.New("keymaster: ciphertext verification failed")
)

// KeyDescription carries the characteristics requested for a new key.
// The protocol always requests 256-bit AES-GCM keys; the description
// additionally binds the key to an application identity and, for
// authentication-gated keys, to a user secure identifier with a bounded
// unlock window.
type KeyDescription struct {
	// KeySizeBits is the AES key size in bits.
	KeySizeBits int

	// MinMacLengthBits is the minimum GCM tag length the key may be used
	// with.
	MinMacLengthBits int

	// ApplicationID is an opaque tag every use of the key must present.
	ApplicationID []byte

	// NoAuthRequired marks keys usable without a hardware auth token.
	NoAuthRequired bool

	// UserSecureID identifies the authenticated user a gated key is bound
	// to. Ignored when NoAuthRequired is set.
	UserSecureID uint64

	// AuthType is the authenticator type a gated key demands. Ignored
	// when NoAuthRequired is set.
	AuthType AuthenticatorType

	// AuthTimeout bounds how long after authentication the key remains
	// usable. Ignored when NoAuthRequired is set.
	AuthTimeout time.Duration
}

// BeginParams carries the per-use key parameters presented when opening a
// session and when upgrading a blob.
type BeginParams struct {
	// MacLengthBits is the GCM tag length for this use.
	MacLengthBits int

	// ApplicationID must match the identity the key was generated with.
	ApplicationID []byte

	// AuthToken is the hardware authentication token for gated keys;
	// empty for no-auth keys.
	AuthToken []byte
}

// OpParams carries per-operation inputs. A decryption session is seeded
// with the nonce recovered from the ciphertext; an encryption session
// leaves it empty and the module generates one.
type OpParams struct {
	Nonce []byte
}

// OutParams carries per-operation outputs produced at Begin. For
// encryption the module reports the nonce it generated.
type OutParams struct {
	Nonce []byte
}

// Operation is one open session with the module. Update streams data
// through the operation; the module may return transformed output
// incrementally or defer some or all of it to Finish.
type Operation interface {
	// Update streams input through the session and returns any output the
	// module produced for it.
	Update(data []byte) ([]byte, error)

	// Finish completes the session and returns the final output: for
	// encryption the remaining ciphertext and authentication tag, for
	// decryption the remaining plaintext. Decryption tag verification
	// happens here; a verification failure is reported as
	// ErrVerificationFailed.
	Finish() ([]byte, error)
}

// Keymaster is one connection to the hardware security module.
// Implementations report connection failure from their constructor, not
// from a later operation. Callers own the connection for the duration of
// one protocol operation and must Close it afterwards.
type Keymaster interface {
	// GenerateKey creates a new key per the description and returns the
	// opaque key blob that refers to it.
	GenerateKey(desc KeyDescription) ([]byte, error)

	// Begin opens a session for the given purpose on the key blob.
	// When the blob is in an outdated format Begin fails with
	// ErrKeyRequiresUpgrade.
	Begin(purpose Purpose, keyBlob []byte, params BeginParams, op OpParams) (Operation, OutParams, error)

	// UpgradeKey migrates a key blob to the module's current blob format
	// and returns the replacement blob. The old blob remains valid until
	// deleted.
	UpgradeKey(keyBlob []byte, params BeginParams) ([]byte, error)

	// DeleteKey invalidates the key referred to by the blob.
	DeleteKey(keyBlob []byte) error

	// Close releases the module connection.
	Close() error
}
