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

import "errors"

var (
	// ErrVersionMismatch indicates the persisted record version is not
	// the supported current version.
	ErrVersionMismatch = errors.New("keystore: record version mismatch")

	// ErrAuthenticationFailed indicates authenticated decryption failed
	// tag verification: wrong secret, wrong secdiscardable token, or a
	// tampered ciphertext.
	ErrAuthenticationFailed = errors.New("keystore: authentication failed")

	// ErrSizeMismatch indicates a nonce, tag, token or ciphertext length
	// violated the record format.
	ErrSizeMismatch = errors.New("keystore: size mismatch")

	// ErrCryptoFailure indicates a cryptographic primitive or hardware
	// module operation failed.
	ErrCryptoFailure = errors.New("keystore: cryptographic operation failed")

	// ErrMalformedStretching indicates the persisted stretching string
	// carries unparseable scrypt parameters.
	ErrMalformedStretching = errors.New("keystore: malformed stretching parameters")

	// ErrUnknownStretching indicates an unrecognized stretching policy
	// string.
	ErrUnknownStretching = errors.New("keystore: unknown stretching policy")

	// ErrUpgradeLoop indicates the hardware module kept demanding key
	// upgrades past the retry ceiling.
	ErrUpgradeLoop = errors.New("keystore: hardware key upgrade did not converge")

	// ErrNoKeymaster indicates a hardware-bound operation was requested
	// but no hardware module connection was configured.
	ErrNoKeymaster = errors.New("keystore: no keymaster configured")

	// ErrDestroyIncomplete indicates one or more destruction steps
	// failed. The remaining steps were still attempted.
	ErrDestroyIncomplete = errors.New("keystore: destruction incomplete")
)
