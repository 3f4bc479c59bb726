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

package keymaster

import (
	"encoding/binary"
	"fmt"
)

// AuthTokenSize is the exact wire size of a hardware authentication
// token: version(1) + challenge(8) + userID(8) + authenticatorID(8) +
// authenticatorType(4) + timestamp(8) + hmac(32).
const AuthTokenSize = 69

// AuthenticatorType identifies how the user authenticated.
type AuthenticatorType uint32

const (
	// AuthenticatorTypeNone marks a token from no authenticator.
	AuthenticatorTypeNone AuthenticatorType = 0

	// AuthenticatorTypePassword marks a password/PIN authentication.
	AuthenticatorTypePassword AuthenticatorType = 1 << 0

	// AuthenticatorTypeFingerprint marks a biometric authentication.
	AuthenticatorTypeFingerprint AuthenticatorType = 1 << 1
)

// AuthToken is the parsed form of the fixed hardware authentication token
// structure. The identifier fields are little-endian (host order on the
// producing device); authenticator type and timestamp are big-endian.
type AuthToken struct {
	Version           uint8
	Challenge         uint64
	UserID            uint64
	AuthenticatorID   uint64
	AuthenticatorType AuthenticatorType
	Timestamp         uint64
	HMAC              [32]byte
}

// ParseAuthToken decodes a raw token, enforcing the exact structure size.
func ParseAuthToken(raw []byte) (*AuthToken, error) {
	if len(raw) != AuthTokenSize {
		return nil, fmt.Errorf("keymaster: auth token should be %d bytes, was %d bytes",
			AuthTokenSize, len(raw))
	}
	t := &AuthToken{
		Version:           raw[0],
		Challenge:         binary.LittleEndian.Uint64(raw[1:9]),
		UserID:            binary.LittleEndian.Uint64(raw[9:17]),
		AuthenticatorID:   binary.LittleEndian.Uint64(raw[17:25]),
		AuthenticatorType: AuthenticatorType(binary.BigEndian.Uint32(raw[25:29])),
		Timestamp:         binary.BigEndian.Uint64(raw[29:37]),
	}
	copy(t.HMAC[:], raw[37:69])
	return t, nil
}

// UserSecureID extracts the user secure identifier from a raw token
// without decoding the rest of the structure.
func UserSecureID(raw []byte) (uint64, error) {
	if len(raw) != AuthTokenSize {
		return 0, fmt.Errorf("keymaster: auth token should be %d bytes, was %d bytes",
			AuthTokenSize, len(raw))
	}
	return binary.LittleEndian.Uint64(raw[9:17]), nil
}
