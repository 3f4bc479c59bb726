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

import "time"

const (
	aesKeyBytes         = 32
	gcmNonceBytes       = 12
	gcmTagBytes         = 16
	saltBytes           = 1 << 4
	secdiscardableBytes = 1 << 14
	stretchedBytes      = 1 << 6

	// authTimeout bounds how long after authentication a gated hardware
	// key remains usable before the module demands re-authentication.
	authTimeout = 30 * time.Second

	currentVersion = "1"

	keyDirPerms = 0700

	fnEncryptedKey             = "encrypted_key"
	fnKeymasterKeyBlob         = "keymaster_key_blob"
	fnKeymasterKeyBlobUpgraded = "keymaster_key_blob_upgraded"
	fnSalt                     = "salt"
	fnSecdiscardable           = "secdiscardable"
	fnStretching               = "stretching"
	fnVersion                  = "version"

	hashPrefixSecdiscardable = "Android secdiscardable SHA512"
	hashPrefixKeygen         = "Android key wrapping key generation SHA512"
)

// Authentication is the factor a protected key is bound to: a user secret
// and, for hardware authentication-gated keys, a hardware auth token.
type Authentication struct {
	Secret []byte
	Token  []byte
}

// UsesKeymaster reports whether this authentication calls for a
// hardware-module-bound key. A present token always does; so does an
// empty secret, which yields a hardware key with no authentication
// required rather than a software key derived from nothing.
func (a Authentication) UsesKeymaster() bool {
	return len(a.Token) > 0 || len(a.Secret) == 0
}

// EmptyAuthentication represents "no authentication": a hardware key with
// the no-auth-required flag and no secret stretching.
var EmptyAuthentication = Authentication{}
