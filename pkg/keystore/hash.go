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

import "crypto/sha512"

// hashWithPrefix computes SHA-512 over the input personalized by a fixed
// prefix padded to one hash block. Personalizing domain-separates the two
// unrelated hash uses in this package (secdiscardable digest, software
// key derivation); see section 4.11 of the Skein paper.
func hashWithPrefix(prefix string, tohash []byte) []byte {
	h := sha512.New()
	block := make([]byte, sha512.BlockSize)
	copy(block, prefix)
	h.Write(block)
	h.Write(tohash)
	return h.Sum(nil)
}
