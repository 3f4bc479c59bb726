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
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// softwareAEAD builds the AES-256-GCM instance for a directory not using
// the hardware module: the key is the first 32 bytes of the personalized
// hash of the application identity.
func softwareAEAD(appID []byte) (cipher.AEAD, error) {
	key := hashWithPrefix(hashPrefixKeygen, appID)[:aesKeyBytes]
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher init: %v", ErrCryptoFailure, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: GCM init: %v", ErrCryptoFailure, err)
	}
	return gcm, nil
}

// encryptWithoutKeymaster wraps the key with software AES-256-GCM,
// producing nonce ‖ body ‖ tag.
func (s *Service) encryptWithoutKeymaster(appID, plaintext []byte) ([]byte, error) {
	gcm, err := softwareAEAD(appID)
	if err != nil {
		s.logger.Error(err)
		return nil, err
	}
	nonce, err := s.random.ReadRandom(gcmNonceBytes)
	if err != nil {
		s.logger.Errorf("random read failed: %v", err)
		return nil, fmt.Errorf("%w: nonce generation: %v", ErrCryptoFailure, err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	if len(ciphertext) != gcmNonceBytes+len(plaintext)+gcmTagBytes {
		s.logger.Errorf("GCM ciphertext length should be %d, was %d",
			gcmNonceBytes+len(plaintext)+gcmTagBytes, len(ciphertext))
		return nil, ErrSizeMismatch
	}
	return ciphertext, nil
}

// decryptWithoutKeymaster reverses encryptWithoutKeymaster, verifying the
// tag.
func (s *Service) decryptWithoutKeymaster(appID, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < gcmNonceBytes+gcmTagBytes {
		s.logger.Errorf("GCM ciphertext too small: %d", len(ciphertext))
		return nil, fmt.Errorf("%w: ciphertext of %d bytes", ErrSizeMismatch, len(ciphertext))
	}
	gcm, err := softwareAEAD(appID)
	if err != nil {
		s.logger.Error(err)
		return nil, err
	}
	plaintext, err := gcm.Open(nil, ciphertext[:gcmNonceBytes], ciphertext[gcmNonceBytes:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
