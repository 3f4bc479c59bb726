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
	"errors"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-keystorage/pkg/keymaster"
	"github.com/jeremyhahn/go-keystorage/pkg/metrics"
)

// maxUpgradeAttempts bounds the begin/upgrade/retry loop. Every genuine
// upgrade advances the module's blob format, so a module still demanding
// upgrades after this many rounds is broken and reported as an error.
const maxUpgradeAttempts = 16

// generateKeyDescription builds the key-generation request: a 256-bit
// AES-GCM key bound to the application identity, either usable without
// authentication or gated on the token's user with a bounded unlock
// window.
func (s *Service) generateKeyDescription(auth Authentication, appID []byte) (keymaster.KeyDescription, error) {
	desc := keymaster.KeyDescription{
		KeySizeBits:      aesKeyBytes * 8,
		MinMacLengthBits: gcmTagBytes * 8,
		ApplicationID:    appID,
	}
	if len(auth.Token) == 0 {
		s.logger.Debug("creating key that doesn't need auth token")
		desc.NoAuthRequired = true
		return desc, nil
	}
	s.logger.Debug("auth token required for key")
	sid, err := keymaster.UserSecureID(auth.Token)
	if err != nil {
		s.logger.Error(err)
		return keymaster.KeyDescription{}, fmt.Errorf("%w: %v", ErrSizeMismatch, err)
	}
	desc.UserSecureID = sid
	desc.AuthType = keymaster.AuthenticatorTypePassword
	desc.AuthTimeout = authTimeout
	return desc, nil
}

// beginParams builds the per-use key parameters presented at Begin and
// UpgradeKey.
func beginParams(auth Authentication, appID []byte) keymaster.BeginParams {
	return keymaster.BeginParams{
		MacLengthBits: gcmTagBytes * 8,
		ApplicationID: appID,
		AuthToken:     auth.Token,
	}
}

// beginWithUpgrade opens a session on the directory's persisted key blob,
// transparently upgrading stale blobs: upgrade, persist under a temporary
// name, rename over the live blob, best-effort delete the old key, retry.
// A crash between write and rename leaves a recoverable temp file; the
// old blob stays valid until the rename lands.
func (s *Service) beginWithUpgrade(km keymaster.Keymaster, dir string, purpose keymaster.Purpose,
	keyParams keymaster.BeginParams, opParams keymaster.OpParams) (keymaster.Operation, keymaster.OutParams, error) {

	blobPath := artifactPath(dir, fnKeymasterKeyBlob)
	blob, err := s.readArtifact(dir, fnKeymasterKeyBlob)
	if err != nil {
		return nil, keymaster.OutParams{}, err
	}
	for attempt := 0; attempt < maxUpgradeAttempts; attempt++ {
		op, outParams, err := km.Begin(purpose, blob, keyParams, opParams)
		if err == nil {
			return op, outParams, nil
		}
		if !errors.Is(err, keymaster.ErrKeyRequiresUpgrade) {
			s.logger.Errorf("keymaster begin %s failed for %s: %v", purpose, dir, err)
			return nil, keymaster.OutParams{}, fmt.Errorf("%w: begin: %v", ErrCryptoFailure, err)
		}
		s.logger.Debugf("upgrading key: %s", dir)
		newBlob, err := km.UpgradeKey(blob, keyParams)
		if err != nil {
			s.logger.Errorf("key upgrade failed for %s: %v", dir, err)
			return nil, keymaster.OutParams{}, fmt.Errorf("%w: upgrade: %v", ErrCryptoFailure, err)
		}
		upgradedPath := artifactPath(dir, fnKeymasterKeyBlobUpgraded)
		if err := s.writeArtifact(dir, fnKeymasterKeyBlobUpgraded, newBlob); err != nil {
			return nil, keymaster.OutParams{}, err
		}
		if err := os.Rename(upgradedPath, blobPath); err != nil {
			s.logger.Errorf("unable to move upgraded key to location %s: %v", blobPath, err)
			return nil, keymaster.OutParams{}, fmt.Errorf("keystore: rename %s: %w", upgradedPath, err)
		}
		if err := km.DeleteKey(blob); err != nil {
			s.logger.Errorf("key deletion failed during upgrade, continuing anyway: %s: %v", dir, err)
		}
		blob = newBlob
		metrics.KeyUpgradesTotal.Inc()
		s.logger.Infof("key upgraded: %s", dir)
	}
	s.logger.Errorf("keymaster still requires upgrade after %d attempts: %s", maxUpgradeAttempts, dir)
	return nil, keymaster.OutParams{}, ErrUpgradeLoop
}

// encryptWithKeymaster wraps the key through an ENCRYPT session on the
// directory's hardware key, producing nonce ‖ body ‖ tag. The nonce is
// module-generated; the module may return ciphertext from Update calls
// or defer it to Finish.
func (s *Service) encryptWithKeymaster(km keymaster.Keymaster, dir string,
	keyParams keymaster.BeginParams, message []byte) ([]byte, error) {

	op, outParams, err := s.beginWithUpgrade(km, dir, keymaster.PurposeEncrypt, keyParams, keymaster.OpParams{})
	if err != nil {
		return nil, err
	}
	if len(outParams.Nonce) == 0 {
		s.logger.Errorf("GCM encryption but no nonce generated: %s", dir)
		return nil, ErrSizeMismatch
	}
	if len(outParams.Nonce) != gcmNonceBytes {
		s.logger.Errorf("wrong number of bytes in nonce, expected %d got %d", gcmNonceBytes, len(outParams.Nonce))
		return nil, ErrSizeMismatch
	}
	body, err := op.Update(message)
	if err != nil {
		s.logger.Errorf("keymaster update failed for %s: %v", dir, err)
		return nil, fmt.Errorf("%w: update: %v", ErrCryptoFailure, err)
	}
	final, err := op.Finish()
	if err != nil {
		s.logger.Errorf("keymaster finish failed for %s: %v", dir, err)
		return nil, fmt.Errorf("%w: finish: %v", ErrCryptoFailure, err)
	}
	body = append(body, final...)
	if len(body) != len(message)+gcmTagBytes {
		s.logger.Errorf("wrong number of bytes in ciphertext, expected %d got %d",
			len(message)+gcmTagBytes, len(body))
		return nil, ErrSizeMismatch
	}
	return append(outParams.Nonce, body...), nil
}

// decryptWithKeymaster unwraps nonce ‖ body ‖ tag through a DECRYPT
// session seeded with the leading nonce. Tag verification happens inside
// the module at Finish; its failure is an authentication failure, not a
// distinct path.
func (s *Service) decryptWithKeymaster(km keymaster.Keymaster, dir string,
	keyParams keymaster.BeginParams, ciphertext []byte) ([]byte, error) {

	if len(ciphertext) < gcmNonceBytes+gcmTagBytes {
		s.logger.Errorf("GCM ciphertext too small: %d", len(ciphertext))
		return nil, fmt.Errorf("%w: ciphertext of %d bytes", ErrSizeMismatch, len(ciphertext))
	}
	nonce := ciphertext[:gcmNonceBytes]
	bodyAndTag := ciphertext[gcmNonceBytes:]
	op, _, err := s.beginWithUpgrade(km, dir, keymaster.PurposeDecrypt, keyParams,
		keymaster.OpParams{Nonce: nonce})
	if err != nil {
		return nil, err
	}
	message, err := op.Update(bodyAndTag)
	if err != nil {
		s.logger.Errorf("keymaster update failed for %s: %v", dir, err)
		return nil, fmt.Errorf("%w: update: %v", ErrCryptoFailure, err)
	}
	final, err := op.Finish()
	if err != nil {
		if errors.Is(err, keymaster.ErrVerificationFailed) {
			return nil, ErrAuthenticationFailed
		}
		s.logger.Errorf("keymaster finish failed for %s: %v", dir, err)
		return nil, fmt.Errorf("%w: finish: %v", ErrCryptoFailure, err)
	}
	message = append(message, final...)
	if len(message) != len(bodyAndTag)-gcmTagBytes {
		s.logger.Errorf("wrong number of bytes in plaintext, expected %d got %d",
			len(bodyAndTag)-gcmTagBytes, len(message))
		return nil, ErrSizeMismatch
	}
	return message, nil
}
