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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftwareCipherRoundTrip(t *testing.T) {
	s := newStretchService(t)
	appID := []byte("application identity material")
	plaintext := []byte("the protected key")

	ciphertext, err := s.encryptWithoutKeymaster(appID, plaintext)
	require.NoError(t, err)
	assert.Len(t, ciphertext, gcmNonceBytes+len(plaintext)+gcmTagBytes)

	got, err := s.decryptWithoutKeymaster(appID, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSoftwareCipherFreshNonce(t *testing.T) {
	s := newStretchService(t)
	appID := []byte("app id")
	a, err := s.encryptWithoutKeymaster(appID, []byte("key"))
	require.NoError(t, err)
	b, err := s.encryptWithoutKeymaster(appID, []byte("key"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a[:gcmNonceBytes], b[:gcmNonceBytes]))
}

func TestSoftwareCipherWrongAppID(t *testing.T) {
	s := newStretchService(t)
	ciphertext, err := s.encryptWithoutKeymaster([]byte("app id"), []byte("key"))
	require.NoError(t, err)

	_, err = s.decryptWithoutKeymaster([]byte("other id"), ciphertext)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestSoftwareCipherTamperedCiphertext(t *testing.T) {
	s := newStretchService(t)
	appID := []byte("app id")
	ciphertext, err := s.encryptWithoutKeymaster(appID, []byte("key"))
	require.NoError(t, err)

	for _, i := range []int{0, gcmNonceBytes, len(ciphertext) - 1} {
		tampered := bytes.Clone(ciphertext)
		tampered[i] ^= 0x80
		_, err := s.decryptWithoutKeymaster(appID, tampered)
		assert.ErrorIs(t, err, ErrAuthenticationFailed, "bit flip at offset %d", i)
	}
}

func TestSoftwareCipherTooShort(t *testing.T) {
	s := newStretchService(t)
	_, err := s.decryptWithoutKeymaster([]byte("app id"), make([]byte, gcmNonceBytes+gcmTagBytes-1))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestSoftwareCipherEmptyPlaintext(t *testing.T) {
	s := newStretchService(t)
	appID := []byte("app id")
	ciphertext, err := s.encryptWithoutKeymaster(appID, nil)
	require.NoError(t, err)
	assert.Len(t, ciphertext, gcmNonceBytes+gcmTagBytes)

	got, err := s.decryptWithoutKeymaster(appID, ciphertext)
	require.NoError(t, err)
	assert.Empty(t, got)
}
