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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildToken(t *testing.T) []byte {
	t.Helper()
	raw := make([]byte, AuthTokenSize)
	raw[0] = 1
	binary.LittleEndian.PutUint64(raw[1:9], 0x1111)
	binary.LittleEndian.PutUint64(raw[9:17], 0x2222)
	binary.LittleEndian.PutUint64(raw[17:25], 0x3333)
	binary.BigEndian.PutUint32(raw[25:29], uint32(AuthenticatorTypePassword))
	binary.BigEndian.PutUint64(raw[29:37], 0x4444)
	for i := 37; i < AuthTokenSize; i++ {
		raw[i] = byte(i)
	}
	return raw
}

func TestParseAuthToken(t *testing.T) {
	raw := buildToken(t)

	token, err := ParseAuthToken(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), token.Version)
	assert.Equal(t, uint64(0x1111), token.Challenge)
	assert.Equal(t, uint64(0x2222), token.UserID)
	assert.Equal(t, uint64(0x3333), token.AuthenticatorID)
	assert.Equal(t, AuthenticatorTypePassword, token.AuthenticatorType)
	assert.Equal(t, uint64(0x4444), token.Timestamp)
	assert.Equal(t, raw[37:], token.HMAC[:])
}

func TestParseAuthTokenWrongSize(t *testing.T) {
	for _, size := range []int{0, 1, AuthTokenSize - 1, AuthTokenSize + 1} {
		_, err := ParseAuthToken(make([]byte, size))
		assert.Error(t, err, "size %d", size)
	}
}

func TestUserSecureID(t *testing.T) {
	raw := buildToken(t)
	sid, err := UserSecureID(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2222), sid)

	_, err = UserSecureID(raw[:AuthTokenSize-1])
	assert.Error(t, err)
}
