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
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-keystorage/pkg/keymaster"
	"github.com/jeremyhahn/go-keystorage/pkg/keymaster/soft"
	"github.com/jeremyhahn/go-keystorage/pkg/logging"
	"github.com/jeremyhahn/go-keystorage/pkg/shred"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fast scrypt exponents so stretched-secret tests stay quick.
const testScryptParams = "12:2:1"

// fakeExecutor simulates the secure-erase and removal tools. The removal
// tool actually removes so destruction tests can observe the directory
// disappearing.
type fakeExecutor struct {
	calls          [][]string
	failSecdiscard bool
	failRemove     bool
}

func (e *fakeExecutor) Run(argv []string) error {
	call := make([]string, len(argv))
	copy(call, argv)
	e.calls = append(e.calls, call)
	switch filepath.Base(argv[0]) {
	case "secdiscard":
		if e.failSecdiscard {
			return fmt.Errorf("secdiscard exited with status 1")
		}
		return nil
	case "rm":
		if e.failRemove {
			return fmt.Errorf("rm exited with status 1")
		}
		return os.RemoveAll(argv[len(argv)-1])
	default:
		return fmt.Errorf("unexpected tool %s", argv[0])
	}
}

func (e *fakeExecutor) toolsRun() []string {
	tools := make([]string, 0, len(e.calls))
	for _, call := range e.calls {
		tools = append(tools, filepath.Base(call[0]))
	}
	return tools
}

// fakeKeymaster wraps the software module to inject pathological
// behavior.
type fakeKeymaster struct {
	keymaster.Keymaster
	upgradesBeforeBegin int
	alwaysUpgrade       bool
	deleteKeyErr        error
}

func (f *fakeKeymaster) Begin(purpose keymaster.Purpose, keyBlob []byte, params keymaster.BeginParams, op keymaster.OpParams) (keymaster.Operation, keymaster.OutParams, error) {
	if f.alwaysUpgrade {
		return nil, keymaster.OutParams{}, keymaster.ErrKeyRequiresUpgrade
	}
	if f.upgradesBeforeBegin > 0 {
		f.upgradesBeforeBegin--
		return nil, keymaster.OutParams{}, keymaster.ErrKeyRequiresUpgrade
	}
	return f.Keymaster.Begin(purpose, keyBlob, params, op)
}

func (f *fakeKeymaster) DeleteKey(keyBlob []byte) error {
	if f.deleteKeyErr != nil {
		return f.deleteKeyErr
	}
	return f.Keymaster.DeleteKey(keyBlob)
}

type testEnv struct {
	service  *Service
	km       *soft.Keymaster
	executor *fakeExecutor
}

func newTestEnv(t *testing.T, wrap func(keymaster.Keymaster) keymaster.Keymaster) *testEnv {
	t.Helper()
	rootKey := bytes.Repeat([]byte{0x42}, soft.RootKeySize)
	km, err := soft.New(rootKey)
	require.NoError(t, err)

	executor := &fakeExecutor{}
	service, err := New(&Config{
		Logger:       logging.NewNopLogger(),
		ScryptParams: testScryptParams,
		OpenKeymaster: func() (keymaster.Keymaster, error) {
			if wrap != nil {
				return wrap(km), nil
			}
			return km, nil
		},
		Shredder: shred.New(executor, "/usr/sbin/secdiscard", "/bin/rm"),
	})
	require.NoError(t, err)
	return &testEnv{service: service, km: km, executor: executor}
}

func keyDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "key")
}

// makeAuthToken builds a raw hardware auth token bound to the given user
// secure identifier.
func makeAuthToken(userID uint64) []byte {
	token := make([]byte, keymaster.AuthTokenSize)
	token[0] = 1
	binary.LittleEndian.PutUint64(token[9:17], userID)
	binary.BigEndian.PutUint32(token[25:29], uint32(keymaster.AuthenticatorTypePassword))
	return token
}

func TestAuthenticationUsesKeymaster(t *testing.T) {
	tests := []struct {
		name string
		auth Authentication
		want bool
	}{
		{"secret only is software", Authentication{Secret: []byte("pw")}, false},
		{"empty authentication is hardware", EmptyAuthentication, true},
		{"token is hardware", Authentication{Secret: []byte("pw"), Token: makeAuthToken(1)}, true},
		{"token without secret is hardware", Authentication{Token: makeAuthToken(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.auth.UsesKeymaster())
		})
	}
}

func TestStoreRetrieveSoftwarePath(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	auth := Authentication{Secret: []byte("pw1")}
	key := make([]byte, 32)

	require.NoError(t, env.service.Store(dir, auth, key))
	got, err := env.service.Retrieve(dir, auth)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// No hardware key blob for the software path.
	_, err = os.Stat(filepath.Join(dir, fnKeymasterKeyBlob))
	assert.True(t, os.IsNotExist(err))

	stretching, err := os.ReadFile(filepath.Join(dir, fnStretching))
	require.NoError(t, err)
	assert.Equal(t, StretchNone, string(stretching))
}

func TestStoreRetrieveHardwareNoAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	key := []byte("volume encryption key bytes here")

	require.NoError(t, env.service.Store(dir, EmptyAuthentication, key))
	got, err := env.service.Retrieve(dir, EmptyAuthentication)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	stretching, err := os.ReadFile(filepath.Join(dir, fnStretching))
	require.NoError(t, err)
	assert.Equal(t, StretchNoPassword, string(stretching))

	// nopassword needs no salt.
	_, err = os.Stat(filepath.Join(dir, fnSalt))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreRetrieveHardwareAuthToken(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	auth := Authentication{Secret: []byte("pw1"), Token: makeAuthToken(0xbeef)}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	require.NoError(t, env.service.Store(dir, auth, key))
	got, err := env.service.Retrieve(dir, auth)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	stretching, err := os.ReadFile(filepath.Join(dir, fnStretching))
	require.NoError(t, err)
	assert.Equal(t, "scrypt "+testScryptParams, string(stretching))

	salt, err := os.ReadFile(filepath.Join(dir, fnSalt))
	require.NoError(t, err)
	assert.Len(t, salt, saltBytes)

	secdiscardable, err := os.ReadFile(filepath.Join(dir, fnSecdiscardable))
	require.NoError(t, err)
	assert.Len(t, secdiscardable, secdiscardableBytes)
}

func TestRetrieveWrongSecretSoftware(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	require.NoError(t, env.service.Store(dir, Authentication{Secret: []byte("pw1")}, []byte("key")))

	_, err := env.service.Retrieve(dir, Authentication{Secret: []byte("pw2")})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestRetrieveWrongSecretHardware(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	auth := Authentication{Secret: []byte("pw1"), Token: makeAuthToken(7)}
	require.NoError(t, env.service.Store(dir, auth, []byte("key")))

	wrong := Authentication{Secret: []byte("pw2"), Token: makeAuthToken(7)}
	key, err := env.service.Retrieve(dir, wrong)
	require.Error(t, err)
	assert.Nil(t, key)
}

func TestRetrieveMissingAuthTokenHardware(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	auth := Authentication{Secret: []byte("pw1"), Token: makeAuthToken(7)}
	require.NoError(t, env.service.Store(dir, auth, []byte("key")))

	// A token is still required at retrieval; dropping it flips the
	// record to the software path and must not decrypt.
	_, err := env.service.Retrieve(dir, Authentication{Secret: []byte("pw1")})
	require.Error(t, err)
}

func TestVersionGate(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	auth := Authentication{Secret: []byte("pw1")}
	require.NoError(t, env.service.Store(dir, auth, []byte("key")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, fnVersion), []byte("2"), 0600))
	_, err := env.service.Retrieve(dir, auth)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestTamperedEncryptedKey(t *testing.T) {
	for _, hardware := range []bool{false, true} {
		name := "software"
		auth := Authentication{Secret: []byte("pw1")}
		if hardware {
			name = "hardware"
			auth = Authentication{Secret: []byte("pw1"), Token: makeAuthToken(3)}
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			dir := keyDir(t)
			require.NoError(t, env.service.Store(dir, auth, []byte("super secret key")))

			path := filepath.Join(dir, fnEncryptedKey)
			ciphertext, err := os.ReadFile(path)
			require.NoError(t, err)
			ciphertext[len(ciphertext)/2] ^= 0x01
			require.NoError(t, os.WriteFile(path, ciphertext, 0600))

			_, err = env.service.Retrieve(dir, auth)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestStretchingDeterminism(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	auth := Authentication{Secret: []byte("pw1"), Token: makeAuthToken(11)}
	key := []byte("deterministic key")
	require.NoError(t, env.service.Store(dir, auth, key))

	// A service configured with different live scrypt parameters must
	// still retrieve: the persisted policy governs.
	other, err := New(&Config{
		Logger:       logging.NewNopLogger(),
		ScryptParams: "13:3:1",
		OpenKeymaster: func() (keymaster.Keymaster, error) {
			return env.km, nil
		},
		Shredder: shred.New(env.executor, "", ""),
	})
	require.NoError(t, err)

	got, err := other.Retrieve(dir, auth)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestStoreExistingDirectoryFails(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	require.NoError(t, os.Mkdir(dir, 0700))

	err := env.service.Store(dir, Authentication{Secret: []byte("pw")}, []byte("key"))
	require.Error(t, err)
}

func TestStoreInvalidAuthTokenSize(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	auth := Authentication{Secret: []byte("pw"), Token: []byte("short token")}

	err := env.service.Store(dir, auth, []byte("key"))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestDestroySuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	require.NoError(t, env.service.Store(dir, EmptyAuthentication, []byte("key")))

	require.NoError(t, env.service.Destroy(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []string{"secdiscard", "rm"}, env.executor.toolsRun())
}

func TestDestroyBestEffortOnSecdiscardFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	require.NoError(t, env.service.Store(dir, EmptyAuthentication, []byte("key")))

	env.executor.failSecdiscard = true
	err := env.service.Destroy(dir)
	assert.ErrorIs(t, err, ErrDestroyIncomplete)

	// Directory removal is still attempted and completes.
	assert.Equal(t, []string{"secdiscard", "rm"}, env.executor.toolsRun())
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDestroyBestEffortOnHardwareDeleteFailure(t *testing.T) {
	env := newTestEnv(t, func(km keymaster.Keymaster) keymaster.Keymaster {
		return &fakeKeymaster{Keymaster: km, deleteKeyErr: fmt.Errorf("module busy")}
	})
	dir := keyDir(t)
	require.NoError(t, env.service.Store(dir, EmptyAuthentication, []byte("key")))

	err := env.service.Destroy(dir)
	assert.ErrorIs(t, err, ErrDestroyIncomplete)

	// Secure erase and removal still ran to completion.
	assert.Equal(t, []string{"secdiscard", "rm"}, env.executor.toolsRun())
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDestroySoftwareRecordReportsIncomplete(t *testing.T) {
	// A software record carries no hardware key blob, so the hardware
	// delete step fails and the aggregate result reflects it, while the
	// filesystem steps still run.
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	require.NoError(t, env.service.Store(dir, Authentication{Secret: []byte("pw")}, []byte("key")))

	err := env.service.Destroy(dir)
	assert.ErrorIs(t, err, ErrDestroyIncomplete)
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStoreNoKeymasterConfigured(t *testing.T) {
	service, err := New(&Config{
		Logger:       logging.NewNopLogger(),
		ScryptParams: testScryptParams,
	})
	require.NoError(t, err)

	dir := keyDir(t)
	err = service.Store(dir, EmptyAuthentication, []byte("key"))
	assert.ErrorIs(t, err, ErrNoKeymaster)
}

func TestNewRejectsInvalidScryptParams(t *testing.T) {
	_, err := New(&Config{ScryptParams: "not:valid:params"})
	assert.ErrorIs(t, err, ErrMalformedStretching)
}

func TestKeyUpgradeIdempotence(t *testing.T) {
	fake := &fakeKeymaster{}
	env := newTestEnv(t, func(km keymaster.Keymaster) keymaster.Keymaster {
		if fake.Keymaster == nil {
			fake.Keymaster = km
		}
		return fake
	})
	dir := keyDir(t)
	key := []byte("upgradable key")
	require.NoError(t, env.service.Store(dir, EmptyAuthentication, key))

	blobBefore, err := os.ReadFile(filepath.Join(dir, fnKeymasterKeyBlob))
	require.NoError(t, err)

	// One simulated "needs upgrade" on the next begin: exactly one blob
	// replacement, then success.
	fake.upgradesBeforeBegin = 1
	got, err := env.service.Retrieve(dir, EmptyAuthentication)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	blobAfter, err := os.ReadFile(filepath.Join(dir, fnKeymasterKeyBlob))
	require.NoError(t, err)
	assert.NotEqual(t, blobBefore, blobAfter)

	// No transient upgrade file left behind.
	_, err = os.Stat(filepath.Join(dir, fnKeymasterKeyBlobUpgraded))
	assert.True(t, os.IsNotExist(err))

	// Further retrievals do not replace the blob again.
	_, err = env.service.Retrieve(dir, EmptyAuthentication)
	require.NoError(t, err)
	blobFinal, err := os.ReadFile(filepath.Join(dir, fnKeymasterKeyBlob))
	require.NoError(t, err)
	assert.Equal(t, blobAfter, blobFinal)
}

func TestKeyUpgradeViaBlobFormatBump(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := keyDir(t)
	key := []byte("format bump key")
	require.NoError(t, env.service.Store(dir, EmptyAuthentication, key))

	// Raising the module's blob format makes the persisted blob stale;
	// retrieval upgrades it transparently.
	env.km.SetBlobFormat(2)
	got, err := env.service.Retrieve(dir, EmptyAuthentication)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestPermanentUpgradeDemandDoesNotCorruptState(t *testing.T) {
	fake := &fakeKeymaster{}
	env := newTestEnv(t, func(km keymaster.Keymaster) keymaster.Keymaster {
		if fake.Keymaster == nil {
			fake.Keymaster = km
		}
		return fake
	})
	dir := keyDir(t)
	key := []byte("liveness key")
	require.NoError(t, env.service.Store(dir, EmptyAuthentication, key))

	fake.alwaysUpgrade = true
	_, err := env.service.Retrieve(dir, EmptyAuthentication)
	assert.ErrorIs(t, err, ErrUpgradeLoop)

	// The persisted blob remains usable once the module behaves again.
	fake.alwaysUpgrade = false
	got, err := env.service.Retrieve(dir, EmptyAuthentication)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestCiphertextFraming(t *testing.T) {
	// Both paths persist nonce(12) || body || tag(16).
	for _, tt := range []struct {
		name string
		auth Authentication
	}{
		{"software", Authentication{Secret: []byte("pw")}},
		{"hardware", EmptyAuthentication},
	} {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			dir := keyDir(t)
			key := bytes.Repeat([]byte{0xaa}, 48)
			require.NoError(t, env.service.Store(dir, tt.auth, key))

			ciphertext, err := os.ReadFile(filepath.Join(dir, fnEncryptedKey))
			require.NoError(t, err)
			assert.Len(t, ciphertext, gcmNonceBytes+len(key)+gcmTagBytes)
		})
	}
}

func TestRetrieveMissingDirectory(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.service.Retrieve(filepath.Join(t.TempDir(), "absent"), EmptyAuthentication)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAuthenticationFailed))
}
