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

package shred

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	calls [][]string
	err   error
}

func (e *recordingExecutor) Run(argv []string) error {
	call := make([]string, len(argv))
	copy(call, argv)
	e.calls = append(e.calls, call)
	return e.err
}

func TestSecureDiscardArguments(t *testing.T) {
	exec := &recordingExecutor{}
	s := New(exec, "/sbin/secdiscard", "/bin/rm")

	require.NoError(t, s.SecureDiscard("/keys/a/encrypted_key", "/keys/a/secdiscardable"))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{
		"/sbin/secdiscard", "--",
		"/keys/a/encrypted_key", "/keys/a/secdiscardable",
	}, exec.calls[0])
}

func TestRemoveRecursiveArguments(t *testing.T) {
	exec := &recordingExecutor{}
	s := New(exec, "", "")

	require.NoError(t, s.RemoveRecursive("/keys/a"))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{DefaultRemovePath, "-rf", "/keys/a"}, exec.calls[0])
}

func TestDefaultToolPaths(t *testing.T) {
	exec := &recordingExecutor{}
	s := New(exec, "", "")

	require.NoError(t, s.SecureDiscard("/keys/a/secdiscardable"))
	assert.Equal(t, DefaultSecdiscardPath, exec.calls[0][0])
}

func TestToolFailurePropagates(t *testing.T) {
	exec := &recordingExecutor{err: fmt.Errorf("exit status 1")}
	s := New(exec, "", "")

	assert.Error(t, s.SecureDiscard("/keys/a/secdiscardable"))
	assert.Error(t, s.RemoveRecursive("/keys/a"))
}

func TestExecExecutorRejectsEmptyArgv(t *testing.T) {
	assert.Error(t, (&ExecExecutor{}).Run(nil))
}
