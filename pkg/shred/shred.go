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

// Package shred invokes the external secure-erase and recursive-removal
// tools used during key destruction. Tool execution is abstracted behind
// the Executor interface so destruction logic is testable with a fake.
package shred

import (
	"fmt"
	"os/exec"
)

const (
	// DefaultSecdiscardPath is the default secure-erase tool.
	DefaultSecdiscardPath = "/usr/sbin/secdiscard"

	// DefaultRemovePath is the default recursive removal tool.
	DefaultRemovePath = "/bin/rm"
)

// Executor runs an external command described by its argument list and
// reports only whether it exited successfully.
type Executor interface {
	Run(argv []string) error
}

// ExecExecutor is the production Executor backed by os/exec.
type ExecExecutor struct{}

// Run executes argv[0] with the remaining arguments and waits for it.
func (e *ExecExecutor) Run(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("shred: empty argument list")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shred: %s failed: %w", argv[0], err)
	}
	return nil
}

// Shredder drives the external destruction tools.
type Shredder struct {
	executor       Executor
	secdiscardPath string
	removePath     string
}

// New creates a Shredder using the given executor and tool paths. Empty
// paths fall back to the defaults.
func New(executor Executor, secdiscardPath, removePath string) *Shredder {
	if secdiscardPath == "" {
		secdiscardPath = DefaultSecdiscardPath
	}
	if removePath == "" {
		removePath = DefaultRemovePath
	}
	return &Shredder{
		executor:       executor,
		secdiscardPath: secdiscardPath,
		removePath:     removePath,
	}
}

// NewDefault creates a Shredder with the production executor and default
// tool paths.
func NewDefault() *Shredder {
	return New(&ExecExecutor{}, "", "")
}

// SecureDiscard securely overwrites and removes the given files,
// best-effort, via the secure-erase tool.
func (s *Shredder) SecureDiscard(paths ...string) error {
	argv := append([]string{s.secdiscardPath, "--"}, paths...)
	if err := s.executor.Run(argv); err != nil {
		return fmt.Errorf("shred: secdiscard failed: %w", err)
	}
	return nil
}

// RemoveRecursive removes the directory tree rooted at dir.
func (s *Shredder) RemoveRecursive(dir string) error {
	if err := s.executor.Run([]string{s.removePath, "-rf", dir}); err != nil {
		return fmt.Errorf("shred: recursive delete failed: %w", err)
	}
	return nil
}
