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

// Package rand provides the random source consumed by the key storage
// protocol. The source is an interface so tests can supply deterministic
// or failing generators; production code uses the software source backed
// by crypto/rand.
package rand

import (
	"crypto/rand"
	"fmt"
)

// Source produces cryptographically secure random bytes.
type Source interface {
	// ReadRandom returns exactly n random bytes or an error.
	ReadRandom(n int) ([]byte, error)
}

// softwareSource implements Source using the operating system CSPRNG.
type softwareSource struct{}

// NewSoftwareSource returns a Source backed by crypto/rand.
func NewSoftwareSource() Source {
	return &softwareSource{}
}

// ReadRandom returns exactly n random bytes from the system CSPRNG.
func (s *softwareSource) ReadRandom(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("rand: invalid random byte count %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("rand: read failed: %w", err)
	}
	return buf, nil
}
