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
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// StretchNone uses the secret verbatim as stretched material.
	StretchNone = "none"

	// StretchNoPassword ignores the secret and produces empty stretched
	// material. Chosen for hardware-bound keys with no secret.
	StretchNoPassword = "nopassword"

	stretchPrefixScrypt = "scrypt "
)

// DefaultScryptParams is the scrypt cost exponent string used when no
// parameter source is configured: N=2^15, r=2^3, p=2^1.
const DefaultScryptParams = "15:3:1"

// chooseStretching selects the stretching policy for an authentication
// factor. scryptParams is the configured cost exponent string, captured
// verbatim into the returned policy string: the persisted policy, not
// the live configuration, governs retrieval.
func chooseStretching(auth Authentication, scryptParams string) string {
	if !auth.UsesKeymaster() {
		return StretchNone
	}
	if len(auth.Secret) == 0 {
		return StretchNoPassword
	}
	return stretchPrefixScrypt + scryptParams
}

// stretchingNeedsSalt reports whether the policy consumes a salt.
func stretchingNeedsSalt(stretching string) bool {
	return stretching != StretchNoPassword && stretching != StretchNone
}

// stretchSecret converts the secret into stretched key material per the
// persisted stretching policy.
func (s *Service) stretchSecret(stretching string, secret, salt []byte) ([]byte, error) {
	switch {
	case stretching == StretchNoPassword:
		if len(secret) != 0 {
			// The secret is discarded under this policy; flagged for
			// product-level review.
			s.logger.Warn("password present but stretching is nopassword")
		}
		return nil, nil
	case stretching == StretchNone:
		return secret, nil
	case strings.HasPrefix(stretching, stretchPrefixScrypt):
		nf, rf, pf, err := parseScryptParams(stretching[len(stretchPrefixScrypt):])
		if err != nil {
			s.logger.Errorf("unable to parse scrypt params in stretching %q: %v", stretching, err)
			return nil, err
		}
		stretched, err := scrypt.Key(secret, salt, 1<<nf, 1<<rf, 1<<pf, stretchedBytes)
		if err != nil {
			s.logger.Errorf("scrypt failed with params %q: %v", stretching, err)
			return nil, fmt.Errorf("%w: scrypt: %v", ErrCryptoFailure, err)
		}
		return stretched, nil
	default:
		s.logger.Errorf("unknown stretching type: %q", stretching)
		return nil, fmt.Errorf("%w: %q", ErrUnknownStretching, stretching)
	}
}

// parseScryptParams parses three colon-separated base-2 cost exponents.
func parseScryptParams(params string) (nf, rf, pf int, err error) {
	fields := strings.Split(params, ":")
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrMalformedStretching, params)
	}
	exps := make([]int, 3)
	for i, field := range fields {
		v, convErr := strconv.Atoi(field)
		if convErr != nil || v <= 0 || v >= 32 {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrMalformedStretching, params)
		}
		exps[i] = v
	}
	return exps[0], exps[1], exps[2], nil
}

// ValidateScryptParams checks a configured cost exponent string before it
// is captured into stored records.
func ValidateScryptParams(params string) error {
	_, _, _, err := parseScryptParams(params)
	return err
}

// generateAppID derives the application identity binding every key
// operation to the per-directory secdiscardable token and the stretched
// secret.
func (s *Service) generateAppID(auth Authentication, stretching string, salt, secdiscardable []byte) ([]byte, error) {
	stretched, err := s.stretchSecret(stretching, auth.Secret, salt)
	if err != nil {
		return nil, err
	}
	return append(hashWithPrefix(hashPrefixSecdiscardable, secdiscardable), stretched...), nil
}
