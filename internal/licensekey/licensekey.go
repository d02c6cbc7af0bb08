// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package licensekey generates the human-facing license key strings.
//
// A key looks like CLPB-<millis base36>-<random hex>, uppercased. Keys are
// opaque once generated; only the prefix may be inspected.
package licensekey

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clipbrd/clipbrd/internal/security"
)

const (
	Prefix = "CLPB"

	// MinLength is the lower bound every generated key satisfies.
	MinLength = 10

	randomBytes = 16
	maxAttempts = 8
)

// Generator builds keys. Now and Random are replaceable for tests.
type Generator struct {
	Now    func() time.Time
	Random func(n int) (string, error)
}

// NewGenerator returns a generator backed by the wall clock and crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		Now:    time.Now,
		Random: security.SecureToken,
	}
}

// Generate returns a new key, regenerating until it reaches MinLength.
func (g *Generator) Generate() (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		random, err := g.Random(randomBytes)
		if err != nil {
			return "", fmt.Errorf("failed to generate key material: %w", err)
		}

		timestamp := strconv.FormatInt(g.Now().UnixMilli(), 36)
		key := strings.ToUpper(Prefix + "-" + timestamp + "-" + random)
		if len(key) >= MinLength {
			return key, nil
		}
	}
	return "", fmt.Errorf("failed to generate license key of at least %d characters", MinLength)
}

// Generate uses the default generator.
func Generate() (string, error) {
	return NewGenerator().Generate()
}

// HasPrefix is a cheap format check run before any hash comparison.
func HasPrefix(key string) bool {
	return strings.HasPrefix(key, Prefix+"-")
}

// LooksValid checks prefix, length and alphabet. It does not prove the key
// was issued by us.
func LooksValid(key string) bool {
	if len(key) < MinLength || !HasPrefix(key) {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
