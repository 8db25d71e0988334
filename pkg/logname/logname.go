// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

/*
Package logname normalizes account login names.

Login names arrive from directory imports, manual entry, and legacy systems
with inconsistent casing and Unicode forms. Normalizing once at the boundary
means visually identical logins collide at creation time instead of at
support time.

Rules:

  - NFKC normalization folds compatibility variants (full-width forms, ligatures).
  - Case folding makes lookups case-insensitive.
  - Surrounding whitespace is trimmed.
*/
package logname

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of a login name.
//
// A fresh Caser per call: Caser carries internal state and must not be
// shared across goroutines.
func Normalize(login string) string {
	trimmed := strings.TrimSpace(login)
	return cases.Fold().String(norm.NFKC.String(trimmed))
}

// Equal reports whether two login names are identical after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
