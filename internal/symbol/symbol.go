// Package symbol maps exchange trading-pair symbols to storage identifiers and back.
//
// Storage identifiers are SQLite table names. A symbol may start with a digit
// (e.g. "1000SATSUSDT"), which is not a valid bare identifier, so such symbols
// are prefixed with an underscore. The mapping is a bijection over valid symbols.
package symbol

import (
	"fmt"
	"strings"

	"klineCrawler/internal/ports"
)

const storagePrefix = "_"

// Clean trims and upper-cases a user supplied symbol.
func Clean(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate reports whether s is a plain alphanumeric exchange symbol.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty symbol", ports.ErrInvalidSymbol)
	}
	for _, r := range s {
		if !isAlnum(r) {
			return fmt.Errorf("%w: %q contains %q", ports.ErrInvalidSymbol, s, r)
		}
	}
	return nil
}

// Normalize converts an exchange symbol into a storage-safe identifier.
func Normalize(s string) (string, error) {
	s = Clean(s)
	if err := Validate(s); err != nil {
		return "", err
	}
	if s[0] >= '0' && s[0] <= '9' {
		return storagePrefix + s, nil
	}
	return s, nil
}

// Denormalize converts a storage identifier back into the exchange symbol.
// Exchange symbols pass through unchanged, so it is safe to call on either form.
func Denormalize(id string) string {
	if len(id) > 1 && strings.HasPrefix(id, storagePrefix) && id[1] >= '0' && id[1] <= '9' {
		return id[1:]
	}
	return id
}

// IsStorageID reports whether id could have been produced by Normalize.
func IsStorageID(id string) bool {
	n, err := Normalize(Denormalize(id))
	return err == nil && n == id
}

func isAlnum(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
