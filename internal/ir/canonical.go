package ir

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// CanonicalName returns the sort key of a (class, port) dispatch entry.
// Both halves are NFC normalized so visually identical names registered
// from differently composed source strings resolve to the same key.
func CanonicalName(class, port string) string {
	return norm.NFC.String(class) + "." + norm.NFC.String(port)
}

// NormalizeName NFC-normalizes an element or class name.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// ValidateElementName checks that name can appear as one path segment.
func ValidateElementName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("element name is empty")
	case strings.ContainsAny(name, "/*"):
		return fmt.Errorf("element name %q contains a path separator or wildcard", name)
	case !norm.NFC.IsNormalString(name):
		return fmt.Errorf("element name %q is not NFC normalized", name)
	}
	return nil
}

// CompareCanonical orders canonical names by UTF-16 code units, the same
// order on every platform regardless of how the host sorts UTF-8 bytes.
func CompareCanonical(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
