package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalName_NFC(t *testing.T) {
	// "é" precomposed vs "e" + combining acute
	composed := CanonicalName("Caf\u00e9", "in")
	decomposed := CanonicalName("Cafe\u0301", "in")
	assert.Equal(t, composed, decomposed)
	assert.Equal(t, "Caf\u00e9.in", composed)
}

func TestCompareCanonical(t *testing.T) {
	assert.Equal(t, 0, CompareCanonical("a.b", "a.b"))
	assert.Equal(t, -1, CompareCanonical("a.b", "a.c"))
	assert.Equal(t, 1, CompareCanonical("b", "a.z"))
	assert.Equal(t, -1, CompareCanonical("a", "a.b"), "prefix sorts first")
}

func TestCompareCanonical_UTF16Order(t *testing.T) {
	// U+FF61 is one code unit; U+1F600 is a surrogate pair starting 0xD83D.
	// UTF-8 byte order puts U+FF61 first; UTF-16 order puts the emoji first.
	assert.Equal(t, -1, CompareCanonical("\U0001F600", "\uFF61"))
}

func TestValidateElementName(t *testing.T) {
	assert.NoError(t, ValidateElementName("soma"))
	assert.Error(t, ValidateElementName(""))
	assert.Error(t, ValidateElementName("a/b"))
	assert.Error(t, ValidateElementName("a*"))
	assert.Error(t, ValidateElementName("Cafe\u0301"))
}
