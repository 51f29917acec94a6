package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint(DomainDispatchTable, "Relay.in", "f64")
	b := Fingerprint(DomainDispatchTable, "Relay.in", "f64")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "SHA3-256 hex is 64 characters")
}

func TestFingerprint_Separators(t *testing.T) {
	assert.NotEqual(t,
		Fingerprint(DomainDispatchTable, "ab", "c"),
		Fingerprint(DomainDispatchTable, "a", "bc"))
	assert.NotEqual(t,
		Fingerprint("other/v1", "x"),
		Fingerprint(DomainDispatchTable, "x"))
}
