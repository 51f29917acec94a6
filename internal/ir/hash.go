package ir

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// DomainDispatchTable prefixes dispatch table fingerprints.
const DomainDispatchTable = "substrate/dispatch/v1"

// Fingerprint hashes parts under a domain prefix.
// Format: SHA3-256(domain + 0x00 + part0 + 0x00 + part1 ...)
// The separators keep ("ab","c") and ("a","bc") distinct.
func Fingerprint(domain string, parts ...string) string {
	h := sha3.New256()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DomainDump prefixes field dump digests.
const DomainDump = "substrate/dump/v1"
