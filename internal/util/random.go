// Package util holds small helpers shared across ZapFlow packages.
package util

import "math/rand/v2"

const hexDigits = "0123456789abcdef"

// RandomHex returns n random lowercase hex characters. Not suitable for
// cryptographic use.
func RandomHex(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = hexDigits[rand.IntN(len(hexDigits))]
	}
	return string(buf)
}

// RandomID returns the prefix followed by n random hex characters.
func RandomID(prefix string, n int) string {
	return prefix + RandomHex(n)
}

// SimulationID returns a fresh simulation session identifier.
func SimulationID() string {
	return RandomID("sim_", 32)
}
