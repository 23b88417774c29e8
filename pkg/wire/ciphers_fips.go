//go:build fips
// +build fips

// This file is compiled when the "fips" build tag is specified. In
// restricted mode, only FIPS 140-3 approved cipher suites are available.
package wire

import "github.com/corvidnet/reliant/internal/constants"

// SupportedCipherSuites returns the cipher suites supported in restricted mode.
// Only AES-256-GCM is available, as it is FIPS 140-3 approved.
func SupportedCipherSuites() []constants.CipherSuite {
	return []constants.CipherSuite{constants.CipherSuiteAES256GCM}
}

// PreferredCipherSuite returns the preferred cipher suite for new sessions.
// In restricted mode, AES-256-GCM is the only option.
func PreferredCipherSuite() constants.CipherSuite {
	return constants.CipherSuiteAES256GCM
}
