package util

import "strings"

// addressPrefix and addressLength describe the pool's account address
// shape: "aleo1" followed by a bech32m payload, 63 characters total.
const (
	addressPrefix = "aleo1"
	addressLength = 63
	bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// AccountAddress is a validated, opaque prover/payee identifier. Its
// cryptographic checksum is never verified here; that belongs to the
// external verifier. This only enforces the wire shape so malformed
// addresses fail fast at Authorize time instead of at payout time.
type AccountAddress string

// ParseAccountAddress validates s and returns it as an AccountAddress.
func ParseAccountAddress(s string) (AccountAddress, bool) {
	if !ValidateAccountAddress(s) {
		return "", false
	}
	return AccountAddress(s), true
}

// ValidateAccountAddress reports whether addr has the pool's address shape:
// the "aleo1" prefix followed by bech32 charset characters, 63 in total.
func ValidateAccountAddress(addr string) bool {
	if !strings.HasPrefix(addr, addressPrefix) {
		return false
	}
	if len(addr) != addressLength {
		return false
	}
	for _, c := range addr[len(addressPrefix):] {
		if !strings.ContainsRune(bech32Charset, c) {
			return false
		}
	}
	return true
}

func (a AccountAddress) String() string {
	return string(a)
}
