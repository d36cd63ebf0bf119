// internal/chains/tron/address.go
package tron

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
)

const tronAddressPrefix = 0x41

// NormalizeAddress returns the base58 form of a TRON address given as
// base58, 41-prefixed hex, or 0x-prefixed 20-byte hex (as events report it).
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}

	if strings.HasPrefix(addr, "T") {
		parsed, err := address.Base58ToAddress(addr)
		if err != nil {
			return "", fmt.Errorf("invalid TRON address %s: %w", addr, err)
		}
		return parsed.String(), nil
	}

	raw := common.FromHex(addr)
	switch {
	case len(raw) == 20:
		raw = append([]byte{tronAddressPrefix}, raw...)
	case len(raw) == 21 && raw[0] == tronAddressPrefix:
	default:
		return "", fmt.Errorf("invalid TRON address %s", addr)
	}
	return address.Address(raw).String(), nil
}

// SameAddress compares two addresses in any supported encoding,
// ignoring case.
func SameAddress(a, b string) bool {
	na, errA := NormalizeAddress(a)
	nb, errB := NormalizeAddress(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return strings.EqualFold(na, nb)
}
