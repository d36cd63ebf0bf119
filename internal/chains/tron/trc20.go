// internal/chains/tron/trc20.go
package tron

import "strings"

// USDT contract addresses
const (
	USDTContractMainnet = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t" // USDT on mainnet
	USDTContractShasta  = "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs" // USDT on testnet (Shasta)
	USDTContractNile    = "TXLAQ63Xg1NAzckPwKHvzw7CSEmLMEqcdj" // USDT on testnet (Nile)

	USDTDecimals = 6
)

// GetUSDTContract returns USDT contract address for network
func GetUSDTContract(network string) string {
	switch strings.ToLower(network) {
	case "shasta":
		return USDTContractShasta
	case "nile":
		return USDTContractNile
	default:
		return USDTContractMainnet
	}
}

// GetAPIURL returns the TronGrid endpoint for network
func GetAPIURL(network string) string {
	switch strings.ToLower(network) {
	case "shasta":
		return "https://api.shasta.trongrid.io"
	case "nile":
		return "https://nile.trongrid.io"
	default:
		return "https://api.trongrid.io"
	}
}
