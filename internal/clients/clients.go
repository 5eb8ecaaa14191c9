// Package clients builds the vendor SDK clients from credentials.
package clients

import (
	"os"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// Credentials holds exchange secrets. They are read from the environment
// and never written to bot or deal records.
type Credentials struct {
	BinanceAPIKey         string
	BinanceAPISecret      string
	BybitAPIKey           string
	BybitAPISecret        string
	HyperliquidPrivateKey string
	HyperliquidBaseURL    string
}

// CredentialsFromEnv reads credentials from the process environment.
func CredentialsFromEnv() Credentials {
	return Credentials{
		BinanceAPIKey:         os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:      os.Getenv("BINANCE_API_SECRET"),
		BybitAPIKey:           os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:        os.Getenv("BYBIT_API_SECRET"),
		HyperliquidPrivateKey: os.Getenv("HYPERLIQUID_PRIVATE_KEY"),
		HyperliquidBaseURL:    os.Getenv("HYPERLIQUID_BASE_URL"),
	}
}

func NewBinanceClient(apiKey, apiSecret string) (*binance.Client, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" {
		return nil, errors.Wrap(domain.ErrConfig, "BINANCE_API_KEY and BINANCE_API_SECRET must be set")
	}

	return binance.NewClient(apiKey, apiSecret), nil
}

// NewPublicBinanceClient creates a client without API keys for public
// market data only.
func NewPublicBinanceClient() *binance.Client {
	return binance.NewClient("", "")
}

func NewBybitClient(apiKey, apiSecret string) (*bybit.Client, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" {
		return nil, errors.Wrap(domain.ErrConfig, "BYBIT_API_KEY and BYBIT_API_SECRET must be set")
	}

	return bybit.NewClient().WithAuth(apiKey, apiSecret), nil
}

// NewPublicBybitClient creates a client for public market data only.
func NewPublicBybitClient() *bybit.Client {
	return bybit.NewClient()
}
