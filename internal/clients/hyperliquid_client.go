package clients

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// HyperliquidMainnetURL is used when no base url is configured.
const HyperliquidMainnetURL = "https://api.hyperliquid.xyz"

// HyperliquidClient is an authenticated Hyperliquid exchange client together
// with the account address derived from its key.
type HyperliquidClient struct {
	exchange    *hyperliquid.Exchange
	accountAddr string
}

func NewHyperliquidClient(privateKeyHex, baseURL string) (*HyperliquidClient, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"), "0X")
	if key == "" {
		return nil, errors.New("hyperliquid private key is empty")
	}
	if baseURL == "" {
		baseURL = HyperliquidMainnetURL
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "parse hyperliquid private key")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("error casting public key to ECDSA")
	}
	accountAddr := crypto.PubkeyToAddress(*pub).Hex()

	// Info and SpotMeta are fetched lazily by the SDK
	ex := hyperliquid.NewExchange(
		context.Background(),
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)

	return &HyperliquidClient{exchange: ex, accountAddr: accountAddr}, nil
}

// NewPublicHyperliquidClient creates a client signed by a throwaway key. It
// serves public market data; orders placed through it would belong to an
// empty account.
func NewPublicHyperliquidClient(baseURL string) (*HyperliquidClient, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate hyperliquid key")
	}

	return NewHyperliquidClient(hex.EncodeToString(crypto.FromECDSA(privateKey)), baseURL)
}

func (c *HyperliquidClient) Exchange() *hyperliquid.Exchange { return c.exchange }
func (c *HyperliquidClient) AccountAddress() string          { return c.accountAddr }
