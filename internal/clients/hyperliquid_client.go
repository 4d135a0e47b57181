package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// HyperliquidClient gives access to the Hyperliquid info endpoints.
type HyperliquidClient struct {
	exchange    *hyperliquid.Exchange
	accountAddr string
}

// NewHyperliquidClient builds a client from a hex private key.
// Quotes only need public info, so an empty key gets a throwaway one.
func NewHyperliquidClient(privateKeyHex string, baseURL string) (*HyperliquidClient, error) {
	privateKey, err := loadOrGenerateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	pub := privateKey.Public()
	pubECDSA, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	accountAddr := crypto.PubkeyToAddress(*pubECDSA).Hex()

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

func loadOrGenerateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	if privateKeyHex == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, errors.Wrap(err, "generate read-only hyperliquid key")
		}
		return key, nil
	}

	key := privateKeyHex
	if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
		key = key[2:]
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "decode hyperliquid private key")
	}
	return privateKey, nil
}

// Info returns the public info API.
func (c *HyperliquidClient) Info() *hyperliquid.Info { return c.exchange.Info() }

// AccountAddress returns the address derived from the key.
func (c *HyperliquidClient) AccountAddress() string { return c.accountAddr }
