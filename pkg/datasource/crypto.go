package datasource

import (
	"context"
	"time"

	"github.com/deepsense-ai/deepsense/pkg/config"
)

const defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CryptoSource serves cryptocurrency prices from CoinGecko. Both methods
// register under the crypto_data tool and unify there.
type CryptoSource struct {
	*RESTSource
}

func NewCryptoSource(cfg *config.DatasourceConfig) *CryptoSource {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	return &CryptoSource{
		RESTSource: NewRESTSource("crypto", baseURL, "",
			time.Duration(cfg.TimeoutSeconds)*time.Second,
			map[string]string{"Accept": "application/json"}),
	}
}

func (s *CryptoSource) Methods() []Method {
	priceParams := objectSchema([]string{"coin_id"}, map[string]interface{}{
		"coin_id": map[string]interface{}{
			"type":        "string",
			"description": "CoinGecko coin identifier, e.g. 'solana' or 'bitcoin'.",
		},
		"vs_currency": map[string]interface{}{
			"type":        "string",
			"description": "Quote currency. Defaults to 'usd'.",
		},
	})

	return []Method{
		{
			Name:        "get_coin_price",
			ToolName:    "crypto_data",
			Description: "Get the current price of a cryptocurrency.",
			Parameters:  priceParams,
			Invoke:      s.getCoinPrice,
		},
		{
			Name:        "get_coin_quote",
			ToolName:    "crypto_data",
			Description: "Get a price quote recorded as a user-facing action.",
			UserAction:  true,
			Parameters:  priceParams,
			Invoke:      s.getCoinQuote,
		},
	}
}

func (s *CryptoSource) getCoinPrice(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	coinID, err := stringArg(args, "coin_id")
	if err != nil {
		return nil, err
	}
	vsCurrency := stringArgDefault(args, "vs_currency", "usd")

	return s.Get(ctx, "/simple/price", map[string]string{
		"ids":           coinID,
		"vs_currencies": vsCurrency,
	})
}

func (s *CryptoSource) getCoinQuote(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	data, err := s.getCoinPrice(ctx, args)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"data":        data,
		"action_type": "price_quote",
	}, nil
}
