package datasource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deepsense-ai/deepsense/pkg/config"
)

const defaultJupiterURL = "https://lite-api.jup.ag"

// JupiterSource wraps the Jupiter aggregator APIs for Solana token swaps and
// discovery. All methods register under the jupiter_ag_apis tool.
type JupiterSource struct {
	*RESTSource
}

func NewJupiterSource(cfg *config.DatasourceConfig) *JupiterSource {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultJupiterURL
	}
	return &JupiterSource{
		RESTSource: NewRESTSource("jupiter", baseURL, "",
			time.Duration(cfg.TimeoutSeconds)*time.Second,
			map[string]string{"Content-Type": "application/json"}),
	}
}

func (s *JupiterSource) Methods() []Method {
	const toolName = "jupiter_ag_apis"

	queryParams := objectSchema([]string{"query"}, map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Symbol, name, or mint address to search for.",
		},
	})

	return []Method{
		{
			Name:        "get_quote",
			ToolName:    toolName,
			Description: "Get the best possible quote for a token swap, aggregating liquidity across Solana DEXes.",
			UserAction:  true,
			Parameters: objectSchema([]string{"input_mint", "output_mint", "amount"}, map[string]interface{}{
				"input_mint": map[string]interface{}{
					"type":        "string",
					"description": "Mint address of the token to swap from.",
				},
				"output_mint": map[string]interface{}{
					"type":        "string",
					"description": "Mint address of the token to swap to.",
				},
				"amount": map[string]interface{}{
					"type":        "integer",
					"description": "Amount in the input token's smallest unit.",
				},
				"slippage_bps": map[string]interface{}{
					"type":        "integer",
					"description": "Allowed slippage in basis points.",
				},
				"swap_mode": map[string]interface{}{
					"type": "string",
					"enum": []string{"ExactIn", "ExactOut"},
				},
			}),
			Invoke: s.getQuote,
		},
		{
			Name:        "search_tokens",
			ToolName:    toolName,
			Description: "Search for tokens by symbol, name, or mint address.",
			Parameters:  queryParams,
			Invoke:      s.searchTokens,
		},
		{
			Name:        "get_verified_tokens",
			ToolName:    toolName,
			Description: "Search for verified tokens only, filtering out potential scam tokens.",
			Parameters:  queryParams,
			Invoke:      s.getVerifiedTokens,
		},
		{
			Name:        "get_token_by_symbol",
			ToolName:    toolName,
			Description: "Get token information by symbol, e.g. 'USDC' or 'SOL'.",
			Parameters: objectSchema([]string{"symbol"}, map[string]interface{}{
				"symbol": map[string]interface{}{
					"type":        "string",
					"description": "Token symbol.",
				},
			}),
			Invoke: s.getTokenBySymbol,
		},
		{
			Name:        "get_popular_tokens",
			ToolName:    toolName,
			Description: "Get a list of popular verified tokens.",
			Parameters:  objectSchema(nil, map[string]interface{}{}),
			Invoke:      s.getPopularTokens,
		},
	}
}

func (s *JupiterSource) getQuote(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	inputMint, err := stringArg(args, "input_mint")
	if err != nil {
		return nil, err
	}
	outputMint, err := stringArg(args, "output_mint")
	if err != nil {
		return nil, err
	}
	amount := intArgDefault(args, "amount", 0)
	if amount <= 0 {
		return nil, fmt.Errorf("argument 'amount' must be a positive integer")
	}

	params := map[string]string{
		"inputMint":                  inputMint,
		"outputMint":                 outputMint,
		"amount":                     strconv.Itoa(amount),
		"swapMode":                   stringArgDefault(args, "swap_mode", "ExactIn"),
		"restrictIntermediateTokens": "true",
	}
	if slippage := intArgDefault(args, "slippage_bps", 0); slippage > 0 {
		params["slippageBps"] = strconv.Itoa(slippage)
	}

	quote, err := s.Get(ctx, "/swap/v1/quote", params)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"data":        quote,
		"action_type": "swap_quote",
	}, nil
}

func (s *JupiterSource) searchTokens(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	return s.search(ctx, query)
}

func (s *JupiterSource) getVerifiedTokens(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}

	result, err := s.search(ctx, query)
	if err != nil {
		return nil, err
	}

	var verified []interface{}
	for _, item := range tokenList(result) {
		token, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if isVerified, _ := token["isVerified"].(bool); isVerified {
			verified = append(verified, token)
		}
	}
	return map[string]interface{}{"data": verified}, nil
}

func (s *JupiterSource) getTokenBySymbol(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	symbol, err := stringArg(args, "symbol")
	if err != nil {
		return nil, err
	}
	return s.search(ctx, symbol)
}

func (s *JupiterSource) getPopularTokens(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return s.search(ctx, strings.Join([]string{"SOL", "USDC", "USDT", "BTC", "ETH"}, ","))
}

func (s *JupiterSource) search(ctx context.Context, query string) (interface{}, error) {
	return s.Get(ctx, "/tokens/v2/search", map[string]string{"query": query})
}

func tokenList(result interface{}) []interface{} {
	switch v := result.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		if data, ok := v["data"].([]interface{}); ok {
			return data
		}
		return []interface{}{v}
	default:
		return nil
	}
}
