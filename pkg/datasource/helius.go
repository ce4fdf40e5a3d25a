package datasource

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/deepsense-ai/deepsense/pkg/config"
)

const (
	defaultHeliusRESTURL = "https://api.helius.xyz/v0"
	defaultHeliusRPCURL  = "https://mainnet.helius-rpc.com"
)

// HeliusSource serves Solana chain data through the Helius enhanced REST API
// and the Solana JSON-RPC endpoint. All methods register under helius_data.
type HeliusSource struct {
	*RESTSource
	apiKey string
}

func NewHeliusSource(cfg *config.DatasourceConfig) *HeliusSource {
	restURL := cfg.BaseURL
	if restURL == "" {
		restURL = defaultHeliusRESTURL
	}
	return &HeliusSource{
		RESTSource: NewRESTSource("helius", restURL,
			fmt.Sprintf("%s/?api-key=%s", defaultHeliusRPCURL, cfg.APIKey),
			time.Duration(cfg.TimeoutSeconds)*time.Second,
			map[string]string{"Content-Type": "application/json"}),
		apiKey: cfg.APIKey,
	}
}

func (s *HeliusSource) Methods() []Method {
	const toolName = "helius_data"

	addressParams := objectSchema([]string{"address"}, map[string]interface{}{
		"address": map[string]interface{}{
			"type":        "string",
			"description": "Solana account address (base58).",
		},
	})

	return []Method{
		{
			Name:        "get_balance",
			ToolName:    toolName,
			Description: "Get the SOL balance of an address in lamports.",
			Parameters:  addressParams,
			Invoke:      s.getBalance,
		},
		{
			Name:        "get_account_info",
			ToolName:    toolName,
			Description: "Get parsed account info for an address.",
			Parameters:  addressParams,
			Invoke:      s.getAccountInfo,
		},
		{
			Name:        "get_token_accounts",
			ToolName:    toolName,
			Description: "List SPL token accounts owned by an address.",
			Parameters:  addressParams,
			Invoke:      s.getTokenAccounts,
		},
		{
			Name:        "get_transaction_history",
			ToolName:    toolName,
			Description: "Get recent transaction signatures for an address.",
			Parameters: objectSchema([]string{"address"}, map[string]interface{}{
				"address": map[string]interface{}{
					"type":        "string",
					"description": "Solana account address (base58).",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum signatures to return. Defaults to 100.",
				},
			}),
			Invoke: s.getTransactionHistory,
		},
		{
			Name:        "get_enhanced_transactions",
			ToolName:    toolName,
			Description: "Get human-readable enhanced transactions for an address.",
			Parameters: objectSchema([]string{"address"}, map[string]interface{}{
				"address": map[string]interface{}{
					"type":        "string",
					"description": "Solana account address (base58).",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum transactions to return. Defaults to 100.",
				},
			}),
			Invoke: s.getEnhancedTransactions,
		},
		{
			Name:        "get_asset",
			ToolName:    toolName,
			Description: "Get token or NFT metadata by mint address.",
			Parameters: objectSchema([]string{"mint_address"}, map[string]interface{}{
				"mint_address": map[string]interface{}{
					"type":        "string",
					"description": "Mint address of the asset.",
				},
			}),
			Invoke: s.getAsset,
		},
	}
}

func (s *HeliusSource) getBalance(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	address, err := stringArg(args, "address")
	if err != nil {
		return nil, err
	}
	return s.RPC(ctx, "getBalance", []interface{}{address})
}

func (s *HeliusSource) getAccountInfo(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	address, err := stringArg(args, "address")
	if err != nil {
		return nil, err
	}
	return s.RPC(ctx, "getAccountInfo", []interface{}{
		address,
		map[string]interface{}{"encoding": "jsonParsed"},
	})
}

func (s *HeliusSource) getTokenAccounts(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	address, err := stringArg(args, "address")
	if err != nil {
		return nil, err
	}
	return s.RPC(ctx, "getTokenAccountsByOwner", []interface{}{
		address,
		map[string]interface{}{"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"},
		map[string]interface{}{"encoding": "jsonParsed"},
	})
}

func (s *HeliusSource) getTransactionHistory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	address, err := stringArg(args, "address")
	if err != nil {
		return nil, err
	}
	limit := intArgDefault(args, "limit", 100)
	return s.RPC(ctx, "getSignaturesForAddress", []interface{}{
		address,
		map[string]interface{}{"limit": limit},
	})
}

func (s *HeliusSource) getEnhancedTransactions(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	address, err := stringArg(args, "address")
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, fmt.Sprintf("/addresses/%s/transactions", address), map[string]string{
		"api-key": s.apiKey,
		"limit":   strconv.Itoa(intArgDefault(args, "limit", 100)),
	})
}

func (s *HeliusSource) getAsset(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	mintAddress, err := stringArg(args, "mint_address")
	if err != nil {
		return nil, err
	}
	return s.RPC(ctx, "getAsset", map[string]interface{}{"id": mintAddress})
}
