package datasource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/tools"
)

func TestWeatherMockWithoutAPIKey(t *testing.T) {
	source := NewWeatherSource(&config.DatasourceConfig{Type: "weather", TimeoutSeconds: 5})

	methods := source.Methods()
	require.Len(t, methods, 1)

	out, err := methods[0].Invoke(context.Background(), map[string]interface{}{"city": "Warsaw"})
	require.NoError(t, err)

	weather := out.(map[string]interface{})
	assert.Equal(t, "Warsaw", weather["city"])
	assert.Equal(t, true, weather["mock"])
}

func TestWeatherRequiresCity(t *testing.T) {
	source := NewWeatherSource(&config.DatasourceConfig{Type: "weather", TimeoutSeconds: 5})

	_, err := source.Methods()[0].Invoke(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'city' is required")
}

func TestCryptoPriceHitsSimplePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "solana", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"solana": map[string]float64{"usd": 150.25},
		})
	}))
	defer server.Close()

	source := NewCryptoSource(&config.DatasourceConfig{Type: "crypto", BaseURL: server.URL, TimeoutSeconds: 5})

	out, err := source.Methods()[0].Invoke(context.Background(), map[string]interface{}{"coin_id": "solana"})
	require.NoError(t, err)

	price := out.(map[string]interface{})["solana"].(map[string]interface{})
	assert.Equal(t, 150.25, price["usd"])
}

func TestCryptoMethodsUnifyUnderOneTool(t *testing.T) {
	source := NewCryptoSource(&config.DatasourceConfig{Type: "crypto", TimeoutSeconds: 5})

	registry := tools.NewToolRegistry()
	require.NoError(t, registry.RegisterSource(context.Background(), NewSource(source)))

	tool, err := registry.GetTool("crypto_data")
	require.NoError(t, err)

	unified, ok := tool.(*tools.UnifiedTool)
	require.True(t, ok)
	assert.Equal(t, []string{"get_coin_price", "get_coin_quote"}, unified.Actions())

	// The quote variant is a side-effectful intent, so the unified tool
	// carries the user action flag.
	assert.True(t, unified.GetInfo().UserAction)
}

func TestJupiterQuoteWrapsUserAction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v1/quote", r.URL.Path)
		assert.Equal(t, "inmint", r.URL.Query().Get("inputMint"))
		assert.Equal(t, "outmint", r.URL.Query().Get("outputMint"))
		assert.Equal(t, "1000000", r.URL.Query().Get("amount"))
		json.NewEncoder(w).Encode(map[string]interface{}{"outAmount": "995000"})
	}))
	defer server.Close()

	source := NewJupiterSource(&config.DatasourceConfig{Type: "jupiter", BaseURL: server.URL, TimeoutSeconds: 5})

	out, err := source.Methods()[0].Invoke(context.Background(), map[string]interface{}{
		"input_mint":  "inmint",
		"output_mint": "outmint",
		"amount":      float64(1000000),
	})
	require.NoError(t, err)

	wrapped := out.(map[string]interface{})
	assert.Equal(t, "swap_quote", wrapped["action_type"])
	quote := wrapped["data"].(map[string]interface{})
	assert.Equal(t, "995000", quote["outAmount"])
}

func TestJupiterQuoteValidatesAmount(t *testing.T) {
	source := NewJupiterSource(&config.DatasourceConfig{Type: "jupiter", TimeoutSeconds: 5})

	_, err := source.Methods()[0].Invoke(context.Background(), map[string]interface{}{
		"input_mint":  "a",
		"output_mint": "b",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'amount'")
}

func TestHeliusRPCUnwrapsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getBalance", req["method"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]interface{}{"value": float64(5000000)},
		})
	}))
	defer server.Close()

	source := NewHeliusSource(&config.DatasourceConfig{Type: "helius", APIKey: "key", TimeoutSeconds: 5})
	source.RESTSource.rpcURL = server.URL

	out, err := source.getBalance(context.Background(), map[string]interface{}{"address": "addr"})
	require.NoError(t, err)

	result := out.(map[string]interface{})
	assert.Equal(t, float64(5000000), result["value"])
}

func TestHeliusRPCErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]interface{}{"code": -32602, "message": "invalid address"},
		})
	}))
	defer server.Close()

	source := NewHeliusSource(&config.DatasourceConfig{Type: "helius", APIKey: "key", TimeoutSeconds: 5})
	source.RESTSource.rpcURL = server.URL

	_, err := source.getBalance(context.Background(), map[string]interface{}{"address": "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := NewFromConfig(&config.DatasourceConfig{Type: "stocks"})
	require.Error(t, err)
}
