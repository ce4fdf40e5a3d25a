package datasource

import (
	"fmt"

	"github.com/deepsense-ai/deepsense/pkg/config"
)

// NewFromConfig builds the adapter matching cfg.Type.
func NewFromConfig(cfg *config.DatasourceConfig) (DataSource, error) {
	switch cfg.Type {
	case "weather":
		return NewWeatherSource(cfg), nil
	case "crypto":
		return NewCryptoSource(cfg), nil
	case "jupiter":
		return NewJupiterSource(cfg), nil
	case "helius":
		return NewHeliusSource(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported datasource type: %s", cfg.Type)
	}
}
