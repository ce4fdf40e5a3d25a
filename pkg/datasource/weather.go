package datasource

import (
	"context"
	"time"

	"github.com/deepsense-ai/deepsense/pkg/config"
)

const defaultWeatherURL = "https://api.openweathermap.org/data/2.5"

// WeatherSource serves current weather by city. Without an API key it
// returns deterministic mock data so local setups work out of the box.
type WeatherSource struct {
	*RESTSource
	apiKey string
}

func NewWeatherSource(cfg *config.DatasourceConfig) *WeatherSource {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultWeatherURL
	}
	return &WeatherSource{
		RESTSource: NewRESTSource("weather", baseURL, "",
			time.Duration(cfg.TimeoutSeconds)*time.Second,
			map[string]string{"Accept": "application/json"}),
		apiKey: cfg.APIKey,
	}
}

func (s *WeatherSource) Methods() []Method {
	return []Method{
		{
			Name:        "get_weather",
			ToolName:    "get_weather",
			Description: "Get current weather information for a specific city.",
			Parameters: objectSchema([]string{"city"}, map[string]interface{}{
				"city": map[string]interface{}{
					"type":        "string",
					"description": "City name, e.g. 'Warsaw'.",
				},
			}),
			Invoke: s.getWeather,
		},
	}
}

func (s *WeatherSource) getWeather(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	city, err := stringArg(args, "city")
	if err != nil {
		return nil, err
	}

	if s.apiKey == "" {
		return s.mockWeather(city), nil
	}

	return s.Get(ctx, "/weather", map[string]string{
		"q":     city,
		"appid": s.apiKey,
		"units": "metric",
	})
}

func (s *WeatherSource) mockWeather(city string) map[string]interface{} {
	return map[string]interface{}{
		"city":        city,
		"temperature": 18.5,
		"humidity":    62,
		"description": "partly cloudy",
		"wind_speed":  3.4,
		"mock":        true,
	}
}
