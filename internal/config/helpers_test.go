package config

import "github.com/vantagesec/vantage/internal/observability"

func testLogger() *observability.Logger {
	return observability.NewNopLogger()
}
