package extract

import (
	"io"

	"github.com/relayforge/corpus-engine/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}
