package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/convlog/internal/config"
)

const (
	scenariosDir = "../../testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"

	defaultTestTimeout = 5 * time.Second
)

func testRootOptions(format string) *RootOptions {
	return &RootOptions{Format: format, Config: config.Default()}
}

// jsonEnvelope mirrors CLIResponse with the payload left raw.
type jsonEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// decodeResponse parses a JSON response and decodes its data into v.
func decodeResponse(t *testing.T, out []byte, v any) jsonEnvelope {
	t.Helper()
	var env jsonEnvelope
	require.NoError(t, json.Unmarshal(out, &env), "output: %s", out)
	if v != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
	return env
}
