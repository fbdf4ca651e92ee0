package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const lootTables = `tables:
  - table: Loot
    schema: LootRow
    fields:
      id: int
      dropRate: float
    rows:
      "1": {id: 1, dropRate: 0.1}
`

const dlc1 = `feature: DLC1
tables:
  - table: Loot
    schema: LootRow
    priority: 10
    ops:
      - {op: replace, key: 1, row: {id: 1, dropRate: 0.5}}
`

const dlc2 = `feature: DLC2
tables:
  - table: Loot
    schema: LootRow
    priority: 10
    sources: [rows/dlc2.yaml]
`

const dlc2Rows = `rows:
  "1": {id: 1, dropRate: 0.9}
`

// writeFile writes content below dir and returns the full path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// lootFixture writes the base tables and both DLC descriptors.
func lootFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "tables.yaml", lootTables)
	writeFile(t, dir, "dlc1.yaml", dlc1)
	writeFile(t, dir, "dlc2.yaml", dlc2)
	writeFile(t, dir, "rows/dlc2.yaml", dlc2Rows)
	return dir
}

// execute runs cmd with args and returns stdout and the error.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// decodeResponse parses JSON output into a CLIResponse with a raw payload.
func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return CLIResponse{Status: resp.Status, Error: resp.Error}
}
