package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	sat18client "github.com/sat18-labs/sat18/sdk/go/sat18"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func readJSON(cmd *cobra.Command, path string, dest any) error {
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// client returns an SDK client for --server. It fails when no server is set.
func (o *options) client() (*sat18client.Client, error) {
	if o.serverURL == "" {
		return nil, fmt.Errorf("--server (or SAT18_SERVER) is required")
	}
	return sat18client.NewClient(sat18client.Config{
		BaseURL:  o.serverURL,
		ClientID: o.clientID,
		APIKey:   o.apiKey,
	})
}
