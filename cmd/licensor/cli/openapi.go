package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/licensor/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		serverURL  string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3.1 document for the license API: client endpoints,
license administration, and identity management. This is the same document
the server serves at /openapi.json.`,
		Example: `  licensor openapi                                   # JSON to stdout
  licensor openapi --format yaml -o licensor-api.yaml
  licensor openapi --server-url https://licenses.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(serverURL, format, outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")
	cmd.Flags().StringVar(&serverURL, "server-url", "http://localhost:8080", "Server URL advertised in the document")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")

	return cmd
}

func runOpenAPI(serverURL, format, outputFile string) error {
	doc := openapi.GenerateSpec(serverURL)

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	switch format {
	case "json":
	case "yaml", "yml":
		// Decoding JSON into a node keeps the key order of the document.
		var node yaml.Node
		if err := yaml.Unmarshal(out, &node); err != nil {
			return fmt.Errorf("convert spec to yaml: %w", err)
		}
		blockStyle(&node)
		if out, err = yaml.Marshal(&node); err != nil {
			return fmt.Errorf("marshal spec: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format %q; use 'json' or 'yaml'", format)
	}

	if outputFile == "" {
		fmt.Println(string(out))
		return nil
	}
	if err := os.WriteFile(outputFile, out, 0644); err != nil {
		return fmt.Errorf("write spec: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote OpenAPI spec to %s\n", outputFile)
	return nil
}

// blockStyle clears the flow and quoting styles the JSON input left on n.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
