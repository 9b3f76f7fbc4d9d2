package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/mobu/internal/flock"
	mobuhttp "github.com/wesleyorama2/mobu/internal/http"
	"github.com/wesleyorama2/mobu/internal/output"
)

var flockCmd = &cobra.Command{
	Use:   "flock",
	Short: "Manage flocks on a running mobu server",
}

var flockCreateCmd = &cobra.Command{
	Use:   "create -f FILE",
	Short: "Create flocks from a YAML file",
	Long: `Create one flock per entry in FILE. The file may hold a single flock,
a list of flocks, or several YAML documents. Use "-" to read standard input.`,
	Args: cobra.NoArgs,
	RunE: runFlockCreate,
}

var flockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List running flocks",
	Args:  cobra.NoArgs,
	RunE:  runFlockList,
}

var flockGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a flock with its monkeys and phase latencies",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlockGet,
}

var flockDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Stop and remove a flock",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlockDelete,
}

func init() {
	flockCreateCmd.Flags().StringP("file", "f", "", "flock definition file (YAML)")
	flockCreateCmd.MarkFlagRequired("file")

	flockCmd.AddCommand(flockCreateCmd)
	flockCmd.AddCommand(flockListCmd)
	flockCmd.AddCommand(flockGetCmd)
	flockCmd.AddCommand(flockDeleteCmd)
	RootCmd.AddCommand(flockCmd)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// splitFlocks decodes a YAML stream into one generic document per flock,
// keeping fields exactly as written so the server sees the user's input.
func splitFlocks(data []byte) ([]interface{}, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var docs []interface{}
	for {
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse flock file: %w", err)
		}
		switch v := doc.(type) {
		case nil:
		case []interface{}:
			docs = append(docs, v...)
		default:
			docs = append(docs, v)
		}
	}
	if len(docs) == 0 {
		return nil, errors.New("no flocks defined")
	}
	return docs, nil
}

func runFlockCreate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	data, err := readInput(cmd, path)
	if err != nil {
		return fmt.Errorf("failed to read flock file: %w", err)
	}
	docs, err := splitFlocks(data)
	if err != nil {
		return err
	}
	f, format, err := formatter(cmd)
	if err != nil {
		return err
	}

	client := apiClient()
	var created []flock.Summary
	var locations []string
	for _, doc := range docs {
		resp, err := client.Do(cmd.Context(), mobuhttp.NewRequest("PUT", "/mobu/flocks").WithBody(doc))
		if err != nil {
			return fmt.Errorf("failed to connect to mobu server: %w", err)
		}
		if err := apiError(resp); err != nil {
			return err
		}
		var summary flock.Summary
		if err := resp.GetBodyAsJSON(&summary); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		created = append(created, summary)
		locations = append(locations, resp.GetHeader("Location"))
	}

	if format != output.FormatTable {
		return output.Encode(f.Out, format, created)
	}
	for i, s := range created {
		fmt.Fprintf(f.Out, "%s Created flock %s (%s)\n", output.SuccessIcon(noColor), f.Scheme.Name.Sprint(s.Name), locations[i])
	}
	return nil
}

func runFlockList(cmd *cobra.Command, args []string) error {
	f, format, err := formatter(cmd)
	if err != nil {
		return err
	}
	var names []string
	if err := getJSON(cmd.Context(), "/mobu/flocks", &names); err != nil {
		return err
	}

	if format != output.FormatTable {
		return output.Encode(f.Out, format, names)
	}
	if len(names) == 0 {
		fmt.Fprintln(f.Out, f.Scheme.Muted.Sprint("No flocks running"))
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(f.Out, name)
	}
	return nil
}

func runFlockGet(cmd *cobra.Command, args []string) error {
	f, format, err := formatter(cmd)
	if err != nil {
		return err
	}
	var detail flock.Detail
	if err := getJSON(cmd.Context(), "/mobu/flocks/"+args[0], &detail); err != nil {
		return err
	}

	if format != output.FormatTable {
		return output.Encode(f.Out, format, detail)
	}
	return f.Detail(detail)
}

func runFlockDelete(cmd *cobra.Command, args []string) error {
	resp, err := apiClient().Do(cmd.Context(), mobuhttp.NewRequest("DELETE", "/mobu/flocks/"+args[0]))
	if err != nil {
		return fmt.Errorf("failed to connect to mobu server: %w", err)
	}
	if err := apiError(resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted flock %s\n", output.SuccessIcon(noColor), args[0])
	return nil
}

func getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := apiClient().Do(ctx, mobuhttp.NewRequest("GET", path))
	if err != nil {
		return fmt.Errorf("failed to connect to mobu server: %w", err)
	}
	if err := apiError(resp); err != nil {
		return err
	}
	if err := resp.GetBodyAsJSON(v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
