package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	mobuhttp "github.com/wesleyorama2/mobu/internal/http"
	"github.com/wesleyorama2/mobu/internal/output"
)

var version = "0.1.0"

var (
	serverURL    string
	outputFormat string
	noColor      bool
	timeout      time.Duration
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "mobu",
	Short:   "Synthetic users for a notebook platform",
	Version: version,
	Long: `mobu runs flocks of simulated users ("monkeys") against a notebook
platform and its query services, reporting failures and latency.

Run "mobu serve" to start the service, then manage flocks with the
"flock" and "summary" commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	err := RootCmd.Execute()
	if err != nil {
		fmt.Fprintf(RootCmd.ErrOrStderr(), "%s Error: %v\n", output.ErrorIcon(noColor), err)
	}
	return err
}

func init() {
	RootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "mobu server URL")
	RootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	RootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	RootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
}

// apiClient returns a client for the configured server.
func apiClient() *mobuhttp.Client {
	return mobuhttp.NewClient(
		mobuhttp.WithBaseURL(strings.TrimRight(serverURL, "/")),
		mobuhttp.WithTimeout(timeout),
		mobuhttp.WithHeader("Accept", "application/json"),
	)
}

// apiError turns an error reply from the server into a readable error.
func apiError(resp *mobuhttp.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	body := resp.JSON()
	msg := body.Get("error").String()
	if msg == "" {
		return resp.Err()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (status %d)", msg, resp.StatusCode)
	for _, d := range body.Get("details").Array() {
		if field := d.Get("field").String(); field != "" {
			fmt.Fprintf(&b, "\n  %s: %s", field, d.Get("message").String())
		} else {
			fmt.Fprintf(&b, "\n  %s", d.Get("message").String())
		}
	}
	return errors.New(b.String())
}

func formatter(cmd *cobra.Command) (*output.Formatter, output.OutputFormat, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, "", err
	}
	out := cmd.OutOrStdout()
	tty, _ := out.(*os.File)
	return output.NewFormatter(out, output.SchemeFor(tty, noColor)), format, nil
}
