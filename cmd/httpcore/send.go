package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"turbohttp/internal/headers"
	"turbohttp/pkg/httpclient"
)

var (
	sendMethod  string
	sendHeaders []string
	sendBody    string
	sendBodyFile string
	sendTimeout time.Duration
	sendOverlay []string
)

var sendCmd = &cobra.Command{
	Use:   "send <url>",
	Short: "send a single request and print the response",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendMethod, "method", "X", "GET", "HTTP method")
	sendCmd.Flags().StringArrayVarP(&sendHeaders, "header", "H", nil, "request header, \"Name: Value\" (repeatable)")
	sendCmd.Flags().StringVarP(&sendBody, "data", "d", "", "request body")
	sendCmd.Flags().StringVar(&sendBodyFile, "data-file", "", "read request body from a file (- for stdin)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "per-request timeout, overriding the client default")
	sendCmd.Flags().StringArrayVar(&sendOverlay, "set", nil, "override a client option, \"path=value\" (repeatable)")
}

func runSend(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(sendOverlay)
	if err != nil {
		return fmt.Errorf("loading options: %w", err)
	}

	client, err := httpclient.New(opts)
	if err != nil {
		return fmt.Errorf("constructing client: %w", err)
	}
	ctx := cmd.Context()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	body, err := readBody(sendBody, sendBodyFile)
	if err != nil {
		return err
	}

	h := headers.New()
	for _, pair := range parseHeaderFlags(sendHeaders) {
		h.Add(pair[0], pair[1])
	}

	req := httpclient.NewRequest(httpclient.Method(strings.ToUpper(sendMethod)), args[0], h, body)
	if sendTimeout > 0 {
		req = req.WithTimeout(sendTimeout)
	}

	resp, err := client.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Release()

	fmt.Fprintf(cmd.OutOrStdout(), "HTTP %d\n", resp.StatusCode)
	resp.Header.Range(func(name, value string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, value)
	})
	fmt.Fprintln(cmd.OutOrStdout())
	cmd.OutOrStdout().Write(resp.Body())
	return nil
}

func readBody(inline, file string) ([]byte, error) {
	if file == "" {
		if inline == "" {
			return nil, nil
		}
		return []byte(inline), nil
	}
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}
