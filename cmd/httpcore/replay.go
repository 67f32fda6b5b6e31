package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"turbohttp/internal/headers"
	"turbohttp/internal/replay"
	"turbohttp/pkg/httpclient"
)

var (
	replayPath    string
	replayMode    string
	replayMethod  string
	replayHeaders []string
	replayBody    string
	replayOverlay []string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "record or replay a session against a stored recording",
}

var replayRunCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "send a request through the record/replay transport",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayRunCmd.Flags().StringVar(&replayPath, "recording", "", "path to the recording file")
	replayRunCmd.Flags().StringVar(&replayMode, "mode", "record", "Record, Replay, or Passthrough")
	replayRunCmd.Flags().StringVarP(&replayMethod, "method", "X", "GET", "HTTP method")
	replayRunCmd.Flags().StringArrayVarP(&replayHeaders, "header", "H", nil, "request header, \"Name: Value\" (repeatable)")
	replayRunCmd.Flags().StringVarP(&replayBody, "data", "d", "", "request body")
	replayRunCmd.Flags().StringArrayVar(&replayOverlay, "set", nil, "override a client option, \"path=value\" (repeatable)")
	replayRunCmd.MarkFlagRequired("recording")
	replayCmd.AddCommand(replayRunCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(replayOverlay)
	if err != nil {
		return fmt.Errorf("loading options: %w", err)
	}
	opts.Replay = httpclient.ReplayOptions{
		Mode:               replay.Mode(capitalize(replayMode)),
		RecordingPath:      replayPath,
		MismatchPolicy:     replay.MismatchWarn,
		Redaction:          replay.DefaultRedactionPolicy(),
		AutoFlushOnDispose: true,
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

	h := headers.New()
	for _, pair := range parseHeaderFlags(replayHeaders) {
		h.Add(pair[0], pair[1])
	}

	req := httpclient.NewRequest(httpclient.Method(strings.ToUpper(replayMethod)), args[0], h, []byte(replayBody))
	resp, err := client.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Release()

	fmt.Fprintf(cmd.OutOrStdout(), "HTTP %d (mode=%s)\n", resp.StatusCode, opts.Replay.Mode)
	cmd.OutOrStdout().Write(resp.Body())
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
