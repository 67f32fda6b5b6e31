package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"turbohttp/internal/ws"
)

var (
	wsSubProtocols []string
	wsPingInterval time.Duration
	wsReconnect    bool
)

var wsCmd = &cobra.Command{
	Use:   "ws",
	Short: "WebSocket client commands",
}

var wsDialCmd = &cobra.Command{
	Use:   "dial <url>",
	Short: "dial a WebSocket endpoint and print incoming messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runWSDial,
}

func init() {
	wsDialCmd.Flags().StringArrayVar(&wsSubProtocols, "subprotocol", nil, "offered sub-protocol (repeatable)")
	wsDialCmd.Flags().DurationVar(&wsPingInterval, "ping-interval", 0, "keepalive ping interval, 0 disables")
	wsDialCmd.Flags().BoolVar(&wsReconnect, "reconnect", false, "wrap the dial in a ResilientClient with default backoff")
	wsCmd.AddCommand(wsDialCmd)
}

func runWSDial(cmd *cobra.Command, args []string) error {
	rawURL := args[0]
	opts := ws.DefaultOptions()
	opts.SubProtocols = wsSubProtocols
	opts.PingInterval = wsPingInterval

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !wsReconnect {
		conn, err := ws.Dial(ctx, rawURL, opts)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer conn.Close(ws.StatusNormalClosure, "")

		for msg, err := range conn.ReceiveAll(ctx) {
			if err != nil {
				fmt.Fprintf(out, "closed: %v\n", err)
				return nil
			}
			fmt.Fprintf(out, "%s\n", msg.Data)
		}
		return nil
	}

	policy := ws.DefaultReconnectPolicy()
	dial := ws.DialFunc(func(dctx context.Context) (*ws.Connection, error) {
		return ws.Dial(dctx, rawURL, opts)
	})
	rc := ws.NewResilientClient(dial, policy)

	go func() {
		for ev := range rc.Events() {
			fmt.Fprintf(out, "event: kind=%d attempt=%d delay=%s err=%v\n", ev.Kind, ev.Attempt, ev.Delay, ev.Err)
		}
	}()

	for msg, err := range rc.ReceiveAll(ctx) {
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s\n", msg.Data)
	}
	return nil
}
