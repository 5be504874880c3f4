package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"intelhub/adapters/wsclient"
	"intelhub/protocol"
)

// watchedTypes 為 watch 指令輸出的伺服器訊息類型
var watchedTypes = []protocol.Type{
	protocol.TypeConnection,
	protocol.TypeSubscribed,
	protocol.TypeUnsubscribed,
	protocol.TypePong,
	protocol.TypeProcesses,
	protocol.TypeMetrics,
	protocol.TypeRevenue,
	protocol.TypeProcessUpdate,
	protocol.TypeMetricUpdate,
	protocol.TypeRevenueUpdate,
	protocol.TypeAlert,
	protocol.TypeError,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a hub and print every message as a JSON line",
	RunE: func(cmd *cobra.Command, args []string) error {
		watchArgs := ParseWatchArgs()
		if err := watchArgs.Validate(); err != nil {
			return err
		}

		failed := make(chan struct{})
		var once sync.Once
		client, err := wsclient.NewClient(watchArgs.ServerURL,
			wsclient.WithLogger(slog.Default()),
			wsclient.WithMaxAttempts(watchArgs.MaxAttempts),
			wsclient.WithBaseDelay(watchArgs.BaseDelay),
			wsclient.WithMaxDelay(watchArgs.MaxDelay),
			wsclient.WithStateHandler(func(s wsclient.State) {
				if s == wsclient.StateFailed {
					once.Do(func() { close(failed) })
				}
			}),
		)
		if err != nil {
			return err
		}

		printer := newLinePrinter(cmd.OutOrStdout())
		for _, t := range watchedTypes {
			client.On(t, printer.print)
		}
		for _, channel := range watchArgs.Channels {
			if err := client.Subscribe(channel); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Disconnect()

		select {
		case <-ctx.Done():
			return nil
		case <-failed:
			return fmt.Errorf("watch: gave up reconnecting after %d attempts", watchArgs.MaxAttempts)
		}
	},
}

func init() {
	addWatchFlags(watchCmd.Flags())
}

// linePrinter 將每則訊息輸出為一行 JSON
type linePrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLinePrinter(w io.Writer) *linePrinter {
	return &linePrinter{enc: json.NewEncoder(w)}
}

func (p *linePrinter) print(msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(msg); err != nil {
		slog.Error("failed to print message", slog.Any("error", err))
	}
}
