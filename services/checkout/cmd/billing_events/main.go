// Command billing_events reads the billing event stream the checkout service
// publishes from Stripe webhooks. It prints one JSON object per line and can
// keep polling for new events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"mentalia/pkg/queue"
	"mentalia/services/checkout/internal/config"
)

type eventSource interface {
	Range(ctx context.Context, afterID string, count int64) ([]queue.Event, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		after      string
		count      int64
		follow     bool
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:          "billing_events",
		Short:        "Print billing events from the checkout event stream",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			defer client.Close()
			stream, err := queue.NewRedisEventStream(client, queue.StreamConfig{Stream: cfg.EventStream})
			if err != nil {
				return err
			}
			if follow {
				return followEvents(cmd.Context(), stream, after, count, interval, cmd.OutOrStdout())
			}
			_, _, err = dumpEvents(cmd.Context(), stream, after, count, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.ConfigPath, "Checkout config file")
	cmd.Flags().StringVar(&after, "after", "", "Only events after this stream id")
	cmd.Flags().Int64Var(&count, "count", 100, "Maximum events per read")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new events")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval with --follow")
	return cmd
}

// dumpEvents writes one read of the stream and returns the last stream id
// seen, or after when nothing was read.
func dumpEvents(ctx context.Context, src eventSource, after string, count int64, w io.Writer) (string, int, error) {
	events, err := src.Range(ctx, after, count)
	if err != nil {
		return after, 0, fmt.Errorf("read events: %w", err)
	}
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return after, 0, err
		}
		after = ev.StreamID
	}
	return after, len(events), nil
}

func followEvents(ctx context.Context, src eventSource, after string, count int64, interval time.Duration, w io.Writer) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if count <= 0 {
		count = 100
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		next, n, err := dumpEvents(ctx, src, after, count, w)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		after = next
		if n == int(count) {
			// a full page may have more behind it
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
