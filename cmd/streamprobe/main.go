// streamprobe connects to a live-data stream and prints frames to the
// console, alongside periodic reachability probes. Useful for verifying a
// stream endpoint and watching connection behavior by hand.
// Usage: go run ./cmd/streamprobe --url wss://example.com/stream
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/refnet/resilience/internal/probe"
	"github.com/refnet/resilience/internal/stream"
)

func main() {
	url := flag.String("url", "", "websocket stream URL")
	token := flag.String("token", "", "optional bearer token")
	probeURL := flag.String("probe-url", "https://www.gstatic.com/generate_204", "reachability probe URL")
	probeEvery := flag.Duration("probe-every", 10*time.Second, "probe interval (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *url == "" {
		logger.Error("--url is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := stream.DefaultConfig()
	cfg.URL = *url
	cfg.AuthToken = *token

	client := stream.NewClient(cfg, logger)

	logger.Info("connecting", "url", *url)
	if err := client.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	logger.Info("connected - press Ctrl+C to stop")

	if *probeEvery > 0 {
		prober := probe.NewHTTPProber(*probeURL, 5*time.Second, logger)
		go runProbes(ctx, prober, *probeEvery)
	}

	frames := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping", "frames_received", frames)
			return
		case frame := <-client.Frames():
			frames++
			fmt.Printf("[FRAME %d] %s %s\n",
				frames,
				frame.ReceivedAt.Format(time.RFC3339Nano),
				frame.Data,
			)
		case err := <-client.Errors():
			logger.Error("stream error", "error", err, "frames_received", frames)
			return
		}
	}
}

// runProbes measures reachability latency on an interval.
func runProbes(ctx context.Context, prober probe.Prober, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latency, err := prober.Probe(ctx)
			if err != nil {
				fmt.Printf("[PROBE] failed: %v\n", err)
			} else {
				fmt.Printf("[PROBE] latency=%s\n", latency)
			}
		}
	}
}
