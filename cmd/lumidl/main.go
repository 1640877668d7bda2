// lumidl drives the download subsystem from the command line: it submits the
// given URLs and waits for all of them to reach a terminal state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"

	"github.com/kroni66/luminAI-sub000/internal/common"
	"github.com/kroni66/luminAI-sub000/internal/config"
	"github.com/kroni66/luminAI-sub000/internal/manager"
	"github.com/kroni66/luminAI-sub000/internal/registry"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	dir := flag.String("dir", "", "download directory (defaults to the platform download dir)")
	referrer := flag.String("referrer", "", "Referer header to send with each request")
	flag.Parse()

	setupLogger(*debug)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(1)
	}

	reg, err := registry.NewBoltRegistry(cfg.DatabasePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	mgr := manager.New(cfg, reg)
	if err := mgr.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing download manager: %v\n", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	notifier := &consoleNotifier{mgr: mgr, done: done}

	submitted := 0
	for _, rawURL := range flag.Args() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_, err := mgr.StartDownload(ctx, rawURL, manager.StartOptions{
			Directory: *dir,
			Referrer:  *referrer,
		})
		cancel()

		if err != nil {
			slog.Error("failed to start download", "url", rawURL, "err", err)
			continue
		}

		submitted++
	}

	if submitted == 0 {
		shutdown(mgr)
		return
	}

	mgr.Subscribe(notifier)
	// Everything could have finished before the subscription landed.
	notifier.DownloadListChanged()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("received interrupt signal")
	case <-done:
	}

	shutdown(mgr)
}

func shutdown(mgr *manager.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mgr.Shutdown(ctx); err != nil {
		slog.Error("error during shutdown", "err", err)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
	})))
}

// consoleNotifier logs progress and closes done once nothing is left running.
type consoleNotifier struct {
	mgr  *manager.Manager
	done chan struct{}

	mu       sync.Mutex
	lastLog  map[string]time.Time
	finished bool
}

func (n *consoleNotifier) DownloadListChanged() {
	stats := n.mgr.Stats()
	if stats.Active > 0 || stats.Queued > 0 {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.finished {
		n.finished = true
		close(n.done)
	}
}

func (n *consoleNotifier) DownloadProgressed(rec common.DownloadRecord, speed int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lastLog == nil {
		n.lastLog = make(map[string]time.Time)
	}

	// One progress line per download per second is plenty for a terminal.
	key := rec.ID.String()
	if time.Since(n.lastLog[key]) < time.Second {
		return
	}
	n.lastLog[key] = time.Now()

	slog.Info("downloading",
		"file", rec.Filename,
		"downloaded", humanize.Bytes(uint64(rec.DownloadedBytes)),
		"total", humanize.Bytes(uint64(rec.TotalBytes)),
		"speed", fmt.Sprintf("%s/s", humanize.Bytes(uint64(speed))))
}
