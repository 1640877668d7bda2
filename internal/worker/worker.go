// Package worker executes a single download's network and disk I/O in an
// isolated goroutine, reporting back over a one-directional event channel.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/kroni66/luminAI-sub000/internal/common"
)

const (
	copyBufferSize = 32 * 1024

	// Below this many bytes every chunk emits a progress event; afterwards
	// only 1KB boundary crossings do, keeping the channel from flooding
	// while the UI still gets early feedback.
	smallProgressLimit = 10 * 1024
	progressStep       = 1024
)

// Worker downloads exactly one file. It owns the only network connection and
// the only file handle for its download, holds a snapshot of the record
// instead of sharing it, and never touches the registry.
type Worker struct {
	id       uuid.UUID
	url      string
	savePath string
	referrer string

	client *http.Client
	events chan<- Event
}

// New builds a worker from a record snapshot.
func New(client *http.Client, record *common.DownloadRecord, events chan<- Event) *Worker {
	return &Worker{
		id:       record.ID,
		url:      record.URL,
		savePath: record.SavePath,
		referrer: record.Referrer,
		client:   client,
		events:   events,
	}
}

// Run performs the download until completion, failure, or forced termination
// through ctx. On forced termination it simply returns; partial-file cleanup
// is the orchestrator's job.
func (w *Worker) Run(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, http.NoBody)
	if err != nil {
		w.fail(ctx, fmt.Errorf("failed to create request: %w", err))
		return
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	if w.referrer != "" {
		req.Header.Set("Referer", w.referrer)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.fail(ctx, fmt.Errorf("connection error: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.fail(ctx, fmt.Errorf("server returned %s", resp.Status))
		return
	}

	var total int64
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	file, err := os.Create(w.savePath)
	if err != nil {
		w.fail(ctx, fmt.Errorf("failed to create file: %w", err))
		return
	}

	written, err := w.stream(ctx, file, resp.Body, total)
	closeErr := file.Close()

	if err != nil {
		w.fail(ctx, err)
		return
	}

	if closeErr != nil {
		w.fail(ctx, fmt.Errorf("failed to close file: %w", closeErr))
		return
	}

	// Best-effort sanity check that the bytes landed on disk.
	if _, err := os.Stat(w.savePath); err != nil {
		w.fail(ctx, fmt.Errorf("downloaded file missing: %w", err))
		return
	}

	slog.Info("download finished", "id", w.id, "path", w.savePath, "size", humanize.Bytes(uint64(written)))
	w.emit(ctx, Event{Kind: EventCompleted, Downloaded: written, Total: total})
}

func (w *Worker) stream(ctx context.Context, dst *os.File, src io.Reader, total int64) (int64, error) {
	buf := make([]byte, copyBufferSize)

	var written, lastEmit, windowBytes int64

	windowStart := time.Now()

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("failed to write file: %w", werr)
			}

			written += int64(n)
			windowBytes += int64(n)

			if written < smallProgressLimit || written/progressStep != lastEmit/progressStep {
				w.emit(ctx, Event{
					Kind:       EventProgress,
					Downloaded: written,
					Total:      total,
					Speed:      rate(windowBytes, time.Since(windowStart)),
				})

				lastEmit = written
				windowBytes = 0
				windowStart = time.Now()
			}
		}

		if err == io.EOF {
			return written, nil
		}

		if err != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}

			return written, fmt.Errorf("connection error: %w", err)
		}
	}
}

// fail converts an error into an event; failures never cross the isolation
// boundary as panics or return values. Nothing is emitted when the
// orchestrator forced termination.
func (w *Worker) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	slog.Error("download failed", "id", w.id, "url", w.url, "err", err)
	w.emit(ctx, Event{Kind: EventFailed, Message: err.Error()})
}

func (w *Worker) emit(ctx context.Context, event Event) {
	event.DownloadID = w.id
	event.Timestamp = time.Now()

	select {
	case w.events <- event:
	case <-ctx.Done():
	}
}

func rate(bytes int64, elapsed time.Duration) int64 {
	if elapsed <= 0 {
		return 0
	}

	return int64(float64(bytes) / elapsed.Seconds())
}
