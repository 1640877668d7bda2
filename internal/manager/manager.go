// Package manager orchestrates downloads: it owns the per-download state
// machine, wires workers to the scheduler and the registry, and notifies
// subscribed listeners on state changes.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kroni66/luminAI-sub000/internal/common"
	"github.com/kroni66/luminAI-sub000/internal/config"
	"github.com/kroni66/luminAI-sub000/internal/filename"
	"github.com/kroni66/luminAI-sub000/internal/platform"
	"github.com/kroni66/luminAI-sub000/internal/registry"
	"github.com/kroni66/luminAI-sub000/internal/scheduler"
	"github.com/kroni66/luminAI-sub000/internal/worker"
)

var (
	// ErrDownloadNotFound is returned when a download cannot be found.
	ErrDownloadNotFound = errors.New("download not found")

	// ErrInvalidURL is returned for empty or malformed URLs.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrDownloadExists is returned when the URL is already being downloaded.
	ErrDownloadExists = errors.New("download already exists")

	// ErrManagerNotRunning is returned when an operation requires Init first.
	ErrManagerNotRunning = errors.New("download manager is not running")
)

const (
	// Progress is flushed to the registry after this many bytes since the
	// last persist. A monotonic threshold instead of a modulo check, so odd
	// chunk sizes can never starve persistence.
	persistThreshold = 100 * 1024

	interruptedMessage = "download interrupted by application shutdown"
	missingFileMessage = "output file missing"

	eventBufferSize = 64
)

// Notifier receives state-change callbacks from the manager. Callers are
// expected to re-render from a fresh snapshot rather than from the callback
// payload alone.
type Notifier interface {
	// DownloadListChanged fires on any list-level change: additions,
	// removals, and every status transition.
	DownloadListChanged()

	// DownloadProgressed fires on progress updates of an active download.
	DownloadProgressed(record common.DownloadRecord, speed int64)
}

// StartOptions carries the optional parts of a download request.
type StartOptions struct {
	Filename  string
	Directory string
	Referrer  string
}

// Manager is the download orchestrator. All registry writes and all queue
// mutations happen here, on the control path; workers only stream bytes and
// emit events.
type Manager struct {
	mu sync.RWMutex

	cfg      *config.Config
	registry registry.Registry
	client   *http.Client
	gate     platform.PermissionGate
	sched    *scheduler.Scheduler

	records       map[uuid.UUID]*common.DownloadRecord
	cancels       map[uuid.UUID]context.CancelFunc
	lastPersisted map[uuid.UUID]int64
	workerDone    map[uuid.UUID]chan struct{}

	notifiers []Notifier

	events  chan worker.Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a manager backed by the given registry. Call Init before use.
func New(cfg *config.Config, reg registry.Registry) *Manager {
	return &Manager{
		cfg:           cfg,
		registry:      reg,
		client:        worker.NewClient(),
		gate:          platform.NoopGate{},
		records:       make(map[uuid.UUID]*common.DownloadRecord),
		cancels:       make(map[uuid.UUID]context.CancelFunc),
		lastPersisted: make(map[uuid.UUID]int64),
		workerDone:    make(map[uuid.UUID]chan struct{}),
	}
}

// SetPermissionGate replaces the default no-op gate. Must be called before Init.
func (m *Manager) SetPermissionGate(gate platform.PermissionGate) {
	m.gate = gate
}

// Subscribe registers a notifier for list and progress changes.
func (m *Manager) Subscribe(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifiers = append(m.notifiers, n)
}

// runTask runs a function in a goroutine tracked by the WaitGroup.
func (m *Manager) runTask(task func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		task()
	}()
}

// Init loads persisted records, applies crash recovery, and starts the
// scheduler and the event loop.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if err := m.loadDownloads(); err != nil {
		return fmt.Errorf("failed to load downloads: %w", err)
	}

	m.stopCh = make(chan struct{})
	m.events = make(chan worker.Event, eventBufferSize)
	m.sched = scheduler.New(m.cfg.MaxConcurrentDownloads, m.dispatch, m.stopCh)

	m.runTask(m.eventLoop)

	m.running = true

	slog.Info("download manager running",
		"downloads", len(m.records), "max_concurrent", m.cfg.MaxConcurrentDownloads)

	return nil
}

// loadDownloads restores records from the registry. Records found mid-flight
// are interpreted as interrupted by an unclean shutdown and unconditionally
// fail; the partial file is not inspected. Completed records whose output
// file vanished are demoted to failed as well.
func (m *Manager) loadDownloads() error {
	records, err := m.registry.GetAll()
	if err != nil {
		return err
	}

	for _, rec := range records {
		switch rec.Status {
		case common.StatusQueued, common.StatusDownloading:
			rec.Status = common.StatusFailed
			rec.ErrorMessage = interruptedMessage
			rec.EndTime = time.Now()

			slog.Warn("recovered interrupted download as failed", "id", rec.ID, "url", rec.URL)
			m.persistLocked(rec)
		case common.StatusCompleted:
			if _, err := os.Stat(rec.SavePath); os.IsNotExist(err) {
				rec.Status = common.StatusFailed
				rec.ErrorMessage = missingFileMessage
				rec.EndTime = time.Now()

				m.persistLocked(rec)
			}
		}

		m.records[rec.ID] = rec
	}

	return nil
}

// StartDownload registers a new download and enqueues it. The metadata probe
// is best-effort: when it fails the download proceeds with unknown size and a
// degraded filename.
func (m *Manager) StartDownload(ctx context.Context, rawURL string, opts StartOptions) (uuid.UUID, error) {
	if rawURL == "" {
		return uuid.Nil, ErrInvalidURL
	}

	m.mu.RLock()
	running := m.running

	for _, rec := range m.records {
		if rec.URL == rawURL && rec.Status.Active() {
			m.mu.RUnlock()
			slog.Warn("download already exists for URL", "url", rawURL)

			return uuid.Nil, ErrDownloadExists
		}
	}
	m.mu.RUnlock()

	if !running {
		return uuid.Nil, ErrManagerNotRunning
	}

	if err := m.gate.EnsureStorageAccess(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("storage permission not granted: %w", err)
	}

	dir := opts.Directory
	if dir == "" {
		dir = platform.DownloadDir(m.cfg.DownloadDir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	info, err := worker.Probe(ctx, m.client, rawURL, opts.Referrer)
	if err != nil {
		slog.Warn("probe failed, proceeding with degraded metadata", "url", rawURL, "err", err)
		info = &common.ProbeInfo{}
	}

	name := filename.Resolve(dir, opts.Filename, info.ContentDisposition, rawURL)

	rec := &common.DownloadRecord{
		ID:         uuid.New(),
		URL:        rawURL,
		Filename:   name,
		SavePath:   filepath.Join(dir, name),
		TotalBytes: info.TotalSize,
		Status:     common.StatusQueued,
		StartTime:  time.Now(),
		MimeType:   info.MimeType,
		Referrer:   opts.Referrer,
	}

	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()

	if err := m.registry.Insert(rec); err != nil {
		m.mu.Lock()
		delete(m.records, rec.ID)
		m.mu.Unlock()

		return uuid.Nil, fmt.Errorf("failed to save download to registry: %w", err)
	}

	slog.Info("download added", "id", rec.ID, "url", rawURL, "filename", name)

	m.sched.Enqueue(rec.ID)
	m.notifyListChanged()

	return rec.ID, nil
}

// dispatch promotes a queued download to downloading and spawns its worker.
// Called by the scheduler when a slot is free.
func (m *Manager) dispatch(id uuid.UUID) error {
	m.mu.Lock()

	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return ErrDownloadNotFound
	}

	if rec.Status != common.StatusQueued {
		m.mu.Unlock()
		return fmt.Errorf("download %s is %s, not queued", id, rec.Status)
	}

	rec.Status = common.StatusDownloading
	rec.StartTime = time.Now()
	// Every dispatch restarts from byte zero; byte-range resumption is out.
	rec.DownloadedBytes = 0

	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[id] = cancel

	prev := m.workerDone[id]
	done := make(chan struct{})
	m.workerDone[id] = done

	m.persistLocked(rec)

	snapshot := rec.Clone()
	m.mu.Unlock()

	// A paused download's old worker may still be draining its last write.
	// It must be gone before a new worker opens the same save path.
	if prev != nil {
		<-prev
	}

	w := worker.New(m.client, snapshot, m.events)
	m.runTask(func() {
		defer close(done)
		w.Run(ctx)
	})

	m.notifyListChanged()

	return nil
}

func (m *Manager) eventLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case e := <-m.events:
			m.handleEvent(e)
		}
	}
}

// handleEvent applies a worker event to the state machine. Events for
// downloads no longer in the downloading state are stale emissions from a
// terminated worker and are dropped.
func (m *Manager) handleEvent(e worker.Event) {
	m.mu.Lock()

	rec, ok := m.records[e.DownloadID]
	if !ok || rec.Status != common.StatusDownloading {
		m.mu.Unlock()
		return
	}

	switch e.Kind {
	case worker.EventProgress:
		rec.DownloadedBytes = e.Downloaded
		if rec.TotalBytes == 0 && e.Total > 0 {
			rec.TotalBytes = e.Total
		}

		if rec.DownloadedBytes-m.lastPersisted[rec.ID] >= persistThreshold {
			m.persistLocked(rec)
		}

		snapshot := *rec.Clone()
		m.mu.Unlock()

		m.notifyProgress(snapshot, e.Speed)

		return

	case worker.EventCompleted:
		rec.Status = common.StatusCompleted
		if rec.TotalBytes > 0 {
			rec.DownloadedBytes = rec.TotalBytes
		} else {
			rec.DownloadedBytes = e.Downloaded
			rec.TotalBytes = e.Downloaded
		}
		rec.EndTime = e.Timestamp
		rec.ErrorMessage = ""

	case worker.EventFailed:
		rec.Status = common.StatusFailed
		rec.ErrorMessage = e.Message
		rec.EndTime = e.Timestamp
	}

	m.finishLocked(rec)
	m.mu.Unlock()

	m.sched.Release()
	m.notifyListChanged()
}

// finishLocked persists a terminal transition synchronously and releases the
// worker bookkeeping. Callers hold m.mu and still own the scheduler slot.
func (m *Manager) finishLocked(rec *common.DownloadRecord) {
	if cancel, ok := m.cancels[rec.ID]; ok {
		cancel()
		delete(m.cancels, rec.ID)
	}

	delete(m.lastPersisted, rec.ID)
	m.persistLocked(rec)
}

// PauseDownload terminates the download's worker and parks the record. The
// partial file stays on disk; resuming restarts the transfer from scratch.
func (m *Manager) PauseDownload(id uuid.UUID) error {
	m.mu.Lock()

	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return ErrDownloadNotFound
	}

	if rec.Status != common.StatusDownloading {
		slog.Warn("ignoring pause", "id", id, "status", rec.Status)
		m.mu.Unlock()

		return nil
	}

	rec.Status = common.StatusPaused

	cancel := m.cancels[id]
	delete(m.cancels, id)
	delete(m.lastPersisted, id)

	m.persistLocked(rec)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.sched.Release()
	m.notifyListChanged()

	slog.Info("download paused", "id", id)

	return nil
}

// ResumeDownload re-enqueues a paused download at the queue head, so
// previously interrupted work takes the next free slot before new requests.
func (m *Manager) ResumeDownload(id uuid.UUID) error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return ErrManagerNotRunning
	}

	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return ErrDownloadNotFound
	}

	if rec.Status != common.StatusPaused {
		slog.Warn("ignoring resume", "id", id, "status", rec.Status)
		m.mu.Unlock()

		return nil
	}

	rec.Status = common.StatusQueued
	m.persistLocked(rec)
	m.mu.Unlock()

	m.sched.EnqueueFront(id)
	m.notifyListChanged()

	slog.Info("download resumed", "id", id)

	return nil
}

// CancelDownload terminates the download if active, deletes any partial file,
// and marks the record cancelled.
func (m *Manager) CancelDownload(id uuid.UUID) error {
	m.mu.Lock()

	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return ErrDownloadNotFound
	}

	if rec.Status.Terminal() {
		slog.Warn("ignoring cancel", "id", id, "status", rec.Status)
		m.mu.Unlock()

		return nil
	}

	prev := rec.Status
	rec.Status = common.StatusCancelled
	rec.EndTime = time.Now()

	cancel := m.cancels[id]
	delete(m.cancels, id)
	delete(m.lastPersisted, id)

	m.persistLocked(rec)
	savePath := rec.SavePath
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if prev == common.StatusQueued {
		m.sched.Remove(id)
	}

	if err := os.Remove(savePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to delete partial file", "id", id, "path", savePath, "err", err)
	}

	if prev == common.StatusDownloading {
		m.sched.Release()
	}

	m.notifyListChanged()

	slog.Info("download cancelled", "id", id)

	return nil
}

// RetryDownload resets a failed download and re-enqueues it at the queue head.
func (m *Manager) RetryDownload(id uuid.UUID) error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return ErrManagerNotRunning
	}

	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return ErrDownloadNotFound
	}

	if rec.Status != common.StatusFailed {
		slog.Warn("ignoring retry", "id", id, "status", rec.Status)
		m.mu.Unlock()

		return nil
	}

	rec.Status = common.StatusQueued
	rec.ErrorMessage = ""
	rec.DownloadedBytes = 0
	rec.EndTime = time.Time{}

	m.persistLocked(rec)
	m.mu.Unlock()

	m.sched.EnqueueFront(id)
	m.notifyListChanged()

	slog.Info("download retried", "id", id)

	return nil
}

// ClearCompletedDownloads bulk-removes completed records from the registry
// and the in-memory list. Finished files stay on disk.
func (m *Manager) ClearCompletedDownloads() error {
	m.mu.Lock()

	var removed []uuid.UUID

	for id, rec := range m.records {
		if rec.Status == common.StatusCompleted {
			removed = append(removed, id)
		}
	}

	for _, id := range removed {
		delete(m.records, id)
		delete(m.lastPersisted, id)
		delete(m.workerDone, id)
	}
	m.mu.Unlock()

	// Delete exactly the ids snapshotted under the lock. A download that
	// completes after the snapshot keeps its registry row and is picked up
	// by a later clear.
	for _, id := range removed {
		if err := m.registry.Delete(id); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("failed to clear completed downloads: %w", err)
		}
	}

	if len(removed) > 0 {
		m.notifyListChanged()
	}

	slog.Info("cleared completed downloads", "count", len(removed))

	return nil
}

// Get returns a snapshot of one download.
func (m *Manager) Get(id uuid.UUID) (*common.DownloadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrDownloadNotFound
	}

	return rec.Clone(), nil
}

// Active returns snapshots of the currently downloading records keyed by id.
func (m *Manager) Active() map[uuid.UUID]*common.DownloadRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make(map[uuid.UUID]*common.DownloadRecord)

	for id, rec := range m.records {
		if rec.Status == common.StatusDownloading {
			active[id] = rec.Clone()
		}
	}

	return active
}

// Queue returns snapshots of the pending downloads in dispatch order.
func (m *Manager) Queue() []*common.DownloadRecord {
	pending := m.sched.Pending()

	m.mu.RLock()
	defer m.mu.RUnlock()

	queue := make([]*common.DownloadRecord, 0, len(pending))

	for _, id := range pending {
		if rec, ok := m.records[id]; ok {
			queue = append(queue, rec.Clone())
		}
	}

	return queue
}

// List returns snapshots of every known download, oldest first.
func (m *Manager) List() []*common.DownloadRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*common.DownloadRecord, 0, len(m.records))
	for _, rec := range m.records {
		list = append(list, rec.Clone())
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].StartTime.Before(list[j].StartTime)
	})

	return list
}

// Stats returns aggregate counts across all downloads.
func (m *Manager) Stats() common.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := common.Stats{MaxConcurrent: m.cfg.MaxConcurrentDownloads}

	for _, rec := range m.records {
		switch rec.Status {
		case common.StatusDownloading:
			stats.Active++
		case common.StatusQueued:
			stats.Queued++
		case common.StatusPaused:
			stats.Paused++
		case common.StatusCompleted:
			stats.Completed++
		case common.StatusFailed:
			stats.Failed++
		case common.StatusCancelled:
			stats.Cancelled++
		}

		stats.TotalDownloaded += rec.DownloadedBytes
	}

	return stats
}

// Shutdown pauses all active downloads, stops the scheduler and event loop,
// and flushes every record. The registry handle is left open for its owner
// to close.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}

	m.running = false

	var active []uuid.UUID

	for id, rec := range m.records {
		if rec.Status == common.StatusDownloading {
			active = append(active, id)
		}
	}
	m.mu.Unlock()

	slog.Info("shutting down download manager", "active", len(active))

	g, _ := errgroup.WithContext(ctx)
	for _, id := range active {
		g.Go(func() error {
			return m.PauseDownload(id)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("failed to pause active downloads", "err", err)
	}

	close(m.stopCh)

	waitCh := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-ctx.Done():
		slog.Warn("shutdown timed out, some tasks may not have completed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		m.persistLocked(rec)
	}

	slog.Info("download manager shutdown complete")

	return nil
}

// persistLocked writes the record back to the registry. Terminal transitions
// always reach here synchronously with the state change.
func (m *Manager) persistLocked(rec *common.DownloadRecord) {
	if err := m.registry.Update(rec); err != nil {
		slog.Error("failed to persist download", "id", rec.ID, "err", err)
		return
	}

	m.lastPersisted[rec.ID] = rec.DownloadedBytes
}

func (m *Manager) notifyListChanged() {
	m.mu.RLock()
	notifiers := make([]Notifier, len(m.notifiers))
	copy(notifiers, m.notifiers)
	m.mu.RUnlock()

	for _, n := range notifiers {
		n.DownloadListChanged()
	}
}

func (m *Manager) notifyProgress(rec common.DownloadRecord, speed int64) {
	m.mu.RLock()
	notifiers := make([]Notifier, len(m.notifiers))
	copy(notifiers, m.notifiers)
	m.mu.RUnlock()

	for _, n := range notifiers {
		n.DownloadProgressed(rec, speed)
	}
}
