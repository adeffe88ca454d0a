package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/mirrorsync/mirrorsync/internal/location"
	"github.com/mirrorsync/mirrorsync/internal/utils"
)

const (
	defaultCycleInterval = 30 * time.Second
	cycleBackoffBase     = 2 * time.Second
	cycleBackoffMax      = 5 * time.Minute
)

// Config wires a sync pair. SideA and SideB are required; everything
// else has a usable default.
type Config struct {
	SideA location.Location
	SideB location.Location

	// StateDir holds the journal, the conflict log, and the pair lock.
	StateDir string

	// Interval between full reconciliation cycles.
	Interval time.Duration

	// PollInterval for listing-based observers (zip, ftp).
	PollInterval time.Duration

	Workers   int
	OpTimeout time.Duration

	// Excludes are doublestar globs matched against relative paths.
	Excludes []string
}

// Manager owns one sync pair end to end: the engine, its journal, the
// two change observers, and the state-dir lock that keeps a second
// daemon off the same pair.
type Manager struct {
	cfg       Config
	engine    *SyncEngine
	journal   *SyncJournal
	ignore    *IgnoreList
	tracker   *SyncTracker
	conflicts *ConflictLog
	obsA      Observer
	obsB      Observer
	lock      *flock.Flock
	pairKey   string
	startedAt time.Time
	started   atomic.Bool
	wg        sync.WaitGroup
}

// PairKey derives the state-file discriminator for two location
// strings, so each pair gets its own journal, conflict log, and lock
// under a shared state dir. FTP strings are credential-free, keeping
// the key stable across password changes.
func PairKey(a, b string) string {
	return location.DigestBytes([]byte(a + "\x00" + b))[:12]
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.SideA == nil || cfg.SideB == nil {
		return nil, errors.New("sync: both locations are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCycleInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollEvery
	}

	stateDir, err := utils.ResolvePath(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}
	cfg.StateDir = stateDir
	if err := utils.EnsureDir(stateDir); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	key := PairKey(cfg.SideA.String(), cfg.SideB.String())

	lock := flock.New(filepath.Join(stateDir, "pair-"+key+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("state dir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("pair already being synced by another process (state dir %s)", stateDir)
	}

	ignore := NewIgnoreList(cfg.Excludes)
	if w, ok := cfg.SideA.(location.Watchable); ok {
		ignore.LoadFile(w.WatchRoot())
	}
	if w, ok := cfg.SideB.(location.Watchable); ok {
		ignore.LoadFile(w.WatchRoot())
	}

	journal := NewSyncJournal(filepath.Join(stateDir, "journal-"+key+".db"))
	if err := journal.Open(); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	conflicts := NewConflictLog(filepath.Join(stateDir, "conflicts-"+key+".log"))
	tracker := NewSyncTracker(cfg.SideA.String(), cfg.SideB.String())
	engine := NewSyncEngine(cfg.SideA, cfg.SideB, journal, ignore, conflicts, tracker, cfg.Workers, cfg.OpTimeout)

	obsA := NewObserver(cfg.SideA, ignore, cfg.PollInterval)
	obsB := NewObserver(cfg.SideB, ignore, cfg.PollInterval)
	engine.SetEchoFilter(func(side Side, path string) {
		if side == SideA {
			obsA.IgnoreOnce(path)
		} else {
			obsB.IgnoreOnce(path)
		}
	})

	return &Manager{
		cfg:       cfg,
		engine:    engine,
		journal:   journal,
		ignore:    ignore,
		tracker:   tracker,
		conflicts: conflicts,
		obsA:      obsA,
		obsB:      obsB,
		lock:      lock,
		pairKey:   key,
	}, nil
}

// Start runs the initial full pass, then launches the cycle timer and
// the observer event loop. The initial pass failing on either side is
// fatal: a pair that cannot list at startup is a configuration problem,
// not a transient one.
func (m *Manager) Start(ctx context.Context) error {
	m.startedAt = time.Now()
	slog.Info("sync manager start",
		"sideA", m.cfg.SideA.String(),
		"sideB", m.cfg.SideB.String(),
		"interval", m.cfg.Interval,
		"stateDir", m.cfg.StateDir,
	)

	slog.Info("running initial sync")
	if _, err := m.engine.RunCycle(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	if err := m.obsA.Start(ctx); err != nil {
		return fmt.Errorf("observer %s: %w", m.cfg.SideA.String(), err)
	}
	if err := m.obsB.Start(ctx); err != nil {
		m.obsA.Stop()
		return fmt.Errorf("observer %s: %w", m.cfg.SideB.String(), err)
	}

	m.wg.Add(1)
	go m.runCycleLoop(ctx)

	m.wg.Add(1)
	go m.runEventLoop(ctx)

	m.started.Store(true)
	return nil
}

// RunOnce performs a single full pass without observers or loops.
func (m *Manager) RunOnce(ctx context.Context) (CycleStats, error) {
	m.startedAt = time.Now()
	return m.engine.RunCycle(ctx)
}

// Stop shuts the observers down, waits for the loops to drain, and
// releases the journal and the pair lock. Safe to call on a manager
// whose Start never ran or failed partway.
func (m *Manager) Stop() error {
	slog.Info("sync manager stop")
	if m.started.Swap(false) {
		m.obsA.Stop()
		m.obsB.Stop()
		m.wg.Wait()
	}

	err := m.journal.Close()
	if lockErr := m.lock.Unlock(); err == nil {
		err = lockErr
	}
	slog.Info("sync manager stopped")
	return err
}

// runCycleLoop drives full cycles on a timer. A timer instead of a
// ticker so a slow cycle never queues ticks behind itself. Cycle
// failures stretch the timer with exponential backoff so an
// unreachable side is probed, not hammered.
func (m *Manager) runCycleLoop(ctx context.Context) {
	defer m.wg.Done()

	failures := 0
	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			_, err := m.engine.RunCycle(ctx)
			switch {
			case err == nil, errors.Is(err, ErrCycleRunning):
				failures = 0
				timer.Reset(m.cfg.Interval)
			case errors.Is(err, context.Canceled):
				return
			default:
				failures++
				delay := cycleBackoff(failures)
				var sideErr *SideError
				if errors.As(err, &sideErr) {
					slog.Warn("side unreachable, backing off",
						"side", sideErr.Side,
						"retryIn", delay,
						"error", sideErr.Err,
					)
				} else {
					slog.Error("sync cycle failed", "retryIn", delay, "error", err)
				}
				timer.Reset(delay)
			}
		}
	}
}

func cycleBackoff(failures int) time.Duration {
	delay := cycleBackoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= cycleBackoffMax {
			return cycleBackoffMax
		}
	}
	return delay
}

// runEventLoop feeds observer events into the single-path fast path.
// While either side is unreachable, events are dropped on the floor;
// the full cycle that brings the side back re-lists everything, so
// nothing is lost, only delayed.
func (m *Manager) runEventLoop(ctx context.Context) {
	defer m.wg.Done()

	eventsA := m.obsA.Events()
	eventsB := m.obsB.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventsA:
			if !ok {
				eventsA = nil
				if eventsB == nil {
					return
				}
				continue
			}
			m.handleEvent(ctx, ev)
		case ev, ok := <-eventsB:
			if !ok {
				eventsB = nil
				if eventsA == nil {
					return
				}
				continue
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev ChangeEvent) {
	snap := m.tracker.Snapshot()
	if !snap.SideA.Reachable || !snap.SideB.Reachable {
		slog.Debug("event deferred, side unreachable", "path", ev.Path, "kind", ev.Kind)
		return
	}
	if err := m.engine.ReconcilePath(ctx, ev.Path); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("event sync failed", "path", ev.Path, "kind", ev.Kind, "error", err)
	}
}

// StatusReport is the status API's view of a running pair.
type StatusReport struct {
	SideA        string          `json:"sideA"`
	SideB        string          `json:"sideB"`
	PairKey      string          `json:"pairKey"`
	StartedAt    time.Time       `json:"startedAt"`
	Uptime       string          `json:"uptime"`
	JournalPaths int             `json:"journalPaths"`
	Conflicts    int             `json:"conflictsTotal"`
	Tracker      TrackerSnapshot `json:"tracker"`
}

func (m *Manager) Status() StatusReport {
	snap := m.tracker.Snapshot()
	snap.Retrying = m.engine.RetryingPaths()

	count, err := m.journal.Count()
	if err != nil {
		count = -1
	}

	return StatusReport{
		SideA:        m.cfg.SideA.String(),
		SideB:        m.cfg.SideB.String(),
		PairKey:      m.pairKey,
		StartedAt:    m.startedAt,
		Uptime:       time.Since(m.startedAt).Round(time.Second).String(),
		JournalPaths: count,
		Conflicts:    m.conflicts.Total(),
		Tracker:      snap,
	}
}

// Conflicts returns the most recent resolved conflicts, newest last.
func (m *Manager) Conflicts() []*ConflictRecord {
	return m.conflicts.Recent()
}

// JournalState returns the synced baseline sorted by path.
func (m *Manager) JournalState() ([]*SyncedRecord, error) {
	state, err := m.journal.State()
	if err != nil {
		return nil, err
	}
	records := make([]*SyncedRecord, 0, len(state))
	for _, rec := range state {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}
