// Package manager implements the scheduler: it tracks which proxies are due
// for a recheck and dispatches them to the least-loaded Worker. It never
// touches the Store's results directly; it only reads the proxy registry to
// decide *when*, leaving *what happens to a dispatched proxy* entirely to
// the Worker it hands it to.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"proxycheck/internal/store"
	"proxycheck/pkg/types"
)

// ScheduleEntry tracks one proxy's recheck timing.
type ScheduleEntry struct {
	Proxy        types.Proxy
	LastProbedAt time.Time // zero value means "never probed"
	NextDueAt    time.Time // zero value means "one-shot, not re-dispatched"
	hasLast      bool
	hasNext      bool
}

func (e ScheduleEntry) due(now time.Time) bool {
	if !e.hasLast {
		return true
	}
	return e.hasNext && !e.NextDueAt.After(now)
}

// DispatchTarget is the minimal surface the Manager needs from a Worker, so
// this package can be tested with a fake instead of the real worker.Worker.
type DispatchTarget interface {
	Put(types.Proxy) bool
	QueueSize() int
}

// Manager owns the schedule map and the tick/resync loops.
type Manager struct {
	store        store.Store
	workers      []DispatchTarget
	tickInterval time.Duration
	syncInterval time.Duration
	log          *logrus.Entry

	mu       sync.Mutex
	schedule map[string]*ScheduleEntry

	stopCh  chan struct{}
	stopped chan struct{}
}

// New builds a Manager dispatching across workers, ticking at tickInterval
// and resyncing its schedule from st every syncInterval.
func New(st store.Store, workers []DispatchTarget, tickInterval, syncInterval time.Duration, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		store:        st,
		workers:      workers,
		tickInterval: tickInterval,
		syncInterval: syncInterval,
		log:          log.WithField("component", "manager"),
		schedule:     make(map[string]*ScheduleEntry),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Put inserts p into the schedule as immediately due, unless already
// tracked.
func (m *Manager) Put(p types.Proxy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedule[p.Key()]; ok {
		return
	}
	m.schedule[p.Key()] = &ScheduleEntry{Proxy: p}
}

// Start begins the tick and resync loops in a new goroutine.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop signals the run loop to exit.
func (m *Manager) Stop() { close(m.stopCh) }

// WaitStop blocks until the run loop has exited.
func (m *Manager) WaitStop() { <-m.stopped }

func (m *Manager) run(ctx context.Context) {
	defer close(m.stopped)

	if err := m.resync(ctx); err != nil {
		m.log.WithError(err).Warn("initial schedule sync failed")
	}

	tick := time.NewTicker(m.tickInterval)
	defer tick.Stop()
	resyncTick := time.NewTicker(m.syncInterval)
	defer resyncTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-tick.C:
			m.dispatchDue()
		case <-resyncTick.C:
			if err := m.resync(ctx); err != nil {
				m.log.WithError(err).Warn("schedule sync failed")
			}
		}
	}
}

// resync re-queries the Store for all proxies and inserts any not yet
// tracked. It never evicts stale entries: dispatching a proxy the Store no
// longer knows about is a harmless no-op in the Worker (ChecksFor returns
// nothing to fan out to).
func (m *Manager) resync(ctx context.Context) error {
	rows, err := m.store.ListProxies(ctx, types.ListAll)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		key := row.Proxy.Key()
		if _, ok := m.schedule[key]; !ok {
			m.schedule[key] = &ScheduleEntry{Proxy: row.Proxy}
		}
	}
	return nil
}

// dispatchDue dispatches every due entry to the least-loaded Worker.
func (m *Manager) dispatchDue() {
	if len(m.workers) == 0 {
		return
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.schedule {
		if !entry.due(now) {
			continue
		}

		target := m.leastLoaded()
		if !target.Put(entry.Proxy) {
			// Dropped by a full inbox: leave the entry as it was so the
			// proxy is offered again on the next tick.
			continue
		}

		entry.LastProbedAt = now
		entry.hasLast = true
		if entry.Proxy.RecheckEvery != nil {
			entry.NextDueAt = now.Add(time.Duration(*entry.Proxy.RecheckEvery) * time.Second)
			entry.hasNext = true
		} else {
			entry.hasNext = false
		}
	}
}

// leastLoaded returns the Worker with the smallest current inbox size,
// breaking ties by position (arbitrary but deterministic).
func (m *Manager) leastLoaded() DispatchTarget {
	best := m.workers[0]
	bestSize := best.QueueSize()
	for _, w := range m.workers[1:] {
		if size := w.QueueSize(); size < bestSize {
			best = w
			bestSize = size
		}
	}
	return best
}
