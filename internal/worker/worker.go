// Package worker implements the bounded-concurrency probe runner the
// Manager dispatches proxies to. A Worker owns nothing about *when* a proxy
// should be rechecked — it only fans a dequeued proxy out across its
// associated checks and reaps the resulting CheckResults into the Store.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"proxycheck/internal/logger"
	"proxycheck/internal/prober"
	"proxycheck/internal/store"
	"proxycheck/pkg/types"
)

// State is the Worker's lifecycle flag.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// probeOutcome is what an in-flight Prober invocation reports back: either a
// CheckResult to persist, or an error that escaped the ErrorKind taxonomy
// entirely and must propagate rather than be folded into a recorded result.
// It also carries the proxy/check the probe ran against, since reapCompleted
// (not dispatch) is where the outcome is logged and persisted.
type probeOutcome struct {
	proxy  types.Proxy
	check  types.CheckDefinition
	result types.CheckResult
	err    error
}

// inFlightTask is one outstanding Prober invocation.
type inFlightTask struct {
	done   chan probeOutcome
	cancel context.CancelFunc
}

// Worker owns a bounded set of concurrent Prober invocations fed from a
// single inbox. Proxies arrive from the Manager; every CheckDefinition
// associated with a dequeued proxy gets its own probe.
type Worker struct {
	ID          string
	MaxInFlight int

	store store.Store
	log   *logrus.Entry

	inbox chan types.Proxy

	state     atomic.Int32
	startTime time.Time

	mu        sync.Mutex
	inFlight  map[string]inFlightTask
	nextTaskN uint64

	processedCount atomic.Uint64

	stopped chan struct{}
}

// New builds a Worker backed by st for result persistence, with inboxSize
// slots of slack so the Manager's non-blocking put rarely drops a dispatch.
func New(id string, maxInFlight, inboxSize int, st store.Store, log *logrus.Entry) *Worker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{
		ID:          id,
		MaxInFlight: maxInFlight,
		store:       st,
		log:         log.WithField("worker", id),
		inbox:       make(chan types.Proxy, inboxSize),
		inFlight:    make(map[string]inFlightTask),
		stopped:     make(chan struct{}),
	}
}

// Put enqueues a Proxy without blocking. If the inbox is full the proxy is
// dropped; the Manager will simply re-offer it on a later tick since it only
// records a dispatch in its schedule map when Put succeeds.
func (w *Worker) Put(p types.Proxy) bool {
	select {
	case w.inbox <- p:
		return true
	default:
		w.log.WithField("proxy", p.Key()).Warn("inbox full, dropping dispatch")
		return false
	}
}

// QueueSize reports how many proxies are waiting in the inbox.
func (w *Worker) QueueSize() int { return len(w.inbox) }

// InFlight reports the number of probes currently outstanding.
func (w *Worker) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inFlight)
}

// Performance reports the Worker's lifetime throughput in results/sec.
func (w *Worker) Performance() float64 {
	elapsed := time.Since(w.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(w.processedCount.Load()) / elapsed
}

// State reports the Worker's current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Start transitions idle→running and begins the main loop in a new
// goroutine. Calling Start twice is a no-op.
func (w *Worker) Start(ctx context.Context) {
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return
	}
	w.startTime = time.Now()
	go w.run(ctx)
}

// Stop transitions running→draining: the main loop finishes in-flight
// probes and anything already queued in the inbox, then stops. It does not
// cancel outstanding probes.
func (w *Worker) Stop() {
	w.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
}

// WaitStop blocks until the Worker has reached the stopped state.
func (w *Worker) WaitStop() {
	<-w.stopped
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)

	for {
		if w.State() == StateStopped {
			return
		}

		draining := w.State() == StateDraining

		// Step 1: dequeue and fan out, unless at the ceiling. This also runs
		// while draining, so proxies already queued still get probed.
		if w.InFlight() < w.MaxInFlight {
			select {
			case p, ok := <-w.inbox:
				if ok {
					w.dispatch(ctx, p)
				}
			default:
			}
		}

		// Step 2: reap anything that has completed.
		w.reapCompleted()

		inFlight := w.InFlight()
		queue := w.QueueSize()

		// Step 4: fully drained.
		if queue == 0 && inFlight == 0 {
			if draining {
				w.state.Store(int32(StateStopped))
				return
			}
			select {
			case <-ctx.Done():
				w.state.Store(int32(StateStopped))
				return
			case <-time.After(25 * time.Millisecond):
			}
			continue
		}

		// Step 3: back-pressure — yield while saturated or draining a tail
		// of in-flight work with nothing new to dequeue.
		if inFlight >= w.MaxInFlight || (queue == 0 && inFlight > 0) {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// dispatch looks up P's associated CheckDefinitions and launches one Prober
// goroutine per definition, each under its own deadline derived from the
// definition's timeout.
func (w *Worker) dispatch(ctx context.Context, p types.Proxy) {
	checks, err := w.store.ChecksFor(ctx, p.ID)
	if err != nil {
		w.log.WithError(err).WithField("proxy", p.Key()).Warn("failed to load checks for proxy")
		return
	}

	for _, check := range checks {
		taskCtx, cancel := context.WithCancel(ctx)
		done := make(chan probeOutcome, 1)

		w.mu.Lock()
		w.nextTaskN++
		taskID := taskKey(p.ID, check.ID, w.nextTaskN)
		w.inFlight[taskID] = inFlightTask{done: done, cancel: cancel}
		w.mu.Unlock()

		go func(p types.Proxy, c types.CheckDefinition, taskID string) {
			result, err := prober.Probe(taskCtx, p, c)
			done <- probeOutcome{proxy: p, check: c, result: result, err: err}
		}(p, check, taskID)
	}
}

// reapCompleted collects any finished probes, persists their results, and
// removes them from the in-flight set.
func (w *Worker) reapCompleted() {
	w.mu.Lock()
	var finished []string
	for id, task := range w.inFlight {
		select {
		case outcome := <-task.done:
			task.cancel()
			if outcome.err != nil {
				// An unclassified transport error is a bug in the taxonomy,
				// not a proxy failure: it propagates here instead of being
				// silently folded into a recorded is_passed=false result.
				w.log.WithError(outcome.err).WithField("task", id).
					Error("probe returned an error outside the classified taxonomy")
			} else {
				logger.LogProbe(w.log, outcome.proxy, outcome.check, outcome.result)
				w.persist(outcome.result)
			}
			finished = append(finished, id)
		default:
		}
	}
	for _, id := range finished {
		delete(w.inFlight, id)
	}
	w.mu.Unlock()
}

func (w *Worker) persist(result types.CheckResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.store.RecordResult(ctx, result); err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{
			"proxy_id": result.ProxyID,
			"check_id": result.CheckID,
		}).Error("failed to record check result")
	}
	w.processedCount.Add(1)
}

func taskKey(proxyID, checkID uint, n uint64) string {
	return fmt.Sprintf("%d-%d-%d", proxyID, checkID, n)
}
