package jobs

import (
    "context"
    "runtime/debug"
    "sync"
    "time"

    "github.com/sirupsen/logrus"
)

// Runner is what the dispatcher executes; *AutoAssigner satisfies it.
type Runner interface {
    Run(ctx context.Context, bookingID string, opts Options) Outcome
}

type job struct {
    bookingID string
    opts      Options
}

// Dispatcher is a fixed pool of workers reading from a bounded queue.
// Submit never blocks: a full queue is reported to the caller.
type Dispatcher struct {
    runner  Runner
    timeout time.Duration
    log     *logrus.Entry
    jobs    chan job
    wg      sync.WaitGroup

    mu     sync.RWMutex
    closed bool

    // OnDone, when set, receives every finished outcome.
    OnDone func(Outcome)
}

// NewDispatcher starts workers goroutines over a queue of queueSize.
// Each run gets its own context bounded by timeout.
func NewDispatcher(r Runner, workers, queueSize int, timeout time.Duration, log *logrus.Entry) *Dispatcher {
    if workers < 1 {
        workers = 1
    }
    if queueSize < 1 {
        queueSize = 1
    }
    if timeout <= 0 {
        timeout = 10 * time.Minute
    }
    if log == nil {
        log = logrus.NewEntry(logrus.StandardLogger())
    }
    d := &Dispatcher{runner: r, timeout: timeout, log: log, jobs: make(chan job, queueSize)}
    d.wg.Add(workers)
    for i := 0; i < workers; i++ {
        go d.worker(i)
    }
    return d
}

// Submit queues a run.  It returns false when the queue is full or the
// dispatcher is closed.
func (d *Dispatcher) Submit(bookingID string, opts Options) bool {
    d.mu.RLock()
    defer d.mu.RUnlock()
    if d.closed {
        return false
    }
    select {
    case d.jobs <- job{bookingID: bookingID, opts: opts}:
        return true
    default:
        d.log.WithField("booking_id", bookingID).Warn("auto-assign: queue full, request dropped")
        return false
    }
}

// Close stops accepting work and waits for queued runs to finish.
func (d *Dispatcher) Close() {
    d.mu.Lock()
    if d.closed {
        d.mu.Unlock()
        return
    }
    d.closed = true
    close(d.jobs)
    d.mu.Unlock()
    d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
    defer d.wg.Done()
    for j := range d.jobs {
        d.run(id, j)
    }
}

func (d *Dispatcher) run(id int, j job) {
    log := d.log.WithFields(logrus.Fields{"worker": id, "booking_id": j.bookingID})
    defer func() {
        if r := recover(); r != nil {
            log.WithField("panic", r).Errorf("auto-assign: worker recovered from panic\n%s", debug.Stack())
        }
    }()
    ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
    defer cancel()
    out := d.runner.Run(ctx, j.bookingID, j.opts)
    log.WithFields(logrus.Fields{"result": out.Result, "attempts": out.Attempts}).Debug("auto-assign: run finished")
    if d.OnDone != nil {
        d.OnDone(out)
    }
}
