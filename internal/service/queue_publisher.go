// Package queue_publisher publishes allocation events and auto-assign
// requests to RabbitMQ.  Publishing is best effort: errors are logged and
// returned so callers can ignore them without interrupting the request
// flow.
package queue_publisher

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/jobs"
    q "github.com/iliyamo/table-allocation/internal/queue"
    "github.com/iliyamo/table-allocation/internal/telemetry"
)

// Publisher holds one lazily dialled connection and channel.  A failed
// publish drops them so the next call redials.
type Publisher struct {
    url string
    log *logrus.Entry

    mu       sync.Mutex
    conn     *amqp.Connection
    ch       *amqp.Channel
    declared map[string]bool
}

// NewPublisher returns a publisher for url (queue.BrokerURL() when empty).
func NewPublisher(url string, log *logrus.Entry) *Publisher {
    if url == "" {
        url = q.BrokerURL()
    }
    if log == nil {
        log = logrus.NewEntry(logrus.StandardLogger())
    }
    return &Publisher{url: url, log: log, declared: map[string]bool{}}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    p.declared = map[string]bool{}
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.ch, p.conn = nil, nil
}

// Publish marshals v and publishes it persistently to the named durable
// queue through the default exchange.
func (p *Publisher) Publish(ctx context.Context, queue string, v interface{}) error {
    body, err := json.Marshal(v)
    if err != nil {
        p.log.WithError(err).Warn("rabbitmq: marshal failed")
        return err
    }
    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel()
    if err != nil {
        p.log.WithError(err).Warn("rabbitmq: dial failed")
        return err
    }
    if !p.declared[queue] {
        if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
            p.log.WithError(err).WithField("queue", queue).Warn("rabbitmq: queue declare failed")
            p.reset()
            return err
        }
        p.declared[queue] = true
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
        p.log.WithError(err).WithField("queue", queue).Warn("rabbitmq: publish failed")
        p.reset()
        return err
    }
    return nil
}

// PublishAutoAssign enqueues an auto-assign request.
func (p *Publisher) PublishAutoAssign(ctx context.Context, req q.AutoAssignRequest) error {
    if req.RequestedAt == "" {
        req.RequestedAt = time.Now().UTC().Format(time.RFC3339)
    }
    return p.Publish(ctx, q.AutoAssignQueue, req)
}

// Close releases the connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}

// AMQPEmitter forwards telemetry events to the events queue.  Emit never
// blocks the caller: events go through a bounded buffer and are dropped,
// with a warning, when it is full.
type AMQPEmitter struct {
    pub     *Publisher
    timeout time.Duration
    events  chan telemetry.Event
    done    chan struct{}
}

// NewAMQPEmitter starts the forwarding goroutine.
func NewAMQPEmitter(pub *Publisher, buffer int) *AMQPEmitter {
    if buffer <= 0 {
        buffer = 256
    }
    e := &AMQPEmitter{pub: pub, timeout: 3 * time.Second, events: make(chan telemetry.Event, buffer), done: make(chan struct{})}
    go e.loop()
    return e
}

func (e *AMQPEmitter) loop() {
    defer close(e.done)
    for ev := range e.events {
        ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
        if err := e.pub.Publish(ctx, q.EventsQueue, q.FromTelemetry(ev)); err != nil {
            e.pub.log.WithError(err).WithField("event", ev.Name).Debug("rabbitmq: event delivery failed")
        }
        cancel()
    }
}

// Emit implements telemetry.Emitter.
func (e *AMQPEmitter) Emit(ctx context.Context, ev telemetry.Event) {
    select {
    case e.events <- ev:
    default:
        e.pub.log.WithField("event", ev.Name).Warn("rabbitmq: event buffer full, dropping event")
    }
}

// Close stops accepting events and waits for the buffer to drain.
func (e *AMQPEmitter) Close() {
    close(e.events)
    <-e.done
}

// LocalSubmitter runs auto-assign requests in this process.
type LocalSubmitter interface {
    Submit(bookingID string, opts jobs.Options) bool
}

// AutoAssignRouter sends auto-assign requests through the broker so that
// whichever instance consumes allocation.auto_assign runs them.  When the
// broker is unreachable the request goes to the local dispatcher instead.
type AutoAssignRouter struct {
    Pub     *Publisher
    Local   LocalSubmitter
    Timeout time.Duration
}

// Submit implements handler.AutoAssignSubmitter.
func (r *AutoAssignRouter) Submit(bookingID string, opts jobs.Options) bool {
    if r.Pub != nil {
        timeout := r.Timeout
        if timeout <= 0 {
            timeout = 2 * time.Second
        }
        ctx, cancel := context.WithTimeout(context.Background(), timeout)
        defer cancel()
        err := r.Pub.PublishAutoAssign(ctx, q.AutoAssignRequest{
            BookingID:        bookingID,
            Reason:           opts.Reason,
            RequireAdjacency: opts.RequireAdjacency,
            MaxTables:        opts.MaxTables,
        })
        if err == nil {
            return true
        }
        r.Pub.log.WithError(err).WithField("booking_id", bookingID).Warn("rabbitmq: auto-assign publish failed, running locally")
    }
    if r.Local == nil {
        return false
    }
    return r.Local.Submit(bookingID, opts)
}

// OptionsFromRequest converts a consumed request for the dispatcher.
func OptionsFromRequest(req q.AutoAssignRequest) jobs.Options {
    reason := req.Reason
    if reason == "" {
        reason = jobs.ReasonCreation
    }
    return jobs.Options{Reason: reason, RequireAdjacency: req.RequireAdjacency, MaxTables: req.MaxTables}
}
