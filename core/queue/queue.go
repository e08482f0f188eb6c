package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	usagierrors "github.com/usagi-dev/usagi/core/errors"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	DefaultWorkers        = 4
	DefaultMaxQueueSize   = 1000
	DefaultMaxPerSession  = 100
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	defaultJitterPercent  = 0.1
)

// Config configures a queue.
type Config struct {
	Name           string
	Workers        int
	MaxQueueSize   int
	MaxPerSession  int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:           "analysis",
		Workers:        DefaultWorkers,
		MaxQueueSize:   DefaultMaxQueueSize,
		MaxPerSession:  DefaultMaxPerSession,
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.Name == "" {
		cfg.Name = "queue"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.MaxPerSession <= 0 {
		cfg.MaxPerSession = DefaultMaxPerSession
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return cfg
}

// Handler processes one delivered message. A nil return acknowledges the
// message; an error triggers redelivery with backoff.
type Handler[T any] func(ctx context.Context, msg *Message[T]) error

// DeadLetterSink receives messages whose attempts are exhausted.
type DeadLetterSink interface {
	Add(ctx context.Context, letter DeadLetter) error
}

// =============================================================================
// Queue
// =============================================================================

// Queue delivers messages to a handler with at-least-once semantics. Each
// session gets its own FIFO lane; a round-robin scheduler keeps one busy
// session from starving the rest. Redeliveries go back to the front of their
// lane, so per-session order survives retries.
type Queue[T any] struct {
	mu sync.RWMutex

	cfg     Config
	handler Handler[T]
	dead    DeadLetterSink
	status  *StatusCache
	logger  *slog.Logger

	lanes     map[string]*lane[T]
	laneOrder []string
	current   int

	deliveries chan *Message[T]

	// ctx stops scheduling; handlerCtx outlives Stop so deliveries already
	// handed to a worker finish with a live context instead of being
	// misclassified as failed.
	ctx           context.Context
	cancel        context.CancelFunc
	handlerCtx    context.Context
	handlerCancel context.CancelFunc
	wg            sync.WaitGroup

	running atomic.Bool
	stopped atomic.Bool
	closed  atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	retried   atomic.Int64
	deadCount atomic.Int64
	dropped   atomic.Int64
}

// lane holds pending deliveries for a single session. busy is set while a
// worker holds a message from this lane, so at most one message per session
// is in flight and per-session order is total.
type lane[T any] struct {
	mu      sync.Mutex
	pending []*delivery[T]
	busy    bool
}

type delivery[T any] struct {
	msg     *Message[T]
	readyAt time.Time
}

// New creates a queue. The handler is required; the dead-letter sink and
// status cache are optional.
func New[T any](cfg Config, handler Handler[T], opts ...Option[T]) (*Queue[T], error) {
	if handler == nil {
		return nil, fmt.Errorf("queue handler is required")
	}
	cfg = normalizeConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	handlerCtx, handlerCancel := context.WithCancel(context.Background())
	q := &Queue[T]{
		cfg:           cfg,
		handler:       handler,
		logger:        slog.Default(),
		lanes:         make(map[string]*lane[T]),
		deliveries:    make(chan *Message[T], cfg.MaxQueueSize),
		ctx:           ctx,
		cancel:        cancel,
		handlerCtx:    handlerCtx,
		handlerCancel: handlerCancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("queue", cfg.Name)
	return q, nil
}

// Option customizes a queue.
type Option[T any] func(*Queue[T])

// WithDeadLetters routes exhausted messages into the given sink.
func WithDeadLetters[T any](sink DeadLetterSink) Option[T] {
	return func(q *Queue[T]) { q.dead = sink }
}

// WithStatusCache records message lifecycle transitions in the given cache.
func WithStatusCache[T any](cache *StatusCache) Option[T] {
	return func(q *Queue[T]) { q.status = cache }
}

// WithLogger sets the queue logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(q *Queue[T]) { q.logger = logger }
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start launches the scheduler and workers. A queue runs at most once:
// calling Start after Stop is a no-op.
func (q *Queue[T]) Start() {
	if q.stopped.Load() || q.closed.Load() {
		return
	}
	if q.running.Swap(true) {
		return
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	q.wg.Add(1)
	go q.scheduler()
}

// Stop halts scheduling and waits for in-flight deliveries to finish with a
// live context. Messages still in their lanes are not processed; the analysis
// sweep re-derives their work from the job table on the next start. The
// deliveries channel is closed by the scheduler, never here, so a pending
// send can never hit a closed channel.
func (q *Queue[T]) Stop() {
	if !q.running.Swap(false) {
		return
	}
	q.stopped.Store(true)
	q.cancel()
	q.wg.Wait()
}

// Close stops the queue permanently.
func (q *Queue[T]) Close() error {
	if q.closed.Swap(true) {
		return fmt.Errorf("queue %s already closed", q.cfg.Name)
	}
	q.Stop()
	q.handlerCancel()
	return nil
}

// =============================================================================
// Enqueue
// =============================================================================

// Enqueue submits a payload for delivery and returns its envelope.
func (q *Queue[T]) Enqueue(sessionID string, payload T) (*Message[T], error) {
	msg := NewMessage(sessionID, payload)
	if err := q.enqueue(msg, time.Now()); err != nil {
		return nil, err
	}
	return msg, nil
}

func (q *Queue[T]) enqueue(msg *Message[T], readyAt time.Time) error {
	if !q.running.Load() || q.closed.Load() {
		return fmt.Errorf("queue %s is not running", q.cfg.Name)
	}
	if msg.SessionID == "" {
		return fmt.Errorf("message session id is required")
	}

	q.mu.Lock()
	ln, ok := q.lanes[msg.SessionID]
	if !ok {
		ln = &lane[T]{}
		q.lanes[msg.SessionID] = ln
		q.laneOrder = append(q.laneOrder, msg.SessionID)
	}
	q.mu.Unlock()

	ln.mu.Lock()
	if len(ln.pending) >= q.cfg.MaxPerSession {
		ln.mu.Unlock()
		q.dropped.Add(1)
		return fmt.Errorf("session %s queue is full", msg.SessionID)
	}
	ln.pending = append(ln.pending, &delivery[T]{msg: msg, readyAt: readyAt})
	ln.mu.Unlock()

	q.submitted.Add(1)
	q.recordStatus(msg)
	return nil
}

// requeueFront returns a redelivery to the head of its lane so the session's
// order is preserved across retries.
func (q *Queue[T]) requeueFront(msg *Message[T], readyAt time.Time) {
	q.mu.Lock()
	ln, ok := q.lanes[msg.SessionID]
	if !ok {
		ln = &lane[T]{}
		q.lanes[msg.SessionID] = ln
		q.laneOrder = append(q.laneOrder, msg.SessionID)
	}
	q.mu.Unlock()

	ln.mu.Lock()
	ln.pending = append([]*delivery[T]{{msg: msg, readyAt: readyAt}}, ln.pending...)
	ln.mu.Unlock()
}

// =============================================================================
// Scheduling & delivery
// =============================================================================

func (q *Queue[T]) scheduler() {
	defer q.wg.Done()

	// The scheduler is the only sender, so it owns the close. Workers drain
	// whatever is already buffered and then exit.
	defer close(q.deliveries)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			for {
				msg := q.selectNext(time.Now())
				if msg == nil {
					break
				}
				select {
				case q.deliveries <- msg:
				case <-q.ctx.Done():
					return
				}
			}
		}
	}
}

// selectNext pops the next ready message using round-robin across lanes. A
// lane whose head is backing off is skipped entirely; popping a later entry
// would reorder the session.
func (q *Queue[T]) selectNext(now time.Time) *Message[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < len(q.laneOrder); i++ {
		idx := (q.current + i) % len(q.laneOrder)
		ln := q.lanes[q.laneOrder[idx]]

		ln.mu.Lock()
		if !ln.busy && len(ln.pending) > 0 && !ln.pending[0].readyAt.After(now) {
			d := ln.pending[0]
			ln.pending = ln.pending[1:]
			ln.busy = true
			ln.mu.Unlock()
			q.current = (idx + 1) % len(q.laneOrder)
			return d.msg
		}
		ln.mu.Unlock()
	}
	return nil
}

func (q *Queue[T]) worker() {
	defer q.wg.Done()

	for msg := range q.deliveries {
		if msg == nil {
			continue
		}
		q.deliver(msg)
		q.releaseLane(msg.SessionID)
	}
}

// releaseLane clears the in-flight flag once a delivery attempt finishes.
func (q *Queue[T]) releaseLane(sessionID string) {
	q.mu.RLock()
	ln, ok := q.lanes[sessionID]
	q.mu.RUnlock()
	if !ok {
		return
	}
	ln.mu.Lock()
	ln.busy = false
	ln.mu.Unlock()
}

func (q *Queue[T]) deliver(msg *Message[T]) {
	msg.MarkProcessing()
	q.recordStatus(msg)

	err := q.invokeHandler(msg)
	if err == nil {
		msg.MarkCompleted()
		q.recordStatus(msg)
		q.completed.Add(1)
		return
	}

	msg.MarkFailed(err.Error())
	if usagierrors.TierOf(err).Retryable() && msg.CanRetry(q.cfg.MaxAttempts) {
		delay := q.backoff(msg.Attempt)
		msg.IncrementAttempt()
		q.recordStatus(msg)
		q.retried.Add(1)
		q.logger.Warn("delivery failed, redelivering",
			"message_id", msg.ID,
			"session_id", msg.SessionID,
			"attempt", msg.Attempt,
			"delay", delay,
			"error", err)
		q.requeueFront(msg, time.Now().Add(delay))
		return
	}

	msg.MarkDead(err.Error())
	q.recordStatus(msg)
	q.deadCount.Add(1)
	q.logger.Error("delivery attempts exhausted, dead-lettering",
		"message_id", msg.ID,
		"session_id", msg.SessionID,
		"attempts", msg.Attempt,
		"error", err)
	if q.dead != nil {
		letter, lerr := NewDeadLetter(msg)
		if lerr == nil {
			lerr = q.dead.Add(q.handlerCtx, letter)
		}
		if lerr != nil {
			q.logger.Error("dead-letter write failed",
				"message_id", msg.ID,
				"error", lerr)
		}
	}
}

// invokeHandler runs the handler with panic recovery so one poisonous message
// cannot take a worker down.
func (q *Queue[T]) invokeHandler(msg *Message[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return q.handler(q.handlerCtx, msg)
}

// backoff computes the redelivery delay for a just-failed attempt.
func (q *Queue[T]) backoff(attempt int) time.Duration {
	policy := &usagierrors.RetryPolicy{
		InitialDelay: q.cfg.InitialBackoff,
		MaxDelay:     q.cfg.MaxBackoff,
		Multiplier:   2.0,
	}
	return usagierrors.AddJitter(usagierrors.CalculateDelay(attempt-1, policy), defaultJitterPercent)
}

func (q *Queue[T]) recordStatus(msg *Message[T]) {
	if q.status == nil {
		return
	}
	q.status.Record(StatusRecord{
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		Status:    msg.Status,
		Attempt:   msg.Attempt,
		Error:     msg.Error,
		UpdatedAt: time.Now(),
	})
}

// =============================================================================
// Statistics
// =============================================================================

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Name      string `json:"name"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Retried   int64  `json:"retried"`
	Dead      int64  `json:"dead"`
	Dropped   int64  `json:"dropped"`
	Pending   int    `json:"pending"`
	Sessions  int    `json:"sessions"`
}

// Stats returns current queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pending := 0
	for _, ln := range q.lanes {
		ln.mu.Lock()
		pending += len(ln.pending)
		ln.mu.Unlock()
	}

	return Stats{
		Name:      q.cfg.Name,
		Submitted: q.submitted.Load(),
		Completed: q.completed.Load(),
		Retried:   q.retried.Load(),
		Dead:      q.deadCount.Load(),
		Dropped:   q.dropped.Load(),
		Pending:   pending,
		Sessions:  len(q.lanes),
	}
}
