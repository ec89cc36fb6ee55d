// Package monitor polls a status oracle for every active payment reference
// and drives each one to a terminal state.
//
// All references share one scheduler goroutine. Each tick snapshots the
// active sessions, checks them concurrently, waits for every check and only
// then applies the results, so a reference never has two checks outstanding.
// When the loop is running, transition handlers run on a separate goroutine
// fed by a bounded queue, so a slow handler never delays the next tick.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/metrics"
	"github.com/vybzcody/paymebro-sub003/internal/models"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultTimeout        = 5 * time.Minute
	DefaultHandlerTimeout = 10 * time.Second

	transitionQueueSize = 256
)

var (
	ErrAlreadyMonitoring = errors.New("reference already monitored")
	ErrInvalidReference  = errors.New("invalid reference")
)

// StatusResult is what the oracle knows about a reference.
type StatusResult struct {
	Found           bool
	Matches         bool
	Signature       string
	TerminalFailure bool
}

// Oracle looks up the on-chain state of a reference.
type Oracle interface {
	CheckStatus(ctx context.Context, reference string, expected models.ExpectedPayment) (StatusResult, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, reference string, expected models.ExpectedPayment) (StatusResult, error)

func (f OracleFunc) CheckStatus(ctx context.Context, reference string, expected models.ExpectedPayment) (StatusResult, error) {
	return f(ctx, reference, expected)
}

// Transition is reported once per session, when it leaves pending.
type Transition struct {
	Reference string
	From      models.Status
	To        models.Status
	Signature string
	Reason    string
	Expected  models.ExpectedPayment
	At        time.Time
}

type TransitionHandler func(ctx context.Context, t Transition)

type session struct {
	models.MonitoringSession
	inFlight bool
}

type checkResult struct {
	res StatusResult
	err error
}

type Monitor struct {
	oracle         Oracle
	interval       time.Duration
	timeout        time.Duration
	checkTimeout   time.Duration
	handlerTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	handlers []TransitionHandler

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	drained chan struct{}
}

type Option func(m *Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithCheckTimeout bounds a single oracle call. Defaults to the interval.
func WithCheckTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.checkTimeout = d
		}
	}
}

// WithHandlerTimeout bounds a single transition handler call.
func WithHandlerTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.handlerTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

func New(oracle Oracle, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		oracle:         oracle,
		interval:       DefaultInterval,
		timeout:        DefaultTimeout,
		handlerTimeout: DefaultHandlerTimeout,
		now:            time.Now,
		logger:         logger,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.checkTimeout == 0 {
		m.checkTimeout = m.interval
	}
	return m
}

// OnTransition registers h. Handlers run in registration order after the
// session has already left the active set. Each call gets a context bounded
// by the handler timeout; a panicking handler does not affect the others.
func (m *Monitor) OnTransition(h TransitionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// StartMonitoring moves reference from idle to pending.
func (m *Monitor) StartMonitoring(reference string, expected models.ExpectedPayment) error {
	if reference == "" {
		return ErrInvalidReference
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[reference]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMonitoring, reference)
	}
	m.sessions[reference] = &session{
		MonitoringSession: models.MonitoringSession{
			Reference: reference,
			Expected:  expected,
			Status:    models.StatusPending,
			StartedAt: m.now(),
		},
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Debug("monitoring started", zap.String("reference", reference))
	return nil
}

// StopMonitoring drops the session without a transition. A check already in
// flight for it is discarded when it returns. Unknown references are a no-op.
func (m *Monitor) StopMonitoring(reference string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[reference]; !ok {
		return false
	}
	delete(m.sessions, reference)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Debug("monitoring stopped", zap.String("reference", reference))
	return true
}

// Session returns a copy of the active session for reference.
func (m *Monitor) Session(reference string) (models.MonitoringSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[reference]
	if !ok {
		return models.MonitoringSession{}, false
	}
	return s.MonitoringSession, true
}

// Active lists the monitored references in sorted order.
func (m *Monitor) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]string, 0, len(m.sessions))
	for ref := range m.sessions {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Start runs the polling loop until ctx is done or Shutdown is called.
func (m *Monitor) Start(ctx context.Context) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	queue := make(chan Transition, transitionQueueSize)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.drained = make(chan struct{})
	go m.run(ctx, queue, m.done)
	go m.drain(ctx, queue, m.drained)
	m.logger.Info("payment monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout),
	)
}

func (m *Monitor) run(ctx context.Context, queue chan<- Transition, done chan struct{}) {
	defer close(done)
	defer close(queue)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, t := range m.tick(ctx) {
			// blocks only when transitionQueueSize handlers are backed up
			select {
			case queue <- t:
			case <-ctx.Done():
				m.dispatch(ctx, t)
			}
		}
	}
}

// drain delivers queued transitions until run closes the queue.
func (m *Monitor) drain(ctx context.Context, queue <-chan Transition, drained chan struct{}) {
	defer close(drained)
	for t := range queue {
		m.dispatch(ctx, t)
	}
}

// Shutdown stops the loop, waits for the current tick and the queued
// handlers, then forgets every session.
func (m *Monitor) Shutdown() {
	m.lifeMu.Lock()
	cancel, done, drained := m.cancel, m.done, m.drained
	m.cancel, m.done, m.drained = nil, nil, nil
	m.lifeMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		<-drained
	}

	m.mu.Lock()
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(0)
	m.logger.Info("payment monitor stopped")
}

// Tick runs one polling cycle and calls the handlers for its transitions
// before returning.
func (m *Monitor) Tick(ctx context.Context) {
	for _, t := range m.tick(ctx) {
		m.dispatch(ctx, t)
	}
}

func (m *Monitor) tick(ctx context.Context) []Transition {
	start := time.Now()

	m.mu.Lock()
	batch := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.inFlight {
			continue
		}
		s.inFlight = true
		batch = append(batch, s)
	}
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	results := make([]checkResult, len(batch))
	var wg sync.WaitGroup
	for i, s := range batch {
		wg.Add(1)
		go func(i int, reference string, expected models.ExpectedPayment) {
			defer wg.Done()
			results[i] = m.check(ctx, reference, expected)
		}(i, s.Reference, s.Expected)
	}
	wg.Wait()

	var transitions []Transition
	m.mu.Lock()
	for i, s := range batch {
		if t, ok := m.apply(s, results[i]); ok {
			transitions = append(transitions, t)
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, t := range transitions {
		metrics.Transitions.WithLabelValues(string(t.To)).Inc()
		m.logger.Info("payment reached terminal state",
			zap.String("reference", t.Reference),
			zap.String("status", string(t.To)),
			zap.String("signature", t.Signature),
			zap.String("reason", t.Reason),
		)
	}
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	return transitions
}

func (m *Monitor) dispatch(ctx context.Context, t Transition) {
	m.mu.Lock()
	handlers := append([]TransitionHandler(nil), m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		m.callHandler(ctx, h, t)
	}
}

// callHandler outlives ctx cancellation so terminal states queued before
// shutdown are still persisted, but never runs past handlerTimeout.
func (m *Monitor) callHandler(ctx context.Context, h TransitionHandler, t Transition) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("transition handler panicked",
				zap.String("reference", t.Reference),
				zap.Any("panic", r),
			)
		}
	}()
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.handlerTimeout)
	defer cancel()
	h(hctx, t)
}

// check isolates one oracle call: errors and panics stay with their reference.
func (m *Monitor) check(ctx context.Context, reference string, expected models.ExpectedPayment) (out checkResult) {
	defer func() {
		if r := recover(); r != nil {
			out = checkResult{err: fmt.Errorf("oracle panic: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	res, err := m.oracle.CheckStatus(ctx, reference, expected)
	return checkResult{res: res, err: err}
}

// apply must be called with m.mu held.
func (m *Monitor) apply(s *session, r checkResult) (Transition, bool) {
	if current, ok := m.sessions[s.Reference]; !ok || current != s {
		// stopped while the check was in flight
		metrics.OracleChecks.WithLabelValues("discarded").Inc()
		return Transition{}, false
	}
	s.inFlight = false
	s.Checks++

	now := m.now()
	expired := now.Sub(s.StartedAt) > m.timeout

	if r.err != nil {
		metrics.OracleChecks.WithLabelValues("error").Inc()
		s.LastError = r.err.Error()
		m.logger.Warn("status check failed",
			zap.String("reference", s.Reference),
			zap.Int("checks", s.Checks),
			zap.Error(r.err),
		)
		if expired {
			return m.finish(s, models.StatusTimeout, "", "", now), true
		}
		return Transition{}, false
	}
	s.LastError = ""

	switch {
	case r.res.TerminalFailure:
		metrics.OracleChecks.WithLabelValues("failed").Inc()
		return m.finish(s, models.StatusFailed, r.res.Signature, models.ReasonTransactionFailed, now), true
	case r.res.Found && r.res.Matches:
		metrics.OracleChecks.WithLabelValues("confirmed").Inc()
		return m.finish(s, models.StatusConfirmed, r.res.Signature, "", now), true
	case r.res.Found:
		metrics.OracleChecks.WithLabelValues("mismatch").Inc()
		return m.finish(s, models.StatusFailed, r.res.Signature, models.ReasonValidationMismatch, now), true
	}

	metrics.OracleChecks.WithLabelValues("not_found").Inc()
	if expired {
		return m.finish(s, models.StatusTimeout, "", "", now), true
	}
	return Transition{}, false
}

func (m *Monitor) finish(s *session, to models.Status, signature, reason string, at time.Time) Transition {
	from := s.Status
	s.Status = to
	s.Signature = signature
	s.FailureReason = reason
	delete(m.sessions, s.Reference)

	return Transition{
		Reference: s.Reference,
		From:      from,
		To:        to,
		Signature: signature,
		Reason:    reason,
		Expected:  s.Expected,
		At:        at,
	}
}
