package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/metrics"
)

// Transport is the live progress channel attached to one job. The registry
// is the only writer; implementations serialize their own frame delivery.
type Transport interface {
	Send(payload []byte) error
	Close() error
}

const (
	defaultReadyTimeout = 5 * time.Second

	// How long a terminal actor lingers so late snapshot reads and
	// reconnects still find the outcome.
	defaultLinger = 2 * time.Minute

	// How long an actor created by a bare websocket connect may sit with
	// no registered work before it is reaped.
	defaultOrphanTimeout = 5 * time.Minute

	cancelRestoreTimeout = time.Second
)

// Snapshot is the point-in-time view of a job returned to status reads.
type Snapshot struct {
	Job    domain.Job        `json:"job"`
	Result *domain.JobResult `json:"result,omitempty"`
}

// actorState is owned exclusively by the actor goroutine. Nothing outside
// run() touches it.
type actorState struct {
	job       domain.Job
	transport Transport
	readyCh   chan struct{}
	ready     bool
	started   bool
	canceled  bool
	result    *domain.JobResult
	removed   bool
}

type jobActor struct {
	id       string
	commands chan func(*actorState)
	stopped  chan struct{}
	stopOnce sync.Once
}

func newJobActor(id string) *jobActor {
	actor := &jobActor{
		id:       id,
		commands: make(chan func(*actorState)),
		stopped:  make(chan struct{}),
	}
	go actor.run()
	return actor
}

func (a *jobActor) run() {
	state := actorState{
		job:     domain.Job{JobID: a.id, Status: domain.JobQueued},
		readyCh: make(chan struct{}),
	}
	for {
		select {
		case fn := <-a.commands:
			fn(&state)
		case <-a.stopped:
			if state.transport != nil {
				_ = state.transport.Close()
			}
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it. Returns false if the
// actor is already stopped.
func (a *jobActor) do(fn func(*actorState)) bool {
	done := make(chan struct{})
	select {
	case a.commands <- func(s *actorState) {
		fn(s)
		close(done)
	}:
	case <-a.stopped:
		return false
	}
	select {
	case <-done:
		return true
	case <-a.stopped:
		return false
	}
}

func (a *jobActor) stop() {
	a.stopOnce.Do(func() { close(a.stopped) })
}

// Registry tracks background jobs and their progress channels. Each job is
// served by its own actor goroutine, so concurrent jobs never serialize
// against each other; the registry mutex guards only actor lookup.
type Registry struct {
	mu     sync.Mutex
	actors map[string]*jobActor

	store         CancelStore
	readyTimeout  time.Duration
	linger        time.Duration
	orphanTimeout time.Duration
	logger        *slog.Logger
}

type RegistryOption func(*Registry)

func WithCancelStore(store CancelStore) RegistryOption {
	return func(r *Registry) {
		if store != nil {
			r.store = store
		}
	}
}

func WithReadyTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.readyTimeout = timeout
		}
	}
}

func WithLinger(linger time.Duration) RegistryOption {
	return func(r *Registry) {
		if linger >= 0 {
			r.linger = linger
		}
	}
}

// WithOrphanTimeout overrides how long a connect-only actor survives
// without registered work.
func WithOrphanTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.orphanTimeout = timeout
		}
	}
}

func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	registry := &Registry{
		actors:        make(map[string]*jobActor),
		store:         NewMemoryCancelStore(),
		readyTimeout:  defaultReadyTimeout,
		linger:        defaultLinger,
		orphanTimeout: defaultOrphanTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(registry)
	}
	return registry
}

func (r *Registry) actorFor(jobID string, create bool) (*jobActor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor := r.actors[jobID]
	if actor == nil && create {
		actor = newJobActor(jobID)
		r.actors[jobID] = actor
		return actor, true
	}
	return actor, false
}

// adoptConnectOnly handles an actor created by a transport attach rather
// than by registered work. The durable cancel flag is restored so a
// canceled job cannot reappear as queued after its actor was dropped,
// and an actor whose work never arrives is reaped instead of living
// forever on an unauthenticated endpoint.
func (r *Registry) adoptConnectOnly(actor *jobActor) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelRestoreTimeout)
	defer cancel()
	if canceled, err := r.store.IsCanceled(ctx, actor.id); err != nil {
		r.logger.Warn("cancel store read failed", slog.String("jobId", actor.id), slog.String("error", err.Error()))
	} else if canceled {
		actor.do(func(s *actorState) {
			s.canceled = true
			s.job.Status = domain.JobCanceled
			s.job.StatusText = "canceled by client"
		})
	}

	time.AfterFunc(r.orphanTimeout, func() {
		started := false
		if !actor.do(func(s *actorState) { started = s.started }) {
			return
		}
		if started {
			return
		}
		r.mu.Lock()
		if r.actors[actor.id] == actor {
			delete(r.actors, actor.id)
		}
		r.mu.Unlock()
		actor.stop()
	})
}

func (r *Registry) dropAfterLinger(actor *jobActor) {
	time.AfterFunc(r.linger, func() {
		r.mu.Lock()
		if r.actors[actor.id] == actor {
			delete(r.actors, actor.id)
		}
		r.mu.Unlock()
		actor.stop()
	})
}

// Attach registers a live transport for the job, creating the queued actor
// if the client connected before the work was registered. The previous
// transport, if any, is closed. A connected ack frame is sent immediately;
// if the job is already terminal a final status frame follows so late
// reconnects learn the outcome.
func (r *Registry) Attach(jobID string, transport Transport) error {
	actor, created := r.actorFor(jobID, true)
	if created {
		r.adoptConnectOnly(actor)
	}
	ok := actor.do(func(s *actorState) {
		if s.transport != nil {
			_ = s.transport.Close()
		}
		s.transport = transport
		sendFrame(s, "connected", domain.ProgressUpdate{
			ProcessedItems: s.job.ProcessedItems,
			TotalItems:     s.job.TotalItems,
			CurrentStatus:  string(s.job.Status),
		})
		if s.job.Status.Terminal() {
			sendFrame(s, string(s.job.Status), domain.ProgressUpdate{
				Progress:       1,
				ProcessedItems: s.job.ProcessedItems,
				TotalItems:     s.job.TotalItems,
				CurrentStatus:  s.job.StatusText,
			})
		}
	})
	if !ok {
		return domain.ErrJobNotFound
	}
	return nil
}

// Detach removes the transport if it is still the attached one. Called by
// the transport itself when the peer goes away.
func (r *Registry) Detach(jobID string, transport Transport) {
	actor, _ := r.actorFor(jobID, false)
	if actor == nil {
		return
	}
	actor.do(func(s *actorState) {
		if s.transport == transport {
			s.transport = nil
		}
	})
}

// Start registers the work for a job and moves it to active. The actor may
// already exist if the client connected first.
func (r *Registry) Start(ctx context.Context, jobID string, jobType domain.JobType, totalItems int) error {
	if canceled, err := r.store.IsCanceled(ctx, jobID); err != nil {
		r.logger.Warn("cancel store read failed", slog.String("jobId", jobID), slog.String("error", err.Error()))
	} else if canceled {
		return domain.ErrJobCanceled
	}

	actor, _ := r.actorFor(jobID, true)
	var startErr error
	ok := actor.do(func(s *actorState) {
		if s.canceled {
			startErr = domain.ErrJobCanceled
			return
		}
		if s.job.Status.Terminal() {
			startErr = domain.ErrJobTerminal
			return
		}
		s.started = true
		s.job.Type = jobType
		s.job.TotalItems = totalItems
		s.job.Status = domain.JobActive
	})
	if !ok {
		return domain.ErrJobNotFound
	}
	if startErr != nil {
		return startErr
	}
	metrics.JobsStartedTotal.WithLabelValues(string(jobType)).Inc()
	metrics.JobsActive.Inc()
	return nil
}

// MarkReady flags the progress channel as consumer-ready, releasing any
// driver blocked in WaitReady. Idempotent.
func (r *Registry) MarkReady(jobID string) error {
	actor, _ := r.actorFor(jobID, false)
	if actor == nil {
		return domain.ErrJobNotFound
	}
	if !actor.do(func(s *actorState) {
		if !s.ready {
			s.ready = true
			close(s.readyCh)
		}
	}) {
		return domain.ErrJobNotFound
	}
	return nil
}

// WaitReady blocks until the client signals readiness or the soft timeout
// lapses. It returns true when the handshake completed; on timeout the
// caller proceeds anyway and pushes become fire-and-forget.
func (r *Registry) WaitReady(ctx context.Context, jobID string) bool {
	actor, _ := r.actorFor(jobID, false)
	if actor == nil {
		return false
	}
	var readyCh chan struct{}
	if !actor.do(func(s *actorState) { readyCh = s.readyCh }) {
		return false
	}

	timer := time.NewTimer(r.readyTimeout)
	defer timer.Stop()
	select {
	case <-readyCh:
		return true
	case <-timer.C:
		r.logger.Warn("progress channel not ready, proceeding without handshake",
			slog.String("jobId", jobID),
			slog.Duration("waited", r.readyTimeout),
		)
		return false
	case <-ctx.Done():
		return false
	}
}

// Push forwards one progress update to the job's transport. The durable
// canceled flag is consulted first so a driver learns about cancellation
// at its next item boundary. Delivery is at-most-once: with no transport
// attached the update is dropped silently.
func (r *Registry) Push(ctx context.Context, jobID string, update domain.ProgressUpdate) error {
	if canceled, err := r.store.IsCanceled(ctx, jobID); err != nil {
		r.logger.Warn("cancel store read failed", slog.String("jobId", jobID), slog.String("error", err.Error()))
	} else if canceled {
		metrics.ProgressPushesTotal.WithLabelValues("canceled").Inc()
		return domain.ErrJobCanceled
	}

	actor, _ := r.actorFor(jobID, false)
	if actor == nil {
		return domain.ErrJobNotFound
	}
	var pushErr error
	ok := actor.do(func(s *actorState) {
		if s.canceled {
			pushErr = domain.ErrJobCanceled
			return
		}
		if s.job.Status.Terminal() {
			return
		}
		s.job.ProcessedItems = update.ProcessedItems
		if update.TotalItems > 0 {
			s.job.TotalItems = update.TotalItems
		}
		s.job.StatusText = update.CurrentStatus
		sendFrame(s, "progress", update)
	})
	if !ok {
		return domain.ErrJobNotFound
	}
	return pushErr
}

// Complete transitions the job to its successful terminal state, pushes
// the final frame and releases the channel.
func (r *Registry) Complete(jobID string, result *domain.JobResult) error {
	return r.finish(jobID, domain.JobCompleted, "", result)
}

// Fail transitions the job to failed. Partial results gathered before the
// failure are retained in the snapshot.
func (r *Registry) Fail(jobID, message string, result *domain.JobResult) error {
	return r.finish(jobID, domain.JobFailed, message, result)
}

func (r *Registry) finish(jobID string, status domain.JobStatus, message string, result *domain.JobResult) error {
	actor, _ := r.actorFor(jobID, false)
	if actor == nil {
		return domain.ErrJobNotFound
	}
	var finishErr error
	wasActive := false
	ok := actor.do(func(s *actorState) {
		if s.job.Status.Terminal() {
			finishErr = domain.ErrJobTerminal
			return
		}
		wasActive = s.job.Status == domain.JobActive
		s.job.Status = status
		s.job.StatusText = message
		s.result = result
		sendFrame(s, string(status), domain.ProgressUpdate{
			Progress:       1,
			ProcessedItems: s.job.ProcessedItems,
			TotalItems:     s.job.TotalItems,
			CurrentStatus:  message,
			Error:          message,
		})
		if s.transport != nil {
			_ = s.transport.Close()
			s.transport = nil
		}
	})
	if !ok {
		return domain.ErrJobNotFound
	}
	if finishErr != nil {
		return finishErr
	}
	if wasActive {
		metrics.JobsActive.Dec()
	}
	metrics.JobsFinishedTotal.WithLabelValues(r.jobTypeOf(actor), string(status)).Inc()
	r.dropAfterLinger(actor)
	return nil
}

// Cancel marks the job canceled, durably. Idempotent; unknown and already
// terminal jobs are silent no-ops. A canceled job can never be resurrected
// by a reconnecting client because the durable flag is checked on every
// push.
func (r *Registry) Cancel(ctx context.Context, jobID string) error {
	actor, _ := r.actorFor(jobID, false)
	if actor == nil {
		return nil
	}

	wasActive := false
	alreadyTerminal := false
	ok := actor.do(func(s *actorState) {
		if s.job.Status.Terminal() {
			alreadyTerminal = true
			return
		}
		s.canceled = true
		wasActive = s.job.Status == domain.JobActive
		s.job.Status = domain.JobCanceled
		sendFrame(s, string(domain.JobCanceled), domain.ProgressUpdate{
			ProcessedItems: s.job.ProcessedItems,
			TotalItems:     s.job.TotalItems,
			CurrentStatus:  "canceled by client",
		})
		if s.transport != nil {
			_ = s.transport.Close()
			s.transport = nil
		}
	})
	if !ok || alreadyTerminal {
		return nil
	}
	if err := r.store.MarkCanceled(ctx, jobID); err != nil {
		r.logger.Warn("cancel store write failed", slog.String("jobId", jobID), slog.String("error", err.Error()))
	}
	if wasActive {
		metrics.JobsActive.Dec()
	}
	metrics.JobsFinishedTotal.WithLabelValues(r.jobTypeOf(actor), string(domain.JobCanceled)).Inc()
	r.dropAfterLinger(actor)
	return nil
}

// SnapshotOf returns the current view of a job for status reads.
func (r *Registry) SnapshotOf(jobID string) (Snapshot, error) {
	actor, _ := r.actorFor(jobID, false)
	if actor == nil {
		return Snapshot{}, domain.ErrJobNotFound
	}
	var snapshot Snapshot
	if !actor.do(func(s *actorState) {
		snapshot = Snapshot{Job: s.job, Result: s.result}
	}) {
		return Snapshot{}, domain.ErrJobNotFound
	}
	return snapshot, nil
}

func (r *Registry) jobTypeOf(actor *jobActor) string {
	jobType := ""
	actor.do(func(s *actorState) { jobType = string(s.job.Type) })
	return jobType
}

// sendFrame marshals and delivers one wire frame on the actor goroutine.
// Send errors detach the transport; the frame is lost, by contract.
func sendFrame(s *actorState, frameType string, update domain.ProgressUpdate) {
	if s.transport == nil {
		metrics.ProgressPushesTotal.WithLabelValues("dropped").Inc()
		return
	}
	payload, err := json.Marshal(domain.ProgressMessage{
		Type:      frameType,
		JobID:     s.job.JobID,
		Timestamp: time.Now().UTC(),
		Data:      update,
	})
	if err != nil {
		metrics.ProgressPushesTotal.WithLabelValues("dropped").Inc()
		return
	}
	if err := s.transport.Send(payload); err != nil {
		_ = s.transport.Close()
		s.transport = nil
		metrics.ProgressPushesTotal.WithLabelValues("dropped").Inc()
		return
	}
	metrics.ProgressPushesTotal.WithLabelValues("sent").Inc()
}
