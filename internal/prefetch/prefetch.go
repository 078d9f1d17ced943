// Package prefetch hides generation latency from the control loop.
//
// An Orchestrator runs at most one generation request at a time on a
// background goroutine. The control loop never blocks on it: it starts a
// request, then polls once per tick. Each request carries a monotonically
// increasing id and owns a single-slot result channel; a finished worker
// publishes only while holding the lock and only if its id is still the
// current one, so results of cancelled or timed-out requests are dropped
// instead of delivered. Whenever generation fails, times out or is
// cancelled, the poll that notices it returns deck content instead.
package prefetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/engine"
	"github.com/tatianab/conestoga/internal/fallback"
	"github.com/tatianab/conestoga/internal/models"
)

// Gateway is the generation service boundary.
type Gateway interface {
	RequestDraft(ctx context.Context, sum models.Summary, tier models.Tier, priorErrors []string) (string, error)
	RequestResolution(ctx context.Context, draft models.EventDraft, choiceID string, sum models.Summary, priorErrors []string) (string, error)
}

// Validator accepts or rejects raw generated content.
type Validator interface {
	ValidateDraft(raw string) (models.ValidationResult, *models.EventDraft)
	ValidateResolution(raw string, draft models.EventDraft) (models.ValidationResult, *models.EventResolution)
}

// State is the lifecycle of one request.
type State int

const (
	Idle State = iota
	Requesting
	Ready
	Failed
	Cancelled
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Requesting:
		return "REQUESTING"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	case TimedOut:
		return "TIMED_OUT"
	}
	return "UNKNOWN"
}

// result is what a worker hands across the slot.
type result struct {
	id         uint64
	draft      *models.EventDraft
	resolution *models.EventResolution
	reason     models.Reason
}

type job struct {
	id        uint64
	kind      models.RecordKind
	state     State
	reason    models.Reason
	cancel    context.CancelFunc
	slot      chan result
	waitStart time.Time

	tier     models.Tier
	draft    models.EventDraft
	choiceID string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for wait budget accounting.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithAttemptCap sets how many generation attempts a request may make. It is
// clamped to 2-3.
func WithAttemptCap(n int) Option {
	return func(o *Orchestrator) { o.attemptCap = min(max(n, 2), 3) }
}

// WithWaitBudget sets how long the control loop waits for a request before
// it is served deck content.
func WithWaitBudget(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.waitBudget = d
		}
	}
}

// WithCallBudget caps gateway calls for the whole session. Zero means no cap.
func WithCallBudget(n int) Option {
	return func(o *Orchestrator) { o.callBudget = max(n, 0) }
}

// Orchestrator coordinates background generation for the control loop.
type Orchestrator struct {
	gw      Gateway
	val     Validator
	deck    *fallback.Source
	monitor *fallback.Monitor
	logger  *zap.Logger

	attemptCap int
	waitBudget time.Duration
	callBudget int
	now        func() time.Time

	mu    sync.Mutex
	seq   uint64
	calls int
	event *job
	res   *job
	wg    sync.WaitGroup
}

// New returns an idle orchestrator.
func New(gw Gateway, val Validator, deck *fallback.Source, monitor *fallback.Monitor, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gw:         gw,
		val:        val,
		deck:       deck,
		monitor:    monitor,
		logger:     logger,
		attemptCap: 2,
		waitBudget: 5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartPrefetch launches generation of the next event unless one is already
// in flight or waiting to be polled. When the session is offline the request
// resolves to deck content without calling the gateway.
func (o *Orchestrator) StartPrefetch(sum models.Summary, tier models.Tier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.event != nil {
		return
	}
	j := o.newJobLocked(models.RecordEvent)
	j.tier = tier
	o.event = j
	if o.offlineLocked(j) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	o.wg.Add(1)
	go o.runDraft(ctx, j.id, sum, tier)
}

// Pending reports whether an event request exists, in flight or ready.
func (o *Orchestrator) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.event != nil
}

// State returns the lifecycle state of the current event request.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.event == nil {
		return Idle
	}
	return o.event.state
}

// Wait marks that the control loop is now blocked on the event request and
// starts the wait budget.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j := o.event; j != nil && j.waitStart.IsZero() {
		j.waitStart = o.now()
	}
}

// Poll returns the event once it is available, generated or from the deck,
// together with its provenance. It never blocks. A delivered event is not
// returned again. sum is the current state; deck content is picked against
// it, not against the state the request started from.
func (o *Orchestrator) Poll(sum models.Summary) (*models.EventDraft, models.FallbackRecord, bool) {
	o.mu.Lock()
	j := o.event
	if j == nil {
		o.mu.Unlock()
		return nil, models.FallbackRecord{}, false
	}
	r, done := o.settleLocked(j)
	if !done {
		o.mu.Unlock()
		return nil, models.FallbackRecord{}, false
	}
	o.event = nil
	o.mu.Unlock()

	rec := models.FallbackRecord{Kind: models.RecordEvent, Timestamp: o.now()}
	draft := r.draft
	if draft != nil {
		rec.Source, rec.Reason = models.SourcePrefetch, models.ReasonNone
	} else {
		d := o.deck.NextEvent(sum)
		draft = &d
		rec.Source, rec.Reason = models.SourceDeck, r.reason
	}
	rec.EventID = draft.EventID
	o.monitor.Record(rec)
	return draft, rec, true
}

// Cancel abandons the in-flight event request. The next Poll returns deck
// content with reason cancelled; whatever the worker produces is dropped.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked(o.event)
}

// StartResolution requests the outcome of choiceID. The control loop is
// considered to be waiting from this moment on.
func (o *Orchestrator) StartResolution(draft models.EventDraft, choiceID string, sum models.Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.res != nil {
		o.cancelLocked(o.res)
		o.res = nil
	}
	j := o.newJobLocked(models.RecordResolution)
	j.draft = draft
	j.choiceID = choiceID
	j.waitStart = o.now()
	o.res = j
	if o.offlineLocked(j) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	o.wg.Add(1)
	go o.runResolution(ctx, j.id, draft, choiceID, sum)
}

// PollResolution is Poll for the current resolution request. Failed requests
// resolve to the authored deck outcome when one exists, otherwise to a
// neutral outcome.
func (o *Orchestrator) PollResolution() (*models.EventResolution, models.FallbackRecord, bool) {
	o.mu.Lock()
	j := o.res
	if j == nil {
		o.mu.Unlock()
		return nil, models.FallbackRecord{}, false
	}
	r, done := o.settleLocked(j)
	if !done {
		o.mu.Unlock()
		return nil, models.FallbackRecord{}, false
	}
	o.res = nil
	o.mu.Unlock()

	rec := models.FallbackRecord{Kind: models.RecordResolution, EventID: j.draft.EventID, Timestamp: o.now()}
	res := r.resolution
	if res != nil {
		rec.Source, rec.Reason = models.SourcePrefetch, models.ReasonNone
	} else {
		fb, ok := o.deck.ResolutionFor(j.draft.EventID, j.choiceID)
		if !ok {
			fb = o.deck.Neutral(j.draft, j.choiceID)
		}
		res = &fb
		rec.Source, rec.Reason = models.SourceDeck, r.reason
	}
	o.monitor.Record(rec)
	return res, rec, true
}

// CancelResolution abandons the in-flight resolution request.
func (o *Orchestrator) CancelResolution() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked(o.res)
}

// Reset drops every request, in flight or ready.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, j := range []*job{o.event, o.res} {
		if j != nil && j.cancel != nil {
			j.cancel()
		}
	}
	o.event, o.res = nil, nil
}

// Close cancels outstanding work and waits for workers to exit.
func (o *Orchestrator) Close() {
	o.Reset()
	o.wg.Wait()
}

func (o *Orchestrator) newJobLocked(kind models.RecordKind) *job {
	o.seq++
	return &job{
		id:    o.seq,
		kind:  kind,
		state: Requesting,
		slot:  make(chan result, 1),
	}
}

// offlineLocked fails j at once if the session is offline.
func (o *Orchestrator) offlineLocked(j *job) bool {
	if !o.monitor.IsOffline() {
		return false
	}
	j.state = Failed
	j.reason = o.offlineReason()
	return true
}

func (o *Orchestrator) offlineReason() models.Reason {
	if r := o.monitor.OfflineReason(); r != models.ReasonNone {
		return r
	}
	return models.ReasonOffline
}

func (o *Orchestrator) cancelLocked(j *job) {
	if j == nil {
		return
	}
	if j.cancel != nil {
		j.cancel()
	}
	select {
	case <-j.slot:
	default:
	}
	j.state = Cancelled
	j.reason = models.ReasonCancelled
}

// settleLocked decides whether j has an outcome to deliver.
func (o *Orchestrator) settleLocked(j *job) (result, bool) {
	switch j.state {
	case Failed, Cancelled, TimedOut:
		return result{id: j.id, reason: j.reason}, true
	}

	select {
	case r := <-j.slot:
		if r.id != j.id {
			return result{}, false
		}
		if r.draft != nil || r.resolution != nil {
			j.state = Ready
		} else {
			j.state = Failed
			j.reason = r.reason
		}
		return r, true
	default:
	}

	if !j.waitStart.IsZero() && !o.now().Before(j.waitStart.Add(o.waitBudget)) {
		if j.cancel != nil {
			j.cancel()
		}
		j.state = TimedOut
		j.reason = models.ReasonTimeout
		o.logger.Info("wait budget exceeded, serving deck content",
			zap.String("kind", string(j.kind)),
			zap.Uint64("request", j.id),
			zap.Duration("budget", o.waitBudget))
		return result{id: j.id, reason: j.reason}, true
	}
	return result{}, false
}

// publish hands r to the control loop if its request is still current.
func (o *Orchestrator) publish(r result, kind models.RecordKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j := o.event
	if kind == models.RecordResolution {
		j = o.res
	}
	if j == nil || j.id != r.id || j.state != Requesting {
		o.logger.Debug("dropping stale result", zap.String("kind", string(kind)), zap.Uint64("request", r.id))
		return
	}
	select {
	case j.slot <- r:
	default:
	}
}

func (o *Orchestrator) takeCall() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.callBudget > 0 && o.calls >= o.callBudget {
		return false
	}
	o.calls++
	return true
}

// attempt runs up to attemptCap generation attempts. call performs one
// attempt and returns validation errors, or a transport error. It returns
// the fallback reason if every attempt failed, or ReasonNone on success.
func (o *Orchestrator) attempt(ctx context.Context, kind models.RecordKind, call func(prior []string) ([]string, error)) models.Reason {
	var prior []string
	reason := models.ReasonInvalidSchema
	for n := 1; n <= o.attemptCap; n++ {
		if !o.takeCall() {
			o.monitor.TripOffline(models.ReasonQuotaExhausted)
			return models.ReasonQuotaExhausted
		}
		errs, err := call(prior)
		if ctx.Err() != nil {
			return models.ReasonCancelled
		}
		switch {
		case errors.Is(err, engine.ErrOffline):
			return o.offlineReason()
		case err != nil:
			k := engine.KindOf(err)
			reason = k.Reason()
			o.logger.Info("generation attempt failed", zap.String("kind", string(kind)), zap.Int("attempt", n), zap.String("failure", string(k)))
			if k == engine.FailQuotaExhausted || o.monitor.IsOffline() {
				return reason
			}
		case len(errs) > 0:
			reason = models.ReasonInvalidSchema
			prior = errs
			o.logger.Info("generated content rejected", zap.String("kind", string(kind)), zap.Int("attempt", n), zap.Strings("errors", errs))
		default:
			return models.ReasonNone
		}
	}
	return reason
}

func (o *Orchestrator) runDraft(ctx context.Context, id uint64, sum models.Summary, tier models.Tier) {
	defer o.wg.Done()
	var draft *models.EventDraft
	reason := o.attempt(ctx, models.RecordEvent, func(prior []string) ([]string, error) {
		raw, err := o.gw.RequestDraft(ctx, sum, tier, prior)
		if err != nil {
			return nil, err
		}
		res, d := o.val.ValidateDraft(raw)
		if !res.OK {
			return res.Errors, nil
		}
		d.EventID = "evt-" + uuid.NewString()
		if d.Tier == "" {
			d.Tier = tier
		}
		draft = d
		return nil, nil
	})
	o.publish(result{id: id, draft: draft, reason: reason}, models.RecordEvent)
}

func (o *Orchestrator) runResolution(ctx context.Context, id uint64, draft models.EventDraft, choiceID string, sum models.Summary) {
	defer o.wg.Done()
	var resolution *models.EventResolution
	reason := o.attempt(ctx, models.RecordResolution, func(prior []string) ([]string, error) {
		raw, err := o.gw.RequestResolution(ctx, draft, choiceID, sum, prior)
		if err != nil {
			return nil, err
		}
		res, r := o.val.ValidateResolution(raw, draft)
		if !res.OK {
			return res.Errors, nil
		}
		if r.ChoiceID != choiceID {
			return []string{"choice_id: resolution answers " + r.ChoiceID + ", not " + choiceID}, nil
		}
		if r.ResolutionID == "" {
			r.ResolutionID = "res-" + uuid.NewString()
		}
		resolution = r
		return nil, nil
	})
	o.publish(result{id: id, resolution: resolution, reason: reason}, models.RecordResolution)
}
