// Package game runs the control loop state machine.
//
// The Controller owns the GameState. Every method is called from the single
// control loop; nothing here blocks on the network. Generation happens
// behind a Prefetcher, which the controller polls once per Tick.
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/config"
	"github.com/tatianab/conestoga/internal/fallback"
	"github.com/tatianab/conestoga/internal/models"
)

var (
	ErrWrongMode     = errors.New("not allowed in the current mode")
	ErrUnknownChoice = errors.New("no such choice")
	ErrChoiceLocked  = errors.New("choice is locked")
)

// Mode is a control loop state.
type Mode int

const (
	ModeTravel Mode = iota
	ModeLoadingEvent
	ModeEvent
	ModeLoadingResolution
	ModeResolution
	ModeInventory
	ModeGameOver
)

func (m Mode) String() string {
	switch m {
	case ModeTravel:
		return "TRAVEL"
	case ModeLoadingEvent:
		return "LOADING_EVENT"
	case ModeEvent:
		return "EVENT"
	case ModeLoadingResolution:
		return "LOADING_RESOLUTION"
	case ModeResolution:
		return "RESOLUTION"
	case ModeInventory:
		return "INVENTORY"
	case ModeGameOver:
		return "GAME_OVER"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Prefetcher is the background generation the controller polls.
type Prefetcher interface {
	StartPrefetch(sum models.Summary, tier models.Tier)
	Pending() bool
	Wait()
	Poll(sum models.Summary) (*models.EventDraft, models.FallbackRecord, bool)
	Cancel()
	StartResolution(draft models.EventDraft, choiceID string, sum models.Summary)
	PollResolution() (*models.EventResolution, models.FallbackRecord, bool)
	CancelResolution()
	Reset()
}

// Checker re-validates a resolution right before it is applied.
type Checker interface {
	CheckResolution(r models.EventResolution, draft models.EventDraft) models.ValidationResult
}

// Auditor receives the outcome of every resolution.
type Auditor interface {
	RecordResolution(models.ResolutionRecord)
}

// Config wires a Controller.
type Config struct {
	State    *models.GameState // nil starts a new run
	Prefetch Prefetcher
	Deck     *fallback.Source
	Checker  Checker
	Monitor  *fallback.Monitor
	Tuning   config.Tuning
	Seed     int64
	Audit    Auditor
	Logger   *zap.Logger
	Now      func() time.Time
}

// Result is what the player sees after choosing.
type Result struct {
	EventID   string
	ChoiceID  string
	Narrative string
	Source    models.Source
	Reason    models.Reason
	Check     *models.Check
	Roll      int
	Bonus     int
	Success   bool
	Aborted   bool
	Err       error
}

type cacheKey struct {
	event, choice string
}

type cached struct {
	res models.EventResolution
	rec models.FallbackRecord
}

// cacheCap bounds the resolution cache.
const cacheCap = 64

// Controller is the game state machine.
type Controller struct {
	cfg    Config
	state  *models.GameState
	mode   Mode
	rng    *rand.Rand
	logger *zap.Logger
	now    func() time.Time

	event    *models.EventDraft
	eventRec models.FallbackRecord
	choiceID string
	cache    map[cacheKey]cached

	result  *Result
	lastDay models.DayReport
	message string
	victory bool
	overWhy string
}

// New returns a controller in TRAVEL with the first prefetch started.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	state := cfg.State
	if state == nil {
		state = models.NewGameState(cfg.Tuning.TargetMiles, cfg.Tuning.HistoryCap)
	}
	c := &Controller{
		cfg:    cfg,
		state:  state,
		mode:   ModeTravel,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: cfg.Logger,
		now:    cfg.Now,
		cache:  make(map[cacheKey]cached),
	}
	if c.checkOver() {
		return c
	}
	c.prefetch()
	return c
}

// Mode returns the current state.
func (c *Controller) Mode() Mode { return c.mode }

// State returns a copy of the game state.
func (c *Controller) State() *models.GameState { return c.state.Clone() }

// Event returns the event on screen, if any.
func (c *Controller) Event() (*models.EventDraft, models.FallbackRecord) {
	return c.event, c.eventRec
}

// Result returns the last resolution shown to the player.
func (c *Controller) Result() *Result { return c.result }

// LastDay returns the report of the latest travel tick.
func (c *Controller) LastDay() models.DayReport { return c.lastDay }

// Message returns the latest status line.
func (c *Controller) Message() string { return c.message }

// Over reports the end-of-run verdict once in GAME_OVER.
func (c *Controller) Over() (victory bool, reason string) {
	return c.victory, c.overWhy
}

// Status returns the fallback monitor counters.
func (c *Controller) Status() fallback.Stats {
	return c.cfg.Monitor.Stats()
}

// OfflineNotice returns a one-time notice after the session goes offline.
func (c *Controller) OfflineNotice() string {
	m := c.cfg.Monitor
	if !m.ShouldNotifyOffline() {
		return ""
	}
	m.MarkOfflineNotified()
	return fmt.Sprintf("Storyteller unavailable (%s); telling stories from the trail book.", m.OfflineReason())
}

// LockReason explains why a choice of the current event is unavailable.
func (c *Controller) LockReason(choice models.Choice) string {
	return choice.LockReason(c.state)
}

func (c *Controller) setMode(m Mode) {
	if c.mode == m {
		return
	}
	c.logger.Debug("mode", zap.Stringer("from", c.mode), zap.Stringer("to", m), zap.Int("day", c.state.Day))
	c.mode = m
}

// Travel advances one day and may trigger an event.
func (c *Controller) Travel() error {
	if c.mode != ModeTravel {
		return ErrWrongMode
	}
	c.lastDay = c.state.AdvanceDay(c.rng)
	for _, f := range c.lastDay.Expired {
		c.logger.Debug("follow-up expired", zap.String("tag", f.Tag), zap.Int("latest_day", f.LatestDay))
	}
	c.message = fmt.Sprintf("Day %d: %d miles.", c.state.Day, c.lastDay.Miles)
	if c.checkOver() {
		return nil
	}
	if c.rng.Float64() < c.eventChance() {
		c.trigger()
	}
	return nil
}

// eventChance grows with the days since the last event.
func (c *Controller) eventChance() float64 {
	t := c.cfg.Tuning
	if t.EventRampDays <= 0 {
		return t.MaxEventChance
	}
	return min(t.MaxEventChance, float64(c.state.DaysSinceEvent)/float64(t.EventRampDays))
}

// nextTier is chapter when a follow-up is due or every ChapterEvery events.
func (c *Controller) nextTier() models.Tier {
	if len(c.state.DueFollowups()) > 0 {
		return models.TierChapter
	}
	if n := c.cfg.Tuning.ChapterEvery; n > 0 && (c.state.EventsSeen+1)%n == 0 {
		return models.TierChapter
	}
	return models.TierMinor
}

func (c *Controller) prefetch() {
	c.cfg.Prefetch.StartPrefetch(c.state.Summary(), c.nextTier())
}

func (c *Controller) trigger() {
	if !c.cfg.Prefetch.Pending() {
		c.prefetch()
	}
	if d, rec, ok := c.cfg.Prefetch.Poll(c.state.Summary()); ok {
		c.present(d, rec)
		return
	}
	c.cfg.Prefetch.Wait()
	c.setMode(ModeLoadingEvent)
}

// Tick polls outstanding requests. It reports whether anything changed.
func (c *Controller) Tick() bool {
	switch c.mode {
	case ModeLoadingEvent:
		if d, rec, ok := c.cfg.Prefetch.Poll(c.state.Summary()); ok {
			c.present(d, rec)
			return true
		}
	case ModeLoadingResolution:
		if res, rec, ok := c.cfg.Prefetch.PollResolution(); ok {
			c.resolve(*res, rec)
			return true
		}
	}
	return false
}

// Cancel gives up waiting and takes deck content instead.
func (c *Controller) Cancel() error {
	switch c.mode {
	case ModeLoadingEvent:
		c.cfg.Prefetch.Cancel()
	case ModeLoadingResolution:
		c.cfg.Prefetch.CancelResolution()
	default:
		return ErrWrongMode
	}
	c.Tick()
	return nil
}

func (c *Controller) present(d *models.EventDraft, rec models.FallbackRecord) {
	if !d.Playable(c.state) {
		c.logger.Warn("event has no available choice, substituting deck event",
			zap.String("event_id", d.EventID),
			zap.String("source", string(rec.Source)))
		sub := c.cfg.Deck.NextEvent(c.state.Summary())
		d = &sub
		rec = models.FallbackRecord{
			Kind:      models.RecordEvent,
			Source:    models.SourceDeck,
			Reason:    models.ReasonUnplayable,
			EventID:   sub.EventID,
			Timestamp: c.now(),
		}
		c.cfg.Monitor.Record(rec)
	}
	c.event = d
	c.eventRec = rec
	c.result = nil
	c.state.EventsSeen++
	c.state.DaysSinceEvent = 0
	if d.FollowupTag != "" && c.state.ConsumeFollowup(d.FollowupTag) {
		c.logger.Debug("follow-up consumed", zap.String("tag", d.FollowupTag), zap.String("event_id", d.EventID))
	}
	c.logger.Info("event presented",
		zap.String("event_id", d.EventID),
		zap.String("tier", string(d.Tier)),
		zap.String("source", string(rec.Source)),
		zap.String("reason", string(rec.Reason)))
	c.setMode(ModeEvent)
}

// Choose selects a choice of the current event.
func (c *Controller) Choose(choiceID string) error {
	if c.mode != ModeEvent {
		return ErrWrongMode
	}
	choice, ok := c.event.Choice(choiceID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChoice, choiceID)
	}
	if !choice.Available(c.state) {
		return fmt.Errorf("%w: %s", ErrChoiceLocked, choice.LockReason(c.state))
	}
	c.choiceID = choiceID

	if c.eventRec.Source == models.SourceDeck {
		res, ok := c.cfg.Deck.ResolutionFor(c.event.EventID, choiceID)
		if !ok {
			res = c.cfg.Deck.Neutral(*c.event, choiceID)
		}
		rec := models.FallbackRecord{
			Kind:      models.RecordResolution,
			Source:    models.SourceDeck,
			Reason:    c.eventRec.Reason,
			EventID:   c.event.EventID,
			Timestamp: c.now(),
		}
		c.cfg.Monitor.Record(rec)
		c.resolve(res, rec)
		return nil
	}

	// Deck event ids repeat across appearances, so only generated events are
	// cached.
	if hit, ok := c.cache[cacheKey{c.event.EventID, choiceID}]; ok {
		rec := hit.rec
		rec.Timestamp = c.now()
		c.cfg.Monitor.Record(rec)
		c.resolve(hit.res, rec)
		return nil
	}

	c.cfg.Prefetch.StartResolution(*c.event, choiceID, c.state.Summary())
	c.setMode(ModeLoadingResolution)
	c.Tick()
	return nil
}

// resolve rolls any check and applies the outcome as one transaction.
func (c *Controller) resolve(res models.EventResolution, rec models.FallbackRecord) {
	event := *c.event
	if c.eventRec.Source != models.SourceDeck {
		if len(c.cache) >= cacheCap {
			clear(c.cache)
		}
		c.cache[cacheKey{event.EventID, c.choiceID}] = cached{res: res, rec: rec}
	}

	r := &Result{
		EventID:  event.EventID,
		ChoiceID: c.choiceID,
		Source:   rec.Source,
		Reason:   rec.Reason,
		Success:  true,
	}
	audit := models.ResolutionRecord{
		Day:          c.state.Day,
		EventID:      event.EventID,
		ChoiceID:     c.choiceID,
		ResolutionID: res.ResolutionID,
		Source:       rec.Source,
		EffectIndex:  -1,
	}

	if v := c.cfg.Checker.CheckResolution(res, event); !v.OK {
		c.abort(r, audit, -1, fmt.Errorf("resolution failed re-validation: %v", v.Errors))
		return
	}

	if choice, _ := event.Choice(c.choiceID); choice.Check != nil && res.HasCheck() {
		r.Check = choice.Check
		r.Roll = c.rng.Intn(20) + 1
		r.Bonus = c.state.BestSkill(choice.Check.Skill)
		r.Success = r.Roll+r.Bonus >= choice.Check.DC
		audit.Roll = r.Roll
	}
	audit.Success = r.Success

	narrative, effects := res.Outcome(r.Success)
	r.Narrative = narrative
	next, err := c.state.ApplyBatch(effects, c.rng)
	if err != nil {
		idx := -1
		var be *models.BatchError
		if errors.As(err, &be) {
			idx = be.Index
		}
		c.abort(r, audit, idx, err)
		return
	}

	c.state = next
	c.state.AddHistory(models.HistoryEntry{
		Day:      c.state.Day,
		EventID:  event.EventID,
		Title:    event.Title,
		ChoiceID: c.choiceID,
		Outcome:  models.OutcomeCommitted,
		Source:   rec.Source,
	})
	audit.Outcome = models.OutcomeCommitted
	c.record(audit)
	c.result = r
	c.message = ""
	c.logger.Info("resolution committed",
		zap.String("event_id", event.EventID),
		zap.String("choice_id", c.choiceID),
		zap.Int("effects", len(effects)),
		zap.Bool("success", r.Success))

	c.setMode(ModeResolution)
	if c.checkOver() {
		return
	}
	c.prefetch()
}

// abort leaves the state as it was before the resolution and returns to
// TRAVEL. The choice counts as a no-op.
func (c *Controller) abort(r *Result, audit models.ResolutionRecord, idx int, err error) {
	c.logger.Warn("resolution aborted",
		zap.String("event_id", audit.EventID),
		zap.String("choice_id", audit.ChoiceID),
		zap.Int("effect_index", idx),
		zap.Error(err))
	c.state.AddHistory(models.HistoryEntry{
		Day:      c.state.Day,
		EventID:  audit.EventID,
		Title:    c.event.Title,
		ChoiceID: audit.ChoiceID,
		Outcome:  models.OutcomeAborted,
		Source:   audit.Source,
	})
	audit.Outcome = models.OutcomeAborted
	audit.EffectIndex = idx
	audit.Error = err.Error()
	c.record(audit)

	r.Aborted = true
	r.Err = err
	r.Narrative = "Nothing comes of it."
	c.result = r
	c.message = "The outcome could not be applied; the party presses on."
	c.event = nil
	c.setMode(ModeTravel)
	c.prefetch()
}

func (c *Controller) record(r models.ResolutionRecord) {
	if c.cfg.Audit == nil {
		return
	}
	r.Timestamp = c.now()
	c.cfg.Audit.RecordResolution(r)
}

// Continue leaves the resolution screen.
func (c *Controller) Continue() error {
	if c.mode != ModeResolution {
		return ErrWrongMode
	}
	c.event = nil
	c.setMode(ModeTravel)
	return nil
}

// ToggleInventory opens or closes the inventory from TRAVEL.
func (c *Controller) ToggleInventory() error {
	switch c.mode {
	case ModeTravel:
		c.setMode(ModeInventory)
	case ModeInventory:
		c.setMode(ModeTravel)
	default:
		return ErrWrongMode
	}
	return nil
}

// Restart begins a new run after GAME_OVER.
func (c *Controller) Restart() error {
	if c.mode != ModeGameOver {
		return ErrWrongMode
	}
	c.cfg.Prefetch.Reset()
	c.state = models.NewGameState(c.cfg.Tuning.TargetMiles, c.cfg.Tuning.HistoryCap)
	c.event, c.result = nil, nil
	c.victory, c.overWhy, c.message = false, "", ""
	clear(c.cache)
	c.setMode(ModeTravel)
	c.prefetch()
	return nil
}

// Save writes the state while traveling.
func (c *Controller) Save(dir, name string) error {
	if c.mode != ModeTravel && c.mode != ModeInventory {
		return ErrWrongMode
	}
	if err := models.SaveState(dir, name, c.state); err != nil {
		return err
	}
	c.message = fmt.Sprintf("Saved %q.", name)
	return nil
}

// checkOver moves to GAME_OVER if the run has ended.
func (c *Controller) checkOver() bool {
	over, victory, why := c.state.Outcome(c.cfg.Tuning.CriticalResources)
	if !over {
		return false
	}
	c.victory, c.overWhy = victory, why
	c.cfg.Prefetch.Reset()
	c.logger.Info("game over", zap.Bool("victory", victory), zap.String("reason", why), zap.Int("day", c.state.Day))
	c.setMode(ModeGameOver)
	return true
}
