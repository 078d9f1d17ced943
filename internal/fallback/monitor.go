package fallback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/models"
)

// recentCap bounds the in-memory provenance ring.
const recentCap = 50

// Sink receives every provenance record, e.g. the audit log.
type Sink interface {
	RecordFallback(models.FallbackRecord)
}

// Stats is a point-in-time copy of the monitor counters.
type Stats struct {
	Offline             bool
	OfflineCause        models.Reason
	LastReason          models.Reason
	EventFallbacks      int
	ResolutionFallbacks int
	Generated           int
	TransportFailures   int
}

// Monitor is the session's record of degraded-mode status and content
// provenance. It is shared between the control loop and the generation
// worker; every method is safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	threshold int
	offline   bool
	cause     models.Reason
	last      models.Reason
	failures  int
	notified  bool
	stats     Stats
	recent    []models.FallbackRecord

	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewMonitor returns an online monitor. threshold is the number of transport
// failures in a session after which it goes offline; values below 1 mean 1.
func NewMonitor(threshold int, logger *zap.Logger, sinks ...Sink) *Monitor {
	return &Monitor{
		threshold: max(threshold, 1),
		last:      models.ReasonNone,
		cause:     models.ReasonNone,
		sinks:     sinks,
		logger:    logger,
		now:       time.Now,
	}
}

// Record stores the provenance of one delivered draft or resolution.
func (m *Monitor) Record(r models.FallbackRecord) {
	m.mu.Lock()
	if r.Timestamp.IsZero() {
		r.Timestamp = m.now()
	}
	if r.Reason == "" {
		r.Reason = models.ReasonNone
	}
	m.last = r.Reason
	switch {
	case !r.Fallback():
		m.stats.Generated++
	case r.Kind == models.RecordResolution:
		m.stats.ResolutionFallbacks++
	default:
		m.stats.EventFallbacks++
	}
	m.recent = append(m.recent, r)
	if len(m.recent) > recentCap {
		m.recent = m.recent[len(m.recent)-recentCap:]
	}
	sinks := m.sinks
	m.mu.Unlock()

	if r.Fallback() {
		m.logger.Info("fallback content used",
			zap.String("kind", string(r.Kind)),
			zap.String("reason", string(r.Reason)),
			zap.String("event_id", r.EventID))
	}
	for _, s := range sinks {
		s.RecordFallback(r)
	}
}

// IsOffline reports whether generation is disabled for the rest of the
// session.
func (m *Monitor) IsOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline
}

// LastReason returns the reason of the most recent record.
func (m *Monitor) LastReason() models.Reason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// OfflineReason returns why the session went offline, or ReasonNone.
func (m *Monitor) OfflineReason() models.Reason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// TripOffline puts the session offline. The first cause wins; there is no
// way back online short of a restart.
func (m *Monitor) TripOffline(cause models.Reason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripLocked(cause)
}

func (m *Monitor) tripLocked(cause models.Reason) {
	if m.offline {
		return
	}
	m.offline = true
	m.cause = cause
	m.logger.Warn("generation offline for the rest of the session", zap.String("cause", string(cause)))
}

// NoteFailure counts a transport failure. Quota exhaustion trips the monitor
// at once; other kinds trip it once the session threshold is reached. It
// reports whether the monitor is offline afterwards.
func (m *Monitor) NoteFailure(reason models.Reason) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.stats.TransportFailures = m.failures
	switch {
	case reason == models.ReasonQuotaExhausted:
		m.tripLocked(reason)
	case m.failures >= m.threshold:
		m.tripLocked(reason)
	}
	return m.offline
}

// ShouldNotifyOffline reports whether the player has yet to be told the
// session is offline.
func (m *Monitor) ShouldNotifyOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline && !m.notified
}

// MarkOfflineNotified records that the offline notice was shown.
func (m *Monitor) MarkOfflineNotified() {
	m.mu.Lock()
	m.notified = true
	m.mu.Unlock()
}

// Stats returns the current counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Offline = m.offline
	s.OfflineCause = m.cause
	s.LastReason = m.last
	return s
}

// Recent returns up to the last 50 records, oldest first.
func (m *Monitor) Recent() []models.FallbackRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FallbackRecord(nil), m.recent...)
}
