package cli

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/audit"
	"github.com/tatianab/conestoga/internal/config"
	"github.com/tatianab/conestoga/internal/content"
	"github.com/tatianab/conestoga/internal/engine"
	"github.com/tatianab/conestoga/internal/fallback"
	"github.com/tatianab/conestoga/internal/game"
	"github.com/tatianab/conestoga/internal/models"
	"github.com/tatianab/conestoga/internal/prefetch"
	"github.com/tatianab/conestoga/internal/validate"
)

// Session is a fully wired game: controller, generation pipeline and the
// resources they hold.
type Session struct {
	Controller *game.Controller
	Monitor    *fallback.Monitor
	Audit      *audit.Store // nil when the audit log is disabled
	Run        string
	Seed       int64
	SaveDir    string
	Items      *models.ItemCatalog

	closers []func() error
}

// Open wires a session from cfg. load names a save under the save directory to
// resume; empty starts a new run.
func Open(ctx context.Context, cfg *config.Config, load string, logger *zap.Logger) (*Session, error) {
	s := &Session{Run: uuid.NewString(), Seed: cfg.Seed, SaveDir: cfg.SaveDir}
	if s.SaveDir == "" {
		s.SaveDir = models.DefaultSaveDir
	}
	if s.Seed == 0 {
		s.Seed = entropySeed()
	}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}
	pack, err := content.Load(cfg.ContentDir)
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	s.Items = pack.Catalog
	val, err := validate.New(pack.Catalog)
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}
	deck, err := fallback.NewSource(pack.Deck, s.Seed, logger.Named("deck"))
	if err != nil {
		return nil, fmt.Errorf("build deck: %w", err)
	}

	var sinks []fallback.Sink
	if cfg.AuditDB != "" {
		store, err := audit.Open(cfg.AuditDB, s.Run, logger.Named("audit"))
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		s.Audit = store
		s.closers = append(s.closers, store.Close)
		sinks = append(sinks, store)
	}
	s.Monitor = fallback.NewMonitor(cfg.OfflineThreshold, logger.Named("monitor"), sinks...)

	// Offline sessions keep a generator-less engine; it never gets past the
	// offline short-circuit.
	var gen engine.Generator
	if cfg.Online() {
		g, err := engine.NewGeminiGenerator(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create generator: %w", err)
		}
		s.closers = append(s.closers, g.Close)
		gen = g
	} else {
		s.Monitor.TripOffline(models.ReasonOffline)
	}
	rules := val.Rules()
	eng, err := engine.NewEngine(gen, tuning.Profiles, engine.Vocabulary{
		Items:   pack.Catalog.IDs(),
		Skills:  rules.Skills,
		Members: rules.Members,
	}, s.Monitor, logger.Named("gateway"))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	var state *models.GameState
	if load != "" {
		state, err = models.LoadState(s.SaveDir, load)
		if err != nil {
			return nil, err
		}
	}

	orch := prefetch.New(eng, val, deck, s.Monitor, logger.Named("prefetch"),
		prefetch.WithAttemptCap(cfg.AttemptCap),
		prefetch.WithWaitBudget(cfg.WaitBudget),
		prefetch.WithCallBudget(cfg.CallBudget),
	)
	// The orchestrator must stop before the audit store closes.
	s.closers = append([]func() error{func() error { orch.Close(); return nil }}, s.closers...)

	gc := game.Config{
		State:    state,
		Prefetch: orch,
		Deck:     deck,
		Checker:  val,
		Monitor:  s.Monitor,
		Tuning:   tuning,
		Seed:     s.Seed,
		Logger:   logger.Named("game"),
	}
	if s.Audit != nil {
		gc.Audit = s.Audit
	}
	s.Controller = game.New(gc)

	logger.Info("session started",
		zap.String("run", s.Run),
		zap.Int64("seed", s.Seed),
		zap.Bool("online", cfg.Online()),
		zap.String("load", load))
	ok = true
	return s, nil
}

// Close releases the session resources in order.
func (s *Session) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

func entropySeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(b[:]) &^ (1 << 63))
}
