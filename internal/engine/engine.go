// Package engine is the boundary to the generative-content service.
//
// An Engine turns a game state summary into a prompt, picks the generation
// profile for the event tier, calls the Generator and returns the raw text.
// It never retries: any failure is terminal for the call and is reported as a
// *Failure so the caller can choose its retry and fallback policy.
package engine

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/config"
	"github.com/tatianab/conestoga/internal/fallback"
	"github.com/tatianab/conestoga/internal/models"
)

//go:embed prompts/system.txt
var systemPrompt string

//go:embed prompts/draft.txt
var draftPrompt string

//go:embed prompts/resolution.txt
var resolutionPrompt string

// ErrOffline is returned without a network call once the session is offline.
var ErrOffline = errors.New("generation offline")

// RequestKind says what a request asks for.
type RequestKind string

const (
	KindDraft      RequestKind = "draft"
	KindResolution RequestKind = "resolution"
)

// Request is one call to the content service.
type Request struct {
	ID      string
	Kind    RequestKind
	Tier    models.Tier
	Profile config.Profile
	System  string
	Prompt  string
}

// Generator performs the network call. Implementations must honor ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Vocabulary is the set of ids prompts may offer to the service.
type Vocabulary struct {
	Items   []string
	Skills  []string
	Members []string
}

// Engine builds requests and classifies their outcome.
type Engine struct {
	gen      Generator
	profiles map[models.Tier]config.Profile
	vocab    Vocabulary
	monitor  *fallback.Monitor
	logger   *zap.Logger
	tracer   trace.Tracer

	draftTmpl      *template.Template
	resolutionTmpl *template.Template
}

// NewEngine returns an engine that reports transport failures to monitor.
func NewEngine(gen Generator, profiles map[models.Tier]config.Profile, vocab Vocabulary, monitor *fallback.Monitor, logger *zap.Logger) (*Engine, error) {
	funcs := template.FuncMap{"join": strings.Join}
	draftTmpl, err := template.New("draft").Funcs(funcs).Parse(draftPrompt)
	if err != nil {
		return nil, err
	}
	resolutionTmpl, err := template.New("resolution").Funcs(funcs).Parse(resolutionPrompt)
	if err != nil {
		return nil, err
	}
	for _, tier := range []models.Tier{models.TierMinor, models.TierChapter} {
		if _, ok := profiles[tier]; !ok {
			return nil, fmt.Errorf("engine: no profile for tier %s", tier)
		}
	}
	return &Engine{
		gen:            gen,
		profiles:       profiles,
		vocab:          vocab,
		monitor:        monitor,
		logger:         logger,
		tracer:         otel.Tracer("github.com/tatianab/conestoga/internal/engine"),
		draftTmpl:      draftTmpl,
		resolutionTmpl: resolutionTmpl,
	}, nil
}

// RequestDraft asks for a new event. priorErrors are the validator's
// complaints about the previous attempt, if any.
func (e *Engine) RequestDraft(ctx context.Context, sum models.Summary, tier models.Tier, priorErrors []string) (string, error) {
	if !tier.Valid() {
		tier = models.TierMinor
	}
	var buf bytes.Buffer
	data := struct {
		Tier         string
		Summary      string
		DueFollowups []string
		Items        []string
		Resources    []string
		Skills       []string
		PriorErrors  []string
	}{
		Tier:         string(tier),
		Summary:      sum.JSON(),
		DueFollowups: sum.DueFollowups,
		Items:        e.vocab.Items,
		Resources:    models.Resources,
		Skills:       e.vocab.Skills,
		PriorErrors:  priorErrors,
	}
	if err := e.draftTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return e.call(ctx, KindDraft, tier, buf.String())
}

// RequestResolution asks for the outcome of choiceID in draft.
func (e *Engine) RequestResolution(ctx context.Context, draft models.EventDraft, choiceID string, sum models.Summary, priorErrors []string) (string, error) {
	choice, ok := draft.Choice(choiceID)
	if !ok {
		return "", fmt.Errorf("engine: event %s has no choice %q", draft.EventID, choiceID)
	}
	rawDraft, err := json.Marshal(draft)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	data := struct {
		Draft       string
		ChoiceID    string
		Check       *models.Check
		Summary     string
		Items       []string
		Resources   []string
		Members     []string
		PriorErrors []string
	}{
		Draft:       string(rawDraft),
		ChoiceID:    choiceID,
		Check:       choice.Check,
		Summary:     sum.JSON(),
		Items:       e.vocab.Items,
		Resources:   models.Resources,
		Members:     e.vocab.Members,
		PriorErrors: priorErrors,
	}
	if err := e.resolutionTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	tier := draft.Tier
	if !tier.Valid() {
		tier = models.TierMinor
	}
	return e.call(ctx, KindResolution, tier, buf.String())
}

func (e *Engine) call(ctx context.Context, kind RequestKind, tier models.Tier, prompt string) (string, error) {
	req := Request{
		ID:      uuid.NewString(),
		Kind:    kind,
		Tier:    tier,
		Profile: e.profiles[tier],
		System:  systemPrompt,
		Prompt:  prompt,
	}
	fields := []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("kind", string(kind)),
		zap.String("tier", string(tier)),
		zap.String("model", req.Profile.Model),
	}

	if e.monitor.IsOffline() {
		e.logger.Debug("generation call", append(fields, zap.String("outcome", "skipped"))...)
		return "", ErrOffline
	}

	ctx, span := e.tracer.Start(ctx, "engine."+string(kind), trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.tier", string(tier)),
		attribute.String("request.model", req.Profile.Model),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, req.Profile.Timeout)
	defer cancel()

	start := time.Now()
	text, err := e.gen.Generate(callCtx, req)
	latency := time.Since(start)
	fields = append(fields, zap.Duration("latency", latency))

	if err == nil {
		span.SetAttributes(attribute.Int("response.bytes", len(text)))
		e.logger.Info("generation call", append(fields, zap.String("outcome", "ok"))...)
		return text, nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		span.SetStatus(otelcodes.Error, "cancelled")
		e.logger.Debug("generation call", append(fields, zap.String("outcome", "cancelled"))...)
		return "", ctx.Err()
	}

	f := &Failure{Kind: KindOf(err), Err: err}
	if callCtx.Err() == context.DeadlineExceeded {
		f.Kind = FailTimeout
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, string(f.Kind))
	if f.Kind != FailTimeout {
		e.monitor.NoteFailure(f.Kind.Reason())
	}
	e.logger.Warn("generation call", append(fields, zap.String("outcome", string(f.Kind)), zap.Error(err))...)
	return "", f
}
