// Package pipeline wires one gap event through the decision engine and
// the action applier. Events are independent units of work; a Pipeline
// is safe for concurrent use with no shared mutable state beyond the
// inventory store.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/shelfwatch/shelfwatch/internal/agent"
	"github.com/shelfwatch/shelfwatch/internal/domain"
	"github.com/shelfwatch/shelfwatch/internal/store"
)

// Applier persists a decision as exactly one alert or reorder plus an
// inventory log entry, idempotent per source detection. All writes
// happen inside the store's single transaction; the transaction commit
// is the pipeline's only durability point, so cancellation before it is
// always safe to discard and retry.
type Applier struct {
	store  store.DecisionApplier
	logger *slog.Logger
}

// NewApplier creates an applier over the given store.
func NewApplier(s store.DecisionApplier, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{store: s, logger: logger}
}

// Apply validates the decision's business rules and hands it to the
// store transaction.
func (a *Applier) Apply(ctx context.Context, decision domain.Decision, event domain.GapEvent) (*domain.ApplyResult, error) {
	if !decision.Action.Valid() {
		return nil, domain.ErrDecisionParse("decision has no valid action")
	}
	if decision.Action == domain.ActionReorder && decision.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity(decision.Quantity)
	}

	result, err := a.store.ApplyDecision(ctx, decision, event)
	if err != nil {
		return nil, err
	}

	if result.AlreadyApplied {
		a.logger.Info("decision already applied, skipping",
			slog.String("detection_id", event.SourceDetectionID),
			slog.Int64("product_id", result.ProductID),
		)
	}
	return result, nil
}

// Engine is the decision engine surface the pipeline needs.
type Engine interface {
	Decide(ctx context.Context, event domain.GapEvent) (*agent.Result, error)
}

// Outcome is the full record of one processed event, surfaced to
// callers and operators for observability.
type Outcome struct {
	Event    domain.GapEvent        `json:"event"`
	Decision domain.Decision        `json:"decision"`
	Tool     *domain.ToolInvocation `json:"tool,omitempty"`
	Apply    *domain.ApplyResult    `json:"apply"`
}

// Pipeline processes gap events end to end.
type Pipeline struct {
	engine  Engine
	applier *Applier
	logger  *slog.Logger
}

// New creates a pipeline.
func New(engine Engine, applier *Applier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{engine: engine, applier: applier, logger: logger}
}

// Process runs one gap event through decide and apply. Errors are
// tagged; the caller decides whether to resubmit the event, which is
// safe because the applier is idempotent per source detection.
func (p *Pipeline) Process(ctx context.Context, event domain.GapEvent) (*Outcome, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	result, err := p.engine.Decide(ctx, event)
	if err != nil {
		p.logger.Error("decision failed",
			slog.String("detection_id", event.SourceDetectionID),
			slog.String("product", event.ProductName),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	applied, err := p.applier.Apply(ctx, result.Decision, event)
	if err != nil {
		p.logger.Error("apply failed",
			slog.String("detection_id", event.SourceDetectionID),
			slog.String("action", string(result.Decision.Action)),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	p.logger.Info("event processed",
		slog.String("detection_id", event.SourceDetectionID),
		slog.String("product", result.Decision.ProductName),
		slog.String("action", string(result.Decision.Action)),
		slog.Bool("already_applied", applied.AlreadyApplied),
	)

	return &Outcome{
		Event:    event,
		Decision: result.Decision,
		Tool:     result.Tool,
		Apply:    applied,
	}, nil
}
