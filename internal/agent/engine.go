// Package agent implements the decision engine: a bounded two-turn
// conversation with the reasoning backend that may invoke at most one
// declared tool before emitting a structured inventory decision.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/backend/openai"
	"github.com/shelfwatch/shelfwatch/internal/domain"
	"github.com/shelfwatch/shelfwatch/internal/tool"
)

// Backend is the reasoning backend boundary: an opaque request/response
// service that may also request a tool call.
type Backend interface {
	CreateChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
}

const systemDirective = `You are an inventory agent for a grocery store. You receive a shelf gap detection and decide what to do about it.

Policy:
- Use the query_stock tool if you need current stock for the product.
- If the product's stock in store is greater than 0, send a restock alert.
- If the stock is 0, create a reorder with a sensible positive quantity.
- If the product cannot be found in inventory, choose no_action.

Respond with a single JSON object, no prose, of the shape:
{"action": "alert" | "reorder" | "no_action", "product": "<product name>", "quantity": <integer >= 0>, "user_id": <integer>, "rationale": "<one sentence>"}`

// engine states; the machine never loops beyond one tool round.
type state int

const (
	stateInit state = iota
	stateAwaitModel
	stateToolCall
	stateAwaitFinal
	stateDone
	stateFailed
)

// Option configures the engine.
type Option func(*Engine)

// WithCallTimeout bounds each backend call. Exceeding it fails the run
// with a model timeout error instead of hanging the worker.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.callTimeout = d
	}
}

// WithDefaultUserID sets the user attributed to decisions when the
// model omits one.
func WithDefaultUserID(id int64) Option {
	return func(e *Engine) {
		e.defaultUserID = id
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine drives the decision conversation. It holds no per-run state
// and is safe for concurrent use; each event gets an independent run.
type Engine struct {
	backend       Backend
	registry      *tool.Registry
	model         string
	callTimeout   time.Duration
	defaultUserID int64
	logger        *slog.Logger
}

// New creates a decision engine over the given backend and tool registry.
func New(backend Backend, registry *tool.Registry, model string, opts ...Option) *Engine {
	e := &Engine{
		backend:       backend,
		registry:      registry,
		model:         model,
		callTimeout:   30 * time.Second,
		defaultUserID: 1,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the terminal output of one engine run.
type Result struct {
	Decision domain.Decision

	// Tool records the single tool round, if one happened.
	Tool *domain.ToolInvocation
}

// run holds the mutable state of a single decision conversation.
type run struct {
	state      state
	event      domain.GapEvent
	messages   []openai.ChatCompletionMessage
	toolRound  *openai.ToolCall
	invocation *domain.ToolInvocation
	lastStock  *domain.ProductStockInfo
	decision   domain.Decision
	err        error
}

// Decide runs the bounded conversation for one gap event and returns
// the structured decision. A failed run returns a tagged error; the
// engine itself never retries; the caller decides whether to resubmit
// the whole event, which is safe under the applier's idempotency.
func (e *Engine) Decide(ctx context.Context, event domain.GapEvent) (*Result, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	r := &run{state: stateInit, event: event}
	for {
		switch r.state {
		case stateInit:
			e.init(r)
		case stateAwaitModel:
			e.awaitModel(ctx, r)
		case stateToolCall:
			e.invokeTool(ctx, r)
		case stateAwaitFinal:
			e.awaitFinal(ctx, r)
		case stateDone:
			return &Result{Decision: r.decision, Tool: r.invocation}, nil
		case stateFailed:
			return nil, r.err
		}
	}
}

func (e *Engine) init(r *run) {
	payload, _ := json.Marshal(r.event)
	r.messages = []openai.ChatCompletionMessage{
		{Role: "system", Content: systemDirective},
		{Role: "user", Content: fmt.Sprintf("Process this shelf gap detection: %s", payload)},
	}
	r.state = stateAwaitModel
}

// awaitModel sends the conversation with the declared tools. The model
// either answers directly or requests exactly one tool call.
func (e *Engine) awaitModel(ctx context.Context, r *run) {
	resp, err := e.complete(ctx, r.messages, e.registry.Definitions())
	if err != nil {
		r.fail(err)
		return
	}

	msg, err := firstMessage(resp)
	if err != nil {
		r.fail(err)
		return
	}

	if len(msg.ToolCalls) > 0 {
		if len(msg.ToolCalls) > 1 {
			r.fail(domain.ErrMalformedModelResponse(
				fmt.Sprintf("backend requested %d tool calls, expected at most one", len(msg.ToolCalls))))
			return
		}
		tc := msg.ToolCalls[0]
		if _, ok := e.registry.Get(tc.Function.Name); !ok {
			r.fail(domain.ErrMalformedModelResponse(
				fmt.Sprintf("backend requested undeclared tool %q", tc.Function.Name)))
			return
		}
		r.messages = append(r.messages, *msg)
		r.toolRound = &tc
		r.state = stateToolCall
		return
	}

	e.finish(r, msg.Content)
}

// invokeTool executes the requested tool synchronously and appends the
// result (or its error, stringified) to the conversation.
func (e *Engine) invokeTool(ctx context.Context, r *run) {
	tc := r.toolRound
	t, _ := e.registry.Get(tc.Function.Name)

	r.invocation = &domain.ToolInvocation{
		ToolName:  tc.Function.Name,
		Arguments: tc.Function.Arguments,
	}

	result, err := t.Invoke(ctx, tc.Function.Arguments)
	switch {
	case err == nil:
		r.invocation.Result = result
		// Remember the stock snapshot for the post-parse policy check.
		var info domain.ProductStockInfo
		if jsonErr := json.Unmarshal([]byte(result), &info); jsonErr == nil {
			r.lastStock = &info
		}
	case domain.IsKind(err, domain.ErrKindNotFound):
		// A read miss is a legitimate tool outcome: surface it to the
		// backend and let the directive policy drive the final decision.
		result = fmt.Sprintf(`{"error": %q}`, err.Error())
		r.invocation.Result = result
		r.invocation.IsError = true
	default:
		// Malformed arguments or an unreachable store fail the run.
		r.fail(err)
		return
	}

	e.logger.Debug("tool invoked",
		slog.String("tool", tc.Function.Name),
		slog.String("detection_id", r.event.SourceDetectionID),
		slog.Bool("is_error", r.invocation.IsError),
	)

	r.messages = append(r.messages, openai.ChatCompletionMessage{
		Role:       "tool",
		Content:    result,
		ToolCallID: tc.ID,
	})
	r.state = stateAwaitFinal
}

// awaitFinal sends the conversation back once more, without tool
// access, and expects a direct structured answer. A second tool call
// here is backend misbehavior.
func (e *Engine) awaitFinal(ctx context.Context, r *run) {
	resp, err := e.complete(ctx, r.messages, nil)
	if err != nil {
		r.fail(err)
		return
	}

	msg, err := firstMessage(resp)
	if err != nil {
		r.fail(err)
		return
	}

	if len(msg.ToolCalls) > 0 {
		r.fail(domain.ErrMalformedModelResponse("backend requested a second tool call"))
		return
	}

	e.finish(r, msg.Content)
}

// finish parses the model's final content into a Decision and runs the
// stock policy check.
func (e *Engine) finish(r *run, content string) {
	decision, err := parseDecision(content)
	if err != nil {
		r.fail(err)
		return
	}
	if decision.UserID == 0 {
		decision.UserID = e.defaultUserID
	}

	if r.lastStock != nil {
		if r.lastStock.QuantityInStore == 0 && decision.Action == domain.ActionAlert {
			r.fail(domain.ErrPolicyViolation(
				fmt.Sprintf("backend chose alert for %q with zero stock", decision.ProductName)))
			return
		}
		if r.lastStock.QuantityInStore > 0 && decision.Action == domain.ActionReorder {
			r.fail(domain.ErrPolicyViolation(
				fmt.Sprintf("backend chose reorder for %q with %d in store",
					decision.ProductName, r.lastStock.QuantityInStore)))
			return
		}
	}

	r.decision = *decision
	r.state = stateDone
}

func (r *run) fail(err error) {
	r.err = err
	r.state = stateFailed
}

// complete performs one backend call under the per-call deadline.
func (e *Engine) complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (*openai.ChatCompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	req := &openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: messages,
		Tools:    tools,
	}
	if len(tools) > 0 {
		req.ToolChoice = "auto"
	}

	resp, err := e.backend.CreateChatCompletion(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, domain.ErrModelTimeout("reasoning backend call exceeded deadline").WithErr(err)
		}
		// A cancelled parent context (shutdown, dropped request) is not a
		// backend failure.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.ErrBackendUnavailable(err)
	}
	return resp, nil
}

func firstMessage(resp *openai.ChatCompletionResponse) (*openai.ChatCompletionMessage, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, domain.ErrMalformedModelResponse("backend returned no choices")
	}
	return &resp.Choices[0].Message, nil
}

// parseDecision strictly decodes the model's final content into a
// Decision. Partial or missing required fields are a parse error, never
// a best-effort partial object.
func parseDecision(content string) (*domain.Decision, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.ErrMalformedModelResponse("backend returned empty content")
	}

	// Models occasionally wrap JSON in a markdown fence despite the directive.
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var d domain.Decision
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil, domain.ErrDecisionParse(fmt.Sprintf("final content is not valid JSON: %v", err))
	}

	if d.Action == "" {
		return nil, domain.ErrDecisionParse("decision is missing required field action")
	}
	if !d.Action.Valid() {
		return nil, domain.ErrDecisionParse(fmt.Sprintf("unknown action %q", d.Action))
	}
	if d.ProductName == "" {
		return nil, domain.ErrDecisionParse("decision is missing required field product")
	}
	if d.Quantity < 0 {
		return nil, domain.ErrDecisionParse(fmt.Sprintf("decision quantity must be >= 0, got %d", d.Quantity))
	}

	return &d, nil
}
