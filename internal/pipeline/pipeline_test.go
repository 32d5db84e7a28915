package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwatch/shelfwatch/internal/agent"
	"github.com/shelfwatch/shelfwatch/internal/domain"
	"github.com/shelfwatch/shelfwatch/internal/store"
	"github.com/shelfwatch/shelfwatch/internal/store/sqlite"
)

type fakeEngine struct {
	result *agent.Result
	err    error
	calls  int
}

func (f *fakeEngine) Decide(ctx context.Context, event domain.GapEvent) (*agent.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

var dbSeq atomic.Int64

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:pipeline_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	s, err := sqlite.New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMilk(t *testing.T, s *sqlite.Store, quantity int) {
	t.Helper()
	require.NoError(t, s.InsertProduct(context.Background(), &store.Product{
		Name:            "Milk",
		Type:            "dairy",
		QuantityInStore: quantity,
		Shelf:           "Shelf 1",
		Aisle:           "A1",
	}))
}

func milkEvent(detectionID string) domain.GapEvent {
	return domain.GapEvent{
		ProductName:       "Milk",
		DetectedGapSize:   domain.GapSizeLarge,
		ShelfID:           "Shelf 1",
		ObservedAt:        time.Now().UTC(),
		SourceDetectionID: detectionID,
	}
}

func TestProcess_Alert(t *testing.T) {
	st := newTestStore(t)
	seedMilk(t, st, 12)

	engine := &fakeEngine{result: &agent.Result{
		Decision: domain.Decision{
			Action:      domain.ActionAlert,
			ProductName: "Milk",
			UserID:      1,
			Rationale:   "12 units in the back room",
		},
		Tool: &domain.ToolInvocation{ToolName: "query_stock"},
	}}
	pipe := New(engine, NewApplier(st, nil), nil)

	outcome, err := pipe.Process(context.Background(), milkEvent("evt-1"))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionAlert, outcome.Decision.Action)
	assert.NotZero(t, outcome.Apply.AlertID)
	assert.False(t, outcome.Apply.AlreadyApplied)
	require.NotNil(t, outcome.Tool)
	assert.Equal(t, "query_stock", outcome.Tool.ToolName)

	alerts, err := st.ListAlerts(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestProcess_Reorder(t *testing.T) {
	st := newTestStore(t)
	seedMilk(t, st, 0)

	engine := &fakeEngine{result: &agent.Result{
		Decision: domain.Decision{
			Action:      domain.ActionReorder,
			ProductName: "Milk",
			Quantity:    20,
			UserID:      1,
		},
	}}
	pipe := New(engine, NewApplier(st, nil), nil)

	outcome, err := pipe.Process(context.Background(), milkEvent("evt-1"))
	require.NoError(t, err)
	assert.NotZero(t, outcome.Apply.ReorderID)

	logs, err := st.ListInventoryLogs(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 20, logs[0].QuantityChanged)
}

func TestProcess_ReplayedEvent(t *testing.T) {
	st := newTestStore(t)
	seedMilk(t, st, 0)

	engine := &fakeEngine{result: &agent.Result{
		Decision: domain.Decision{
			Action:      domain.ActionReorder,
			ProductName: "Milk",
			Quantity:    20,
			UserID:      1,
		},
	}}
	pipe := New(engine, NewApplier(st, nil), nil)

	first, err := pipe.Process(context.Background(), milkEvent("evt-1"))
	require.NoError(t, err)

	second, err := pipe.Process(context.Background(), milkEvent("evt-1"))
	require.NoError(t, err)
	assert.True(t, second.Apply.AlreadyApplied)
	assert.Equal(t, first.Apply.ReorderID, second.Apply.ReorderID)

	reorders, err := st.ListReorders(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, reorders, 1)
}

func TestProcess_NoAction(t *testing.T) {
	st := newTestStore(t)
	seedMilk(t, st, 12)

	engine := &fakeEngine{result: &agent.Result{
		Decision: domain.Decision{
			Action:      domain.ActionNoAction,
			ProductName: "Milk",
			UserID:      1,
		},
	}}
	pipe := New(engine, NewApplier(st, nil), nil)

	outcome, err := pipe.Process(context.Background(), milkEvent("evt-1"))
	require.NoError(t, err)
	assert.True(t, outcome.Apply.NoAction)

	alerts, err := st.ListAlerts(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestProcess_InvalidEvent(t *testing.T) {
	engine := &fakeEngine{}
	pipe := New(engine, NewApplier(newTestStore(t), nil), nil)

	event := milkEvent("evt-1")
	event.ProductName = ""

	_, err := pipe.Process(context.Background(), event)
	assert.True(t, domain.IsKind(err, domain.ErrKindMalformedEvent))
	assert.Zero(t, engine.calls, "invalid events must not reach the engine")
}

func TestProcess_EngineFailure(t *testing.T) {
	st := newTestStore(t)
	seedMilk(t, st, 12)

	engine := &fakeEngine{err: domain.ErrModelTimeout("model call exceeded deadline")}
	pipe := New(engine, NewApplier(st, nil), nil)

	_, err := pipe.Process(context.Background(), milkEvent("evt-1"))
	assert.True(t, domain.IsKind(err, domain.ErrKindModelTimeout))

	// Nothing was applied, so a retry starts clean.
	alerts, err := st.ListAlerts(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestApplier_RejectsBeforeTransaction(t *testing.T) {
	applier := NewApplier(newTestStore(t), nil)

	_, err := applier.Apply(context.Background(), domain.Decision{
		Action:      domain.ActionReorder,
		ProductName: "Milk",
		Quantity:    0,
		UserID:      1,
	}, milkEvent("evt-1"))
	assert.True(t, domain.IsKind(err, domain.ErrKindInvalidQuantity))

	_, err = applier.Apply(context.Background(), domain.Decision{
		Action:      domain.ActionKind("discard"),
		ProductName: "Milk",
	}, milkEvent("evt-1"))
	assert.True(t, domain.IsKind(err, domain.ErrKindDecisionParse))
}
