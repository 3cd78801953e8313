package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sat18-labs/sat18/internal/catalog"
	"github.com/sat18-labs/sat18/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	mu        sync.Mutex
	got       []model.Decision
	failUntil int
	calls     int
}

func (f *fakeSink) PostDecisionLog(_ context.Context, d model.Decision) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return uuid.Nil, errors.New("connection refused")
	}
	f.got = append(f.got, d)
	return uuid.New(), nil
}

func (f *fakeSink) delivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func decision(project string) model.Decision {
	return model.Decision{
		Actions:         []model.Action{{ID: "no-op", Label: "Proceed"}},
		ContextSnapshot: model.DecisionContext{Project: project},
	}
}

func drain(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Drain(ctx)
}

func TestRecorderDelivers(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, testLogger(), Config{FlushInterval: 10 * time.Millisecond})
	r.Start(context.Background())

	assert.True(t, r.Record(decision("shop")))
	assert.True(t, r.Record(decision("blog")))
	assert.Eventually(t, func() bool { return sink.delivered() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), r.Recorded())

	drain(t, r)
}

func TestRecorderSkipsEmptyDecisions(t *testing.T) {
	r := NewRecorder(&fakeSink{}, testLogger(), Config{})
	assert.False(t, r.Record(model.Decision{}))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(0), r.Dropped())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := NewRecorder(&fakeSink{}, testLogger(), Config{Capacity: 2})
	assert.True(t, r.Record(decision("a")))
	assert.True(t, r.Record(decision("b")))
	assert.False(t, r.Record(decision("c")))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int64(1), r.Dropped())
}

func TestRecorderRetriesOnceThenDrops(t *testing.T) {
	sink := &fakeSink{failUntil: 1}
	r := NewRecorder(sink, testLogger(), Config{MaxAttempts: 2})

	r.Record(decision("shop"))
	r.flush(context.Background())
	assert.Equal(t, 1, r.Len(), "first failure is retried")
	r.flush(context.Background())
	assert.Equal(t, 1, sink.delivered())
	assert.Equal(t, 0, r.Len())

	sink = &fakeSink{failUntil: 10}
	r = NewRecorder(sink, testLogger(), Config{MaxAttempts: 2})
	r.Record(decision("shop"))
	r.flush(context.Background())
	r.flush(context.Background())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(1), r.Dropped())
}

func TestRecorderDrainFlushes(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, testLogger(), Config{FlushInterval: time.Hour})
	r.Start(context.Background())
	r.Record(decision("shop"))

	drain(t, r)
	assert.Equal(t, 1, sink.delivered())
}

func TestRecorderDrainAfterStartContextCancelled(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, testLogger(), Config{FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	r.Record(decision("shop"))
	cancel()
	require.Eventually(t, func() bool { return sink.delivered() == 1 }, time.Second, 5*time.Millisecond)

	// Recorded after the loop stopped on its own.
	r.Record(decision("blog"))
	drain(t, r)
	assert.Equal(t, 2, sink.delivered())
	assert.Equal(t, 0, r.Len())
}

func TestRecorderAsObserver(t *testing.T) {
	r := NewRecorder(&fakeSink{}, testLogger(), Config{})
	r.OnNodeVisited(model.TraceEntry{NodeID: "root"})
	r.OnDecision(decision("shop"))
	assert.Equal(t, 1, r.Len())
}

type memStore struct {
	mu   sync.Mutex
	recs []model.DecisionRecord
	upd  []model.ExecutionUpdate
}

func (m *memStore) InsertDecision(_ context.Context, d model.Decision) (model.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := model.DecisionRecord{ID: uuid.New(), Project: d.ContextSnapshot.Project, Actions: d.Actions}
	m.recs = append(m.recs, rec)
	return rec, nil
}

func (m *memStore) UpdateDecisionExecution(_ context.Context, _ uuid.UUID, u model.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upd = append(m.upd, u)
	return nil
}

func TestStoreSinkRunsController(t *testing.T) {
	store := &memStore{}
	ctrl := catalog.NewController(catalog.Default(testLogger()), store, testLogger())
	sink := StoreSink{Store: store, Controller: ctrl, Logger: testLogger()}

	d := decision("shop")
	d.Actions = []model.Action{
		{ID: "alert-oncall", Auto: true},
		{ID: "rollback", Auto: true},
	}
	id, outcomes, err := sink.Log(context.Background(), d)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	require.Len(t, outcomes, 2)
	assert.Equal(t, catalog.DispositionExecuted, outcomes[0].Disposition)
	assert.Equal(t, catalog.DispositionPending, outcomes[1].Disposition)
	require.Len(t, store.upd, 1)
	assert.Equal(t, model.ExecutionApplied, store.upd[0].Status)
}
