package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/smhanov/agentpod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeBackend struct {
	results []Result
	err     error
	cost    float64

	mu        sync.Mutex
	calls     int
	lastCount int
}

func (f *fakeBackend) Name() string         { return "fake" }
func (f *fakeBackend) CostPerCall() float64 { return f.cost }

func (f *fakeBackend) Query(ctx context.Context, query string, count int) ([]Result, error) {
	f.mu.Lock()
	f.calls++
	f.lastCount = count
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Result(nil), f.results...), nil
}

func manyResults(n int) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = Result{URL: fmt.Sprintf("https://example.com/%d", i), Title: fmt.Sprintf("Result %d", i)}
	}
	return out
}

func noContent(context.Context, string) string { return "" }

func TestSearchTruncatesAndRecords(t *testing.T) {
	backend := &fakeBackend{results: manyResults(5), cost: 0.005}
	tracker := agentpod.NewUsageTracker()
	c, err := New(backend,
		WithUsageTracker(tracker),
		WithContentizer(ContentizerFunc(noContent)),
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "sky color", 3, false)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 3, backend.lastCount)
	assert.Equal(t, int64(1), tracker.TotalSearchCount())
	assert.InDelta(t, 0.005, tracker.TotalSearchCost(), 1e-12)
	assert.Zero(t, tracker.TotalLLMCost())

	_, err = c.Search(context.Background(), "sky color", 3, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tracker.TotalSearchCount())
	assert.InDelta(t, 0.010, tracker.TotalCost(), 1e-12)
}

func TestSearchFetchContent(t *testing.T) {
	backend := &fakeBackend{results: []Result{
		{URL: "https://good.example/a", Title: "A"},
		{URL: "https://broken.example/b", Title: "B"},
		{URL: "", Title: "No link"},
	}}
	var fetched int32
	ct := ContentizerFunc(func(_ context.Context, u string) string {
		atomic.AddInt32(&fetched, 1)
		if u == "https://good.example/a" {
			return "page text"
		}
		return ""
	})
	c, err := New(backend, WithContentizer(ct), WithFetchConcurrency(2))
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "q", 10, true)
	require.NoError(t, err)
	require.Len(t, results, 3, "results without content are kept")
	assert.Equal(t, "page text", results[0].Content)
	assert.Empty(t, results[1].Content)
	assert.Empty(t, results[2].Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetched))

	results, err = c.Search(context.Background(), "q", 10, false)
	require.NoError(t, err)
	assert.Empty(t, results[0].Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetched))
}

func TestSearchFailureRecordsNothing(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection reset"), cost: 0.005}
	tracker := agentpod.NewUsageTracker()
	c, err := New(backend, WithUsageTracker(tracker), WithContentizer(ContentizerFunc(noContent)))
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "q", 3, false)
	var se *agentpod.SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fake", se.Backend)
	assert.True(t, agentpod.IsRetryable(err))
	assert.Zero(t, tracker.TotalSearchCount())
	assert.Zero(t, tracker.TotalSearchCost())
}

func TestSearchPassesConfigurationErrors(t *testing.T) {
	c, err := New(NewBing(""), WithContentizer(ContentizerFunc(noContent)))
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "q", 3, false)
	var ce *agentpod.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Field, "bing")
}

func TestSearchValidation(t *testing.T) {
	backend := &fakeBackend{results: manyResults(2)}
	c, err := New(backend, WithContentizer(ContentizerFunc(noContent)))
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "   ", 3, false)
	assert.ErrorIs(t, err, ErrEmptyQuery)
	_, err = c.Search(context.Background(), "q", 0, false)
	assert.ErrorIs(t, err, ErrInvalidCount)
	assert.Zero(t, backend.calls)
}

func TestNewValidatesConfiguration(t *testing.T) {
	_, err := New(nil)
	var ce *agentpod.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	_, err = New(&fakeBackend{}, WithCostPerCall(-0.01))
	assert.ErrorAs(t, err, &ce)

	backend := &fakeBackend{results: manyResults(1), cost: 0.005}
	tracker := agentpod.NewUsageTracker()
	c, err := New(backend, WithCostPerCall(0.02), WithUsageTracker(tracker), WithContentizer(ContentizerFunc(noContent)))
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "q", 1, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, tracker.TotalSearchCost(), 1e-12)
}

func TestSearchContextTracker(t *testing.T) {
	backend := &fakeBackend{results: manyResults(1), cost: 0.005}
	own := agentpod.NewUsageTracker()
	scoped := agentpod.NewUsageTracker()
	c, err := New(backend, WithUsageTracker(own), WithContentizer(ContentizerFunc(noContent)))
	require.NoError(t, err)

	ctx := agentpod.ContextWithUsageTracker(context.Background(), scoped)
	_, err = c.Search(ctx, "q", 1, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), own.TotalSearchCount())
	assert.Equal(t, int64(1), scoped.TotalSearchCount())

	ctx = agentpod.ContextWithUsageTracker(context.Background(), own)
	_, err = c.Search(ctx, "q", 1, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), own.TotalSearchCount(), "a tracker reachable twice is recorded once")
}

func TestSearchConcurrent(t *testing.T) {
	backend := &fakeBackend{results: manyResults(2), cost: 0.001}
	tracker := agentpod.NewUsageTracker()
	c, err := New(backend, WithUsageTracker(tracker), WithContentizer(ContentizerFunc(noContent)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Search(context.Background(), "q", 2, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), tracker.TotalSearchCount())
	assert.InDelta(t, 0.05, tracker.TotalSearchCost(), 1e-9)
}

func TestSearchCancelledDuringFetch(t *testing.T) {
	backend := &fakeBackend{results: manyResults(2), cost: 0.005}
	tracker := agentpod.NewUsageTracker()
	ctx, cancel := context.WithCancel(context.Background())
	ct := ContentizerFunc(func(context.Context, string) string {
		cancel()
		return ""
	})
	c, err := New(backend, WithUsageTracker(tracker), WithContentizer(ct))
	require.NoError(t, err)

	_, err = c.Search(ctx, "q", 2, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tracker.TotalSearchCount())
}
