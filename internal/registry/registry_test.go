package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/sellflux/internal/metrics"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeJobs struct {
	starts   atomic.Int32
	stops    atomic.Int32
	startErr error
	stopErr  error
	delay    time.Duration
}

func (f *fakeJobs) StartJob(_ context.Context, req StartRequest) (json.RawMessage, error) {
	f.starts.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	return json.RawMessage(`{"job":"` + req.TokenAddress + `"}`), nil
}

func (f *fakeJobs) StopJob(context.Context, string) error {
	f.stops.Add(1)
	return f.stopErr
}

type brokenSet struct{ *MemorySet }

func (b *brokenSet) TryAdd(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (b *brokenSet) Contains(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestRegistry_TryStartConcurrent(t *testing.T) {
	const n = 64

	jobs := &fakeJobs{delay: 5 * time.Millisecond}
	m := metrics.New()
	r := New(NewMemorySet(), jobs, discard, m)

	var (
		wg      sync.WaitGroup
		started atomic.Int32
		gate    = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			if r.TryStart(context.Background(), "TKN1", 100, "rec1") {
				started.Add(1)
			}
		}()
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(1), jobs.starts.Load())
	assert.True(t, r.IsActive(context.Background(), "TKN1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveJobs))
	assert.Equal(t, float64(n-1), testutil.ToFloat64(m.JobsTotal.WithLabelValues("start", "already_active")))
}

func TestRegistry_TryStartRemoteFailure(t *testing.T) {
	jobs := &fakeJobs{startErr: errors.New("503")}
	r := New(NewMemorySet(), jobs, discard, nil)
	ctx := context.Background()

	assert.False(t, r.TryStart(ctx, "TKN1", 100, "rec1"))
	assert.False(t, r.IsActive(ctx, "TKN1"))

	jobs.startErr = nil
	assert.True(t, r.TryStart(ctx, "TKN1", 100, "rec1"))
	assert.Equal(t, int32(2), jobs.starts.Load())
}

func TestRegistry_Stop(t *testing.T) {
	jobs := &fakeJobs{}
	r := New(NewMemorySet(), jobs, discard, nil)
	ctx := context.Background()

	require.True(t, r.TryStart(ctx, "TKN1", 100, "rec1"))
	r.Stop(ctx, "TKN1")
	assert.False(t, r.IsActive(ctx, "TKN1"))

	// idempotent
	r.Stop(ctx, "TKN1")
	assert.Equal(t, int32(2), jobs.stops.Load())

	// remote failure still releases locally
	require.True(t, r.TryStart(ctx, "TKN2", 1, "rec1"))
	jobs.stopErr = errors.New("timeout")
	r.Stop(ctx, "TKN2")
	assert.False(t, r.IsActive(ctx, "TKN2"))
	assert.Empty(t, r.Active(ctx))
}

func TestRegistry_BrokenSet(t *testing.T) {
	jobs := &fakeJobs{}
	r := New(&brokenSet{MemorySet: NewMemorySet()}, jobs, discard, nil)
	ctx := context.Background()

	assert.False(t, r.TryStart(ctx, "TKN1", 1, "rec1"))
	assert.Equal(t, int32(0), jobs.starts.Load())
	assert.True(t, r.IsActive(ctx, "TKN1"))
}

func TestMemorySet(t *testing.T) {
	s := NewMemorySet()
	ctx := context.Background()

	ok, err := s.TryAdd(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAdd(ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.TryAdd(ctx, "B")
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, list)

	require.NoError(t, s.Remove(ctx, "A"))
	require.NoError(t, s.Remove(ctx, "missing"))
	has, err := s.Contains(ctx, "A")
	require.NoError(t, err)
	assert.False(t, has)
}

type expiringSet struct {
	*MemorySet
	ttl       time.Duration
	refreshes atomic.Int32
}

func (e *expiringSet) Refresh(ctx context.Context) (int, error) {
	e.refreshes.Add(1)
	tokens, err := e.List(ctx)
	return len(tokens), err
}

func (e *expiringSet) TTL() time.Duration { return e.ttl }

func TestRegistry_KeepAlive(t *testing.T) {
	set := &expiringSet{MemorySet: NewMemorySet(), ttl: 30 * time.Millisecond}
	r := New(set, &fakeJobs{}, discard, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.KeepAlive(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keep-alive did not stop with its context")
	}
	assert.GreaterOrEqual(t, set.refreshes.Load(), int32(3))
}

func TestRegistry_KeepAliveNonExpiring(t *testing.T) {
	r := New(NewMemorySet(), &fakeJobs{}, discard, nil)

	done := make(chan struct{})
	go func() {
		r.KeepAlive(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keep-alive should return at once for a set without expiry")
	}
}
