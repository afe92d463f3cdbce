package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decline-notifier/internal/classify"
	"decline-notifier/internal/dedup"
	"decline-notifier/internal/delivery"
	"decline-notifier/internal/history"
	"decline-notifier/internal/model"
	"decline-notifier/internal/netcheck"
	"decline-notifier/internal/policy"
	"decline-notifier/internal/queue"
	"decline-notifier/internal/request"
)

type fixture struct {
	q    *queue.MemoryQueue
	d    *Dispatcher
	hist *history.MemoryLog
	stop context.CancelFunc
}

func newFixture(t *testing.T, maxRetries int, network netcheck.Checker) *fixture {
	t.Helper()
	q := queue.NewMemoryQueue(16)
	pol := policy.RetryPolicy{MaxRetries: maxRetries, BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	job := delivery.NewJob(request.NewBuilder(request.VariantPostBody), delivery.NewHTTPTransport(delivery.DefaultTimeouts()), pol)

	d := NewDispatcher(2, q, job)
	d.History = history.NewMemoryLog()
	d.OfflineDelay = 20 * time.Millisecond
	if network != nil {
		d.Network = network
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.Run(ctx)
	f := &fixture{q: q, d: d, hist: d.History.(*history.MemoryLog), stop: cancel}
	t.Cleanup(func() {
		cancel()
		_ = q.Close()
		d.Wait()
	})
	return f
}

func (f *fixture) live(callID string) bool {
	ok, _ := f.q.Live(context.Background(), dedup.Key(callID))
	return ok
}

func TestDispatcher_RetryThenSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, 1, nil)
	_, ok, err := Submit(context.Background(), f.q, "c1", srv.URL, "r1", "t1")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return !f.live("c1") }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), hits.Load())

	recs, err := f.hist.List(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "complete_success", recs[0].Decision)
	assert.Equal(t, 1, recs[0].Attempt)
	assert.Equal(t, "retry", recs[1].Decision)
	assert.Equal(t, 503, recs[1].HTTPStatus)
}

func TestDispatcher_ExhaustsBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t, 2, nil)
	_, _, err := Submit(context.Background(), f.q, "c1", srv.URL, "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !f.live("c1") }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), hits.Load())

	recs, _ := f.hist.List(context.Background(), "c1")
	require.Len(t, recs, 3)
	assert.Equal(t, "complete_failure", recs[0].Decision)
	assert.Equal(t, "exhausted", recs[0].Reason)
}

func TestDispatcher_DuplicateSubmitSendsOnce(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
	}))
	defer srv.Close()

	f := newFixture(t, 1, nil)
	first, ok, err := Submit(context.Background(), f.q, "c1", srv.URL, "", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, first)

	second, ok, err := Submit(context.Background(), f.q, "c1", srv.URL, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, second)

	close(release)
	require.Eventually(t, func() bool { return !f.live("c1") }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatcher_InvalidSubmitRejected(t *testing.T) {
	f := newFixture(t, 1, nil)
	_, ok, err := Submit(context.Background(), f.q, "", "http://h", "", "")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestDispatcher_WaitsForNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	var checks atomic.Int32
	offlineTwice := netcheck.Func(func(context.Context) bool {
		return checks.Add(1) > 2
	})

	f := newFixture(t, 0, offlineTwice)
	_, _, err := Submit(context.Background(), f.q, "c1", srv.URL, "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !f.live("c1") }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
	assert.GreaterOrEqual(t, checks.Load(), int32(3))

	recs, _ := f.hist.List(context.Background(), "c1")
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].Attempt)
	assert.Equal(t, "complete_success", recs[0].Decision)
}

func TestDispatcher_CancelInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newFixture(t, 3, nil)
	_, _, err := Submit(context.Background(), f.q, "c1", srv.URL, "", "")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("attempt never started")
	}
	require.NoError(t, f.d.Cancel(context.Background(), "c1"))

	require.Eventually(t, func() bool {
		recs, _ := f.hist.List(context.Background(), "c1")
		return len(recs) == 1
	}, 3*time.Second, 10*time.Millisecond)

	recs, _ := f.hist.List(context.Background(), "c1")
	assert.Equal(t, "complete_failure", recs[0].Decision)
	assert.Equal(t, "cancelled", recs[0].Reason)
	assert.False(t, f.live("c1"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatcher_CancelBeforeAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	offline := netcheck.Func(func(context.Context) bool { return false })
	f := newFixture(t, 1, offline)
	_, _, err := Submit(context.Background(), f.q, "c1", srv.URL, "", "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.d.Cancel(context.Background(), "c1"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), hits.Load())
	assert.False(t, f.live("c1"))
}

func TestDispatcher_ShutdownHandsBackAttempt(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newFixture(t, 1, nil)
	task, _, err := Submit(context.Background(), f.q, "c1", srv.URL, "", "")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("attempt never started")
	}
	f.stop()
	f.d.Wait()

	assert.True(t, f.live("c1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := f.q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, 0, got.Attempt)

	recs, _ := f.hist.List(ctx, "c1")
	require.NotEmpty(t, recs)
	assert.Equal(t, "cancelled", recs[0].Reason)
}

func TestDispatcher_OfflineDuringShutdownKeepsRedisTask(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := queue.NewRedisQueueFromClient(rdb, "test:")

	var hits atomic.Int32
	tr := delivery.TransportFunc(func(context.Context, request.Wire) classify.Result {
		hits.Add(1)
		return classify.Result{StatusCode: http.StatusOK}
	})
	job := delivery.NewJob(request.NewBuilder(request.VariantPostBody), tr, policy.Default())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	d := NewDispatcher(1, q, job)
	d.Network = netcheck.Func(func(context.Context) bool {
		stop()
		return false
	})

	task, ok, err := Submit(context.Background(), q, "c1", "https://api.example.com", "", "")
	require.NoError(t, err)
	require.True(t, ok)

	d.Run(ctx)
	d.Wait()
	assert.Equal(t, int32(0), hits.Load())

	live, err := q.Live(context.Background(), dedup.Key("c1"))
	require.NoError(t, err)
	assert.True(t, live)

	dctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, 0, got.Attempt)
}
