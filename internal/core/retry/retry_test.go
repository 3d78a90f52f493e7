package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"skiptracer/internal/core/humanize"
	"skiptracer/internal/fetch"
	"skiptracer/proxypool"
	"skiptracer/proxypool/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRotator(t *testing.T, ids ...string) *proxypool.Rotator {
	t.Helper()
	opts := proxypool.DefaultOptions()
	opts.AllowDirect = false
	r := proxypool.New(opts, nil, nil)
	for i, id := range ids {
		r.Add(&model.ProxyInfo{ID: id, Scheme: "http", Host: fmt.Sprintf("10.0.0.%d", i+1), Port: 8080, Kind: model.KindResidential})
	}
	return r
}

// noSleep 记录退避时间而不真正等待。
func noSleep(c *Controller) *[]time.Duration {
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return &slept
}

func TestDoDirectWithoutRotator(t *testing.T) {
	c := New(Config{Attempts: 3}, nil, humanize.New(humanize.Config{}))
	calls := 0
	err := c.Do(context.Background(), "tps", func(ctx context.Context, lease *proxypool.Lease) error {
		calls++
		if !lease.Direct() {
			t.Errorf("expected direct lease, got %s", lease.ProxyID())
		}
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("Do() = %v after %d calls", err, calls)
	}
}

func TestBlockedRotatesToAnotherProxy(t *testing.T) {
	r := newRotator(t, "a", "b", "c")
	c := New(Config{Attempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Second}, r, nil)
	slept := noSleep(c)

	var used []string
	got, err := Run(context.Background(), c, "tps", func(ctx context.Context, lease *proxypool.Lease) (string, error) {
		used = append(used, lease.ProxyID())
		if len(used) == 1 {
			return "", fetch.ErrBlocked
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Run() = %q, %v", got, err)
	}
	if len(used) != 2 || used[0] == used[1] {
		t.Errorf("expected rotation to a different proxy, used %v", used)
	}
	if len(*slept) != 0 {
		t.Errorf("blocked attempts should not back off, slept %v", *slept)
	}
	st := r.Stats()
	if st.CoolingDown != 1 || st.InUse != 0 {
		t.Errorf("stats after block = %+v", st)
	}
}

func TestPermanentErrorStopsImmediately(t *testing.T) {
	r := newRotator(t, "a", "b")
	c := New(Config{Attempts: 5}, r, nil)
	noSleep(c)

	calls := 0
	err := c.Do(context.Background(), "fps", func(ctx context.Context, lease *proxypool.Lease) error {
		calls++
		return fetch.ErrPermanent
	})
	if !errors.Is(err, fetch.ErrPermanent) {
		t.Fatalf("Do() = %v, want ErrPermanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if st := r.Stats(); st.CoolingDown != 0 || st.ConsecutiveFailures != 0 {
		t.Errorf("permanent errors must not count against the proxy: %+v", st)
	}
}

func TestTransientErrorsBackOffAndGiveUp(t *testing.T) {
	c := New(Config{Attempts: 3, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, nil, nil)
	slept := noSleep(c)

	boom := errors.New("connection reset")
	calls := 0
	err := c.Do(context.Background(), "tps", func(ctx context.Context, lease *proxypool.Lease) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do() = %v, want wrapped %v", err, boom)
	}
	if !strings.Contains(err.Error(), "giving up after 3 attempts") {
		t.Errorf("error should carry the attempt count: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(*slept))
	}
	if (*slept)[0] < 100*time.Millisecond || (*slept)[0] > 150*time.Millisecond {
		t.Errorf("first backoff = %v", (*slept)[0])
	}
	if (*slept)[1] < 200*time.Millisecond || (*slept)[1] > 300*time.Millisecond {
		t.Errorf("second backoff = %v", (*slept)[1])
	}
}

func TestBackoffCapped(t *testing.T) {
	c := New(Config{Attempts: 10, BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}, nil, nil)
	for attempt := 1; attempt <= 10; attempt++ {
		if d := c.backoff(attempt); d > 5*time.Second || d < time.Second {
			t.Errorf("backoff(%d) = %v", attempt, d)
		}
	}
	if d := New(Config{}, nil, nil).backoff(3); d != 0 {
		t.Errorf("zero base backoff = %v", d)
	}
}

func TestPoolErrorsAreNotRetried(t *testing.T) {
	c := New(Config{Attempts: 3}, newRotator(t), nil)
	calls := 0
	err := c.Do(context.Background(), "tps", func(ctx context.Context, lease *proxypool.Lease) error {
		calls++
		return nil
	})
	if !errors.Is(err, proxypool.ErrPoolEmpty) {
		t.Fatalf("Do() = %v, want ErrPoolEmpty", err)
	}
	if calls != 0 {
		t.Errorf("fn should not run without a lease, calls = %d", calls)
	}
}

func TestParallelFirstSuccessWins(t *testing.T) {
	r := newRotator(t, "a", "b")
	c := New(Config{Attempts: 1, Parallel: 2}, r, nil)

	got, err := Run(context.Background(), c, "tps", func(ctx context.Context, lease *proxypool.Lease) (string, error) {
		if lease.ProxyID() == "a" {
			// 慢的一方只在被取消后返回
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "from " + lease.ProxyID(), nil
	})
	if err != nil || got != "from b" {
		t.Fatalf("Run() = %q, %v", got, err)
	}
	st := r.Stats()
	if st.InUse != 0 || st.ActiveLeases != 0 {
		t.Errorf("leases leaked: %+v", st)
	}
	// 被取消的一方按 Neutral 释放, 不进入冷却也不计失败
	if st.CoolingDown != 0 || st.ConsecutiveFailures != 0 || st.Usable != 2 {
		t.Errorf("cancelled racer was penalized: %+v", st)
	}
}

func TestContextCancelledStops(t *testing.T) {
	c := New(Config{Attempts: 5, BaseBackoff: time.Hour, MaxBackoff: time.Hour}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.Do(ctx, "tps", func(ctx context.Context, lease *proxypool.Lease) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestHumanizedWaitUsesCaution(t *testing.T) {
	r := newRotator(t, "a", "b", "c", "d")
	for i := 0; i < 2; i++ {
		l, err := r.Acquire(context.Background(), "tps")
		if err != nil {
			t.Fatal(err)
		}
		r.Release(l, proxypool.Failure)
	}
	if r.Caution() != 1 {
		t.Fatalf("caution = %d, want 1", r.Caution())
	}
	c := New(Config{Attempts: 1}, r, nil)
	if m := c.multiplier(); m != 1.5 {
		t.Errorf("multiplier = %v, want 1.5", m)
	}
}
