package proxypool

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"skiptracer/proxypool/model"
)

func failureClassifier(error) Outcome { return Failure }

func TestRaceFirstSuccessWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _ := newTestRotator(t, DefaultOptions(),
		proxy("a", model.KindResidential), proxy("b", model.KindResidential), proxy("c", model.KindResidential))

	got, err := Race(context.Background(), r, "tps", 3, failureClassifier,
		func(ctx context.Context, l *Lease) (string, error) {
			if l.Proxy.ID == "b" {
				return "found via b", nil
			}
			<-ctx.Done()
			return "", ctx.Err()
		})
	if err != nil {
		t.Fatalf("Race() error = %v", err)
	}
	if got != "found via b" {
		t.Errorf("Race() = %q", got)
	}

	for _, p := range r.All() {
		if p.InUse {
			t.Errorf("%s still in use", p.ID)
		}
		if p.FailureCount != 0 {
			t.Errorf("cancelled loser %s was penalised: %+v", p.ID, p)
		}
	}
	if s := r.Stats(); s.ActiveLeases != 0 || s.SuccessStreak != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRaceAllFail(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _ := newTestRotator(t, DefaultOptions(),
		proxy("a", model.KindResidential), proxy("b", model.KindResidential))
	boom := errors.New("boom")

	_, err := Race(context.Background(), r, "", 4, failureClassifier,
		func(ctx context.Context, l *Lease) (int, error) {
			return 0, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("Race() error = %v, want joined boom", err)
	}
	for _, p := range r.All() {
		if p.FailureCount != 1 {
			t.Errorf("%s FailureCount = %d, want 1", p.ID, p.FailureCount)
		}
	}
	if r.Stats().ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d", r.Stats().ConsecutiveFailures)
	}
}

func TestRaceDirectRunsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _ := newTestRotator(t, DefaultOptions())
	calls := 0
	v, err := Race(context.Background(), r, "", 5, failureClassifier,
		func(ctx context.Context, l *Lease) (int, error) {
			calls++
			if !l.Direct() {
				t.Error("expected a direct lease")
			}
			return 7, nil
		})
	if err != nil || v != 7 {
		t.Fatalf("Race() = %d, %v", v, err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestRaceBlockedClassification(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, clock := newTestRotator(t, DefaultOptions(), proxy("a", model.KindResidential))
	blocked := errors.New("403")
	_, err := Race(context.Background(), r, "", 1,
		func(err error) Outcome {
			if errors.Is(err, blocked) {
				return Blocked
			}
			return Failure
		},
		func(ctx context.Context, l *Lease) (int, error) { return 0, blocked })
	if err == nil {
		t.Fatal("expected error")
	}
	p := r.All()[0]
	if want := clock.Now().Add(time.Minute); !p.NextChecked.Equal(want) {
		t.Errorf("NextChecked = %v, want doubled cooldown %v", p.NextChecked, want)
	}
}
