package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/permission"
)

var epoch = time.UnixMilli(1_765_024_519_000)

func newTestLocator(h *harness, clock *fakeClock) *Locator {
	h.deps.Clock = clock
	return NewLocator(h.deps, LocatorConfig{Timeout: 15 * time.Second, FreshnessWindow: 2 * time.Minute})
}

func locateAsync(l *Locator, ctx context.Context) <-chan raceOutcome {
	out := make(chan raceOutcome, 1)
	go func() {
		f, err := l.Locate(ctx, 0)
		out <- raceOutcome{fix: f, err: err}
	}()
	return out
}

func await(t *testing.T, c <-chan raceOutcome) raceOutcome {
	t.Helper()
	select {
	case o := <-c:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("Locate did not return")
	}
	return raceOutcome{}
}

func TestLocateAnswersFromFreshLastKnown(t *testing.T) {
	h := newHarness()
	clock := newFakeClock(epoch)
	recent := fixAt(gps.SourceNetwork, epoch.Add(-30*time.Second).UnixMilli(), 4, 5)
	h.network.last = &recent
	l := newTestLocator(h, clock)

	got, err := l.Locate(context.Background(), 0)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != recent {
		t.Fatalf("got %+v, want last known fix", got)
	}
	if h.gps.calls()+h.network.calls() != 0 {
		t.Fatal("fresh cache still triggered a live request")
	}
}

func TestLocateStaleLastKnownGoesLive(t *testing.T) {
	h := newHarness()
	clock := newFakeClock(epoch)
	stale := fixAt(gps.SourceGPS, epoch.Add(-5*time.Minute).UnixMilli(), 4, 5)
	h.gps.last = &stale
	live := fixAt(gps.SourceGPS, epoch.UnixMilli(), 6, 7)
	h.gps.onSubscribe = &live
	l := newTestLocator(h, clock)

	got, err := l.Locate(context.Background(), 0)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != live {
		t.Fatalf("got %+v, want live fix", got)
	}
}

func TestLocateFixJustBeforeTimeout(t *testing.T) {
	h := newHarness()
	clock := newFakeClock(epoch)
	l := newTestLocator(h, clock)

	out := locateAsync(l, context.Background())
	waitFor(t, "live subscription", func() bool { return h.gps.active() == 1 && clock.lastTimer() != nil })

	live := fixAt(gps.SourceGPS, epoch.UnixMilli(), 1, 2)
	h.gps.emit(live)
	o := await(t, out)
	if o.err != nil || o.fix != live {
		t.Fatalf("got %+v / %v, want live fix", o.fix, o.err)
	}

	timer := clock.lastTimer()
	waitFor(t, "timer stop", timer.isStopped)
	// the deadline arriving late must not produce a second resolution
	timer.fire()
	select {
	case extra := <-out:
		t.Fatalf("second resolution: %+v", extra)
	case <-time.After(30 * time.Millisecond):
	}
	waitFor(t, "unsubscribe", func() bool { return h.gps.active() == 0 })
}

func TestLocateTimeout(t *testing.T) {
	h := newHarness()
	clock := newFakeClock(epoch)
	l := newTestLocator(h, clock)

	out := locateAsync(l, context.Background())
	waitFor(t, "timer", func() bool { return clock.lastTimer() != nil })
	clock.lastTimer().fire()

	o := await(t, out)
	if !errors.Is(o.err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", o.err)
	}
	waitFor(t, "unsubscribe", func() bool { return h.gps.active() == 0 })

	// a fix after the timeout goes nowhere
	h.gps.emit(fixAt(gps.SourceGPS, 1, 1, 1))
}

func TestLocatePrefersFineSource(t *testing.T) {
	h := newHarness()
	h.deps.Sources = []Source{h.network, h.gps}
	live := fixAt(gps.SourceGPS, epoch.UnixMilli(), 1, 1)
	h.gps.onSubscribe = &live
	l := newTestLocator(h, newFakeClock(epoch))

	if _, err := l.Locate(context.Background(), 0); err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if h.network.calls() != 0 || h.gps.calls() != 1 {
		t.Fatalf("subscribe calls gps=%d network=%d", h.gps.calls(), h.network.calls())
	}
}

func TestLocateUsesAnyEnabledSource(t *testing.T) {
	h := newHarness()
	h.gps.setEnabled(false)
	live := fixAt(gps.SourceNetwork, epoch.UnixMilli(), 1, 1)
	h.network.onSubscribe = &live
	l := newTestLocator(h, newFakeClock(epoch))

	got, err := l.Locate(context.Background(), 0)
	if err != nil || got != live {
		t.Fatalf("got %+v / %v", got, err)
	}
}

func TestLocateFallsBackToDisabledGPS(t *testing.T) {
	h := newHarness()
	h.gps.setEnabled(false)
	h.network.setEnabled(false)
	live := fixAt(gps.SourceGPS, epoch.UnixMilli(), 1, 1)
	h.gps.onSubscribe = &live
	l := newTestLocator(h, newFakeClock(epoch))

	got, err := l.Locate(context.Background(), 0)
	if err != nil || got != live {
		t.Fatalf("got %+v / %v", got, err)
	}
}

func TestLocateNoProvider(t *testing.T) {
	h := newHarness()
	h.network.setEnabled(false)
	h.deps.Sources = []Source{h.network}
	l := newTestLocator(h, newFakeClock(epoch))

	if _, err := l.Locate(context.Background(), 0); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestLocatePermissionDenied(t *testing.T) {
	h := newHarness()
	h.deps.Permissions = newFakePerms(permission.Fine)
	recent := fixAt(gps.SourceGPS, epoch.UnixMilli(), 1, 1)
	h.gps.last = &recent
	l := newTestLocator(h, newFakeClock(epoch))

	if _, err := l.Locate(context.Background(), 0); !errors.Is(err, ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}
}

func TestLocateSubscriptionFailure(t *testing.T) {
	h := newHarness()
	h.gps.subErr = errors.New("no device")
	l := newTestLocator(h, newFakeClock(epoch))

	_, err := l.Locate(context.Background(), 0)
	var subErr *SubscriptionError
	if !errors.As(err, &subErr) || subErr.Source != gps.SourceGPS {
		t.Fatalf("err = %v, want SubscriptionError for gps", err)
	}
	if !errors.Is(err, ErrSubscription) {
		t.Fatal("SubscriptionError does not match ErrSubscription")
	}
}

func TestLocateCallerCancel(t *testing.T) {
	h := newHarness()
	clock := newFakeClock(epoch)
	l := newTestLocator(h, clock)
	ctx, cancel := context.WithCancel(context.Background())

	out := locateAsync(l, ctx)
	waitFor(t, "timer", func() bool { return clock.lastTimer() != nil })
	cancel()

	o := await(t, out)
	if !errors.Is(o.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", o.err)
	}
	if !clock.lastTimer().isStopped() {
		t.Fatal("timer left running after cancel")
	}
}

func TestRaceResolvesOnce(t *testing.T) {
	r := newRace()
	first := raceOutcome{fix: fixAt("a", 1, 1, 1)}
	if !r.resolve(first) {
		t.Fatal("first resolve lost")
	}
	if r.resolve(raceOutcome{err: ErrTimeout}) {
		t.Fatal("second resolve won")
	}
	if got := <-r.result; got.fix != first.fix || got.err != nil {
		t.Fatalf("result = %+v", got)
	}
	select {
	case extra := <-r.result:
		t.Fatalf("extra result %+v", extra)
	default:
	}
}
