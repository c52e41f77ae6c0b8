package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/logging"
	"github.com/relabs-tech/fixtracker/internal/permission"
)

type fakeSource struct {
	name string
	fine bool

	mu             sync.Mutex
	enabled        bool
	last           *gps.Fix
	subErr         error
	gate           chan struct{} // when set, Subscribe blocks until closed
	onSubscribe    *gps.Fix      // emitted right after subscribing
	subs           []chan gps.Fix
	subscribeCalls int
}

func newFakeSource(name string, fine, enabled bool) *fakeSource {
	return &fakeSource{name: name, fine: fine, enabled: enabled}
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Fine() bool   { return f.fine }

func (f *fakeSource) Enabled(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeSource) setEnabled(v bool) {
	f.mu.Lock()
	f.enabled = v
	f.mu.Unlock()
}

func (f *fakeSource) LastKnown(context.Context) (gps.Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return gps.Fix{}, false
	}
	return *f.last, true
}

func (f *fakeSource) Subscribe(ctx context.Context) (<-chan gps.Fix, error) {
	f.mu.Lock()
	f.subscribeCalls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	ch := make(chan gps.Fix, 16)
	f.subs = append(f.subs, ch)
	if f.onSubscribe != nil {
		ch <- *f.onSubscribe
	}
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.remove(ch) {
			close(ch)
		}
	}()
	return ch, nil
}

// remove must be called with mu held.
func (f *fakeSource) remove(ch chan gps.Fix) bool {
	for i, c := range f.subs {
		if c == ch {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeSource) emit(fix gps.Fix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- fix
	}
}

// endStreams closes every open stream as if the source went away.
func (f *fakeSource) endStreams() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}

func (f *fakeSource) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

type fakePerms struct {
	set atomic.Uint32
}

func newFakePerms(s permission.Set) *fakePerms {
	p := &fakePerms{}
	p.set.Store(uint32(s))
	return p
}

func (p *fakePerms) Granted(context.Context) permission.Set {
	return permission.Set(p.set.Load())
}

func (p *fakePerms) revoke() { p.set.Store(0) }

type fakeIndicator struct {
	mu       sync.Mutex
	err      error
	held     map[string]bool
	acquired int
	released int
	title    string
}

func newFakeIndicator() *fakeIndicator {
	return &fakeIndicator{held: make(map[string]bool)}
}

func (i *fakeIndicator) Acquire(_ context.Context, id, title, _ string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.acquired++
	i.held[id] = true
	i.title = title
	return nil
}

func (i *fakeIndicator) Release(_ context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.released++
	delete(i.held, id)
	return nil
}

func (i *fakeIndicator) heldCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.held)
}

func (i *fakeIndicator) counts() (int, int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.acquired, i.released
}

type fakeBridge struct {
	got   chan gps.AcceptedFix
	block chan struct{}
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{got: make(chan gps.AcceptedFix, 64)}
}

func (b *fakeBridge) Deliver(ctx context.Context, f gps.AcceptedFix) error {
	b.got <- f
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *fakeBridge) next(t *testing.T) gps.AcceptedFix {
	t.Helper()
	select {
	case f := <-b.got:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return gps.AcceptedFix{}
}

func (b *fakeBridge) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case f := <-b.got:
		t.Fatalf("unexpected delivery: %+v", f)
	case <-time.After(wait):
	}
}

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire runs the callback regardless of Stop, like a timer that already
// triggered before Stop could win.
func (t *fakeTimer) fire() {
	t.mu.Lock()
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

type fakeTicker struct {
	d       time.Duration
	c       chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{d: d, c: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// hasTicker reports whether a live ticker with period d exists.
func (c *fakeClock) hasTicker(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if t.d == d && !t.stopped.Load() {
			return true
		}
	}
	return false
}

// tick delivers one tick to every live ticker with period d and blocks
// until each has been received.
func (c *fakeClock) tick(t *testing.T, d time.Duration) {
	t.Helper()
	waitFor(t, fmt.Sprintf("ticker %s", d), func() bool { return c.hasTicker(d) })
	c.mu.Lock()
	var live []*fakeTicker
	for _, tk := range c.tickers {
		if tk.d == d && !tk.stopped.Load() {
			live = append(live, tk)
		}
	}
	now := c.now
	c.mu.Unlock()
	for _, tk := range live {
		select {
		case tk.c <- now:
		case <-time.After(2 * time.Second):
			t.Fatalf("ticker %s not drained", d)
		}
	}
}

func (c *fakeClock) lastTimer() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fixAt(source string, ms int64, lat, lon float64) gps.Fix {
	return gps.Fix{Latitude: lat, Longitude: lon, Accuracy: gps.AccuracyUnknown, Source: source, Time: ms}
}

type harness struct {
	clock     *fakeClock
	gps       *fakeSource
	network   *fakeSource
	perms     *fakePerms
	indicator *fakeIndicator
	bridge    *fakeBridge
	deps      Deps
}

func newHarness() *harness {
	h := &harness{
		clock:     newFakeClock(time.UnixMilli(0)),
		gps:       newFakeSource(gps.SourceGPS, true, true),
		network:   newFakeSource(gps.SourceNetwork, false, true),
		perms:     newFakePerms(permission.Fine | permission.Background),
		indicator: newFakeIndicator(),
		bridge:    newFakeBridge(),
	}
	h.deps = Deps{
		Sources:     []Source{h.gps, h.network},
		Permissions: h.perms,
		Indicator:   h.indicator,
		Bridge:      h.bridge,
		Clock:       h.clock,
		Logger:      logging.Nop(),
	}
	return h
}
