// Package provider contains the location sources a tracker subscribes to:
// an NMEA receiver on a serial port, network fixes published over MQTT and
// a simulated track.
package provider

import (
	"context"
	"sync"

	"github.com/relabs-tech/fixtracker/internal/gps"
)

// subscriberBuffer is how many fixes a slow subscriber may lag behind
// before new fixes are dropped for it.
const subscriberBuffer = 8

// feed fans one stream of fixes out to any number of subscribers and keeps
// the last one published. Sources embed it to get Subscribe and LastKnown.
type feed struct {
	mu   sync.Mutex
	subs map[chan gps.Fix]struct{}
	last *gps.Fix
}

func newFeed() *feed {
	return &feed{subs: make(map[chan gps.Fix]struct{})}
}

// Subscribe returns a stream of fixes published after the call. The stream
// closes when ctx is cancelled or the source ends all streams.
func (f *feed) Subscribe(ctx context.Context) (<-chan gps.Fix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan gps.Fix, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.drop(ch)
	}()
	return ch, nil
}

// LastKnown returns the most recent fix ever published.
func (f *feed) LastKnown(context.Context) (gps.Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return gps.Fix{}, false
	}
	return *f.last, true
}

func (f *feed) drop(ch chan gps.Fix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

// publish records fix as last known and offers it to every subscriber
// without blocking. It returns how many subscribers received it.
func (f *feed) publish(fix gps.Fix) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := fix
	f.last = &last
	n := 0
	for ch := range f.subs {
		select {
		case ch <- fix:
			n++
		default:
		}
	}
	return n
}

// endAll closes every open stream, e.g. when the device went away.
func (f *feed) endAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *feed) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
