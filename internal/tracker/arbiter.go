package tracker

import (
	"github.com/relabs-tech/fixtracker/internal/gps"
)

// sourceRank orders well-known sources for tie-breaking. The primary
// high-accuracy source wins.
var sourceRank = map[string]int{
	gps.SourceGPS:     0,
	gps.SourceNetwork: 1,
	gps.SourceMock:    2,
}

func rank(source string) int {
	if r, ok := sourceRank[source]; ok {
		return r
	}
	return len(sourceRank)
}

// PickBest returns the most recent fix among candidates. Equal timestamps
// are resolved by source priority, then by a fixed field order so the
// result does not depend on input order. It never mutates its input.
func PickBest(candidates []gps.Fix) (gps.Fix, bool) {
	if len(candidates) == 0 {
		return gps.Fix{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if preferred(c, best) {
			best = c
		}
	}
	return best, true
}

// preferred reports whether a strictly ranks above b.
func preferred(a, b gps.Fix) bool {
	if a.Time != b.Time {
		return a.Time > b.Time
	}
	if ra, rb := rank(a.Source), rank(b.Source); ra != rb {
		return ra < rb
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.HasAccuracy() != b.HasAccuracy() {
		return a.HasAccuracy()
	}
	if a.Accuracy != b.Accuracy {
		return a.Accuracy < b.Accuracy
	}
	if a.Latitude != b.Latitude {
		return a.Latitude < b.Latitude
	}
	return a.Longitude < b.Longitude
}
