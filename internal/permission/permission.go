// Package permission models the location permissions a host can grant.
package permission

import (
	"fmt"
	"strings"
)

// Set is a bitmask of granted permissions.
type Set uint8

const (
	Fine Set = 1 << iota
	Coarse
	Background
)

// None grants nothing.
const None Set = 0

var names = []struct {
	bit  Set
	name string
}{
	{Fine, "fine"},
	{Coarse, "coarse"},
	{Background, "background"},
}

// Has reports whether every bit in p is granted.
func (s Set) Has(p Set) bool {
	return s&p == p
}

// AllowsTracking reports whether background tracking may run:
// fine or coarse location, plus background access.
func (s Set) AllowsTracking() bool {
	return s&(Fine|Coarse) != 0 && s.Has(Background)
}

func (s Set) String() string {
	var parts []string
	for _, n := range names {
		if s.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Parse reads a comma separated list such as "fine,background".
// "none" and the empty string yield None.
func Parse(s string) (Set, error) {
	var out Set
	for _, raw := range strings.Split(s, ",") {
		p := strings.ToLower(strings.TrimSpace(raw))
		if p == "" || p == "none" {
			continue
		}
		found := false
		for _, n := range names {
			if n.name == p {
				out |= n.bit
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown permission %q", raw)
		}
	}
	return out, nil
}
