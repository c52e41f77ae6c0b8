package delivery

import (
	"context"
	"errors"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/tracker"
)

// Fanout delivers to every bridge in order. One failing bridge does not
// skip the others; the combined error is returned.
type Fanout []tracker.Bridge

func (f Fanout) Deliver(ctx context.Context, fix gps.AcceptedFix) error {
	var errs []error
	for _, b := range f {
		if err := b.Deliver(ctx, fix); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
