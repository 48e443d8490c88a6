// Package fanout delivers each status event to several notifiers.
package fanout

import (
	"context"
	"errors"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// Notifier calls every target in order. A failing target does not stop
// delivery to the others.
type Notifier struct {
	targets []ports.StatusNotifier
}

// New returns a fan-out over the non-nil targets.
func New(targets ...ports.StatusNotifier) *Notifier {
	n := &Notifier{}
	for _, t := range targets {
		if t != nil {
			n.targets = append(n.targets, t)
		}
	}
	return n
}

// Len returns the number of targets.
func (n *Notifier) Len() int {
	return len(n.targets)
}

// Notify delivers the event to all targets and joins their errors.
func (n *Notifier) Notify(ctx context.Context, event domain.StatusEvent) error {
	var errs []error
	for _, t := range n.targets {
		if err := t.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ensure Notifier implements the interface.
var _ ports.StatusNotifier = (*Notifier)(nil)
