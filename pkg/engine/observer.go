package engine

import (
	"time"

	"github.com/venkytv/calendar-alarms/pkg/errs"
)

// Observer receives engine activity for instrumentation.
type Observer interface {
	MutationApplied(op string)
	MutationRejected(op string, code errs.Code)
	QueryServed(triggers int, elapsed time.Duration)
	ExpansionCache(hit bool)
}

type nopObserver struct{}

func (nopObserver) MutationApplied(string) {}
func (nopObserver) MutationRejected(string, errs.Code) {}
func (nopObserver) QueryServed(int, time.Duration) {}
func (nopObserver) ExpansionCache(bool) {}

func (e *Engine) record(op string, err error) {
	if err != nil {
		code := errs.CodeOf(err)
		e.observer.MutationRejected(op, code)
		e.logger.Debug("Operation rejected", "op", op, "code", code, "error", err)
		return
	}
	e.observer.MutationApplied(op)
}
