// Package sweep implements the pattern-execution driver (§5): a
// single-threaded, synchronous walk over a message store's messages
// in ascending msgno order, evaluating one compiled pattern against
// each and reporting matches. Grounded on spec.md §5's concurrency
// model; there is no teacher equivalent of a standalone sweep loop,
// so its shape follows the corpus's general style for a bounded,
// interruptible batch job (spilldb/deliverer's per-item loop with an
// injected Logf and explicit early-exit checks).
package sweep

import (
	"errors"

	"github.com/siftink/siftbox/pattern"
)

// ErrInterrupted is returned when the sweep stops because
// Interrupted() reported true between messages; flags already
// mutated by an Action on prior messages are left in place, per
// spec.md §5.
var ErrInterrupted = errors.New("sweep: interrupted")

// Result holds the outcome of one message visit.
type Result struct {
	MsgNo   int
	Matched bool
}

// Action, when non-nil, runs for every message that matches, before
// the next message is visited; an error from Action stops the sweep
// immediately and is returned from Run unwrapped. Errors opening or
// evaluating a message do not stop the sweep: they are logged and that
// message is left out of the results.
type Action func(msgno int, msg *pattern.Message) error

// Sweep carries everything Run needs across one pass: the compiled
// pattern, the collaborators it evaluates against, and the interrupt
// flag polled between messages (never between sub-nodes, per §5).
type Sweep struct {
	Pattern     *pattern.Node
	Context     *pattern.EvalContext
	Interrupted pattern.Interrupted
	Action      Action
	Logf        func(format string, v ...interface{})
}

func (s *Sweep) logf(format string, v ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, v...)
	}
}

// Run visits every message in s.Context.Store, ascending by msgno,
// evaluating s.Pattern against each with a fresh per-message Cache
// (§5 (b): the cache belongs to exactly one evaluation at a time).
// It returns a Result, matched or not, for every message evaluated
// before the sweep either completed or was interrupted; ErrInterrupted
// distinguishes the two outcomes without discarding the partial results.
func (s *Sweep) Run() ([]Result, error) {
	count := s.Context.Store.Count()
	var results []Result

	for msgno := 1; msgno <= count; msgno++ {
		if s.Interrupted != nil && s.Interrupted() {
			s.logf("sweep: interrupted at msgno %d of %d", msgno, count)
			return results, ErrInterrupted
		}

		mf, err := s.Context.Store.Open(msgno, false)
		if err != nil {
			s.logf("sweep: open msgno %d: %v", msgno, err)
			continue
		}
		hdr := mf.Header()

		matched, evalErr := pattern.Eval(s.Pattern, s.Context, hdr, new(pattern.Cache))
		closeErr := mf.Close()
		if evalErr != nil {
			s.logf("sweep: eval msgno %d: %v", msgno, evalErr)
			continue
		}
		if closeErr != nil {
			s.logf("sweep: close msgno %d: %v", msgno, closeErr)
		}

		results = append(results, Result{MsgNo: msgno, Matched: matched})
		if matched && s.Action != nil {
			if err := s.Action(msgno, hdr); err != nil {
				return results, err
			}
		}
	}

	return results, nil
}
