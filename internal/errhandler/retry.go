package errhandler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier carries the retry budget of one step: transient model retries,
// the single aggressive compression and corrective re-prompts. Create one
// per step with Handler.NewRetrier; it is not safe for concurrent use.
type Retrier struct {
	h *Handler

	fast *backoff.ExponentialBackOff
	slow *backoff.ExponentialBackOff

	retries    int
	reprompts  int
	compressed bool
}

// NewRetrier returns a fresh per-step retry budget.
func (h *Handler) NewRetrier() *Retrier {
	return &Retrier{
		h:    h,
		fast: newBackOff(h.cfg.RetryDelay, h.cfg.MaxBackoff),
		slow: newBackOff(2*h.cfg.RetryDelay, h.cfg.MaxBackoff),
	}
}

func newBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Next classifies err and applies the step's remaining budget to the
// decision.
func (r *Retrier) Next(err error) Decision {
	d := r.h.Classify(err)

	switch d.Action {
	case ActionRetry:
		r.retries++
		d.Attempt = r.retries
		if r.retries > r.h.cfg.MaxModelRetries {
			d.Action = ActionGiveUp
			break
		}
		if slowClass(err) {
			d.Delay = r.slow.NextBackOff()
		} else {
			d.Delay = r.fast.NextBackOff()
		}
		if r.h.cfg.MaxBackoff > 0 && d.Delay > r.h.cfg.MaxBackoff {
			d.Delay = r.h.cfg.MaxBackoff
		}
		r.h.metrics.Retry(string(d.Category))
	case ActionCompress:
		if r.compressed {
			d.Action = ActionGiveUp
			break
		}
		r.compressed = true
		r.h.metrics.Retry("context_length")
	case ActionReprompt:
		r.reprompts++
		d.Attempt = r.reprompts
		if r.reprompts > r.h.cfg.CorrectiveReprompts {
			d.Action = ActionRecord
		}
	}

	ev := r.h.log.Debug()
	if d.Action == ActionAbort || d.Action == ActionGiveUp {
		ev = r.h.log.Warn()
	}
	ev.Err(err).
		Str("category", string(d.Category)).
		Str("action", string(d.Action)).
		Int("attempt", d.Attempt).
		Dur("delay", d.Delay).
		Msg("Error classified")
	return d
}

// Retries is the number of transient retries consumed so far.
func (r *Retrier) Retries() int { return r.retries }
