package connection

import (
	"errors"
	"time"
)

// RetryPolicy decides how long to wait before a reconnect attempt.
// attempt is 1 for the first retry after a successful open.
type RetryPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same interval before every attempt. It is the
// default policy.
type FixedDelay time.Duration

func (d FixedDelay) Delay(int) time.Duration {
	return time.Duration(d)
}

// ExponentialBackoff doubles the delay per attempt, capped at Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

var errTimerPending = errors.New("reconnect timer already pending")

// scheduler owns the single pending reconnect timer. It is not safe for
// concurrent use; the Manager calls it with its mutex held.
type scheduler struct {
	policy RetryPolicy
	timer  *time.Timer
	seq    uint64 // identity of the armed timer
}

func newScheduler(policy RetryPolicy) *scheduler {
	return &scheduler{policy: policy}
}

// arm schedules fire(seq) after the policy delay for attempt.
func (s *scheduler) arm(attempt int, fire func(seq uint64)) (time.Duration, error) {
	if s.timer != nil {
		return 0, errTimerPending
	}
	s.seq++
	seq := s.seq
	delay := s.policy.Delay(attempt)
	s.timer = time.AfterFunc(delay, func() { fire(seq) })
	return delay, nil
}

// claim is called from a fired timer. It reports whether seq is still the
// armed timer, and clears it if so.
func (s *scheduler) claim(seq uint64) bool {
	if s.timer == nil || seq != s.seq {
		return false
	}
	s.timer = nil
	return true
}

// cancel stops the pending timer, if any. A callback already in flight is
// rejected by claim.
func (s *scheduler) cancel() bool {
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.seq++
	return true
}

func (s *scheduler) pending() bool {
	return s.timer != nil
}
