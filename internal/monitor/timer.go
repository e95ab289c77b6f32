package monitor

import (
	"math/rand"
	"sync"
	"time"
)

// slot is the single scheduler slot for the engine. Exactly one timer is
// ever armed; arming replaces any pending one, so at most one check cycle
// fires per period even across racy start/stop calls.
type slot struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	rng      *rand.Rand
}

func newSlot() *slot {
	return &slot{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// drawInterval redraws a uniform interval from [minSec,maxSec] seconds.
// Redrawn on every arm, never cached: the jitter is the point.
func (s *slot) drawInterval(minSec, maxSec int) time.Duration {
	if minSec <= 0 {
		minSec = 1
	}
	if maxSec < minSec {
		maxSec = minSec
	}
	s.mu.Lock()
	n := minSec + s.rng.Intn(maxSec-minSec+1)
	s.mu.Unlock()
	return time.Duration(n) * time.Second
}

// arm schedules fire after d, replacing any pending timer.
func (s *slot) arm(d time.Duration, fire func()) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.deadline = time.Now().Add(d)
	s.timer = time.AfterFunc(d, fire)
	return s.deadline
}

// disarm cancels the pending timer, if any. A cycle already fired keeps
// running; its own liveness re-check makes it harmless.
func (s *slot) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = time.Time{}
}

// next returns the pending deadline, or zero when disarmed.
func (s *slot) next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return time.Time{}, false
	}
	return s.deadline, true
}
