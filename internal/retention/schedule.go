package retention

import (
	"fmt"
	"sync"
	"time"
)

// DailyPeriod is the spacing between runs after the first one.
const DailyPeriod = 24 * time.Hour

// DailySchedule fires first at the next occurrence of Hour:Minute in
// Location and then every Period after that first activation. Later runs
// are measured from the anchor, not re-aligned to the wall clock, so they
// may drift across DST changes.
//
// It satisfies both cron.Schedule and river.PeriodicSchedule.
type DailySchedule struct {
	Hour     int
	Minute   int
	Location *time.Location
	Period   time.Duration

	mu     sync.Mutex
	anchor time.Time
}

// NewDailySchedule parses an "HH:MM" wall-clock time.
func NewDailySchedule(at string, loc *time.Location) (*DailySchedule, error) {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("parse run time %q: %w", at, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &DailySchedule{
		Hour:     parsed.Hour(),
		Minute:   parsed.Minute(),
		Location: loc,
		Period:   DailyPeriod,
	}, nil
}

// FirstAfter returns the next wall-clock alignment strictly after t.
func (s *DailySchedule) FirstAfter(t time.Time) time.Time {
	local := t.In(s.location())
	candidate := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.location())
	if !candidate.After(local) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+1, s.Hour, s.Minute, 0, 0, s.location())
	}
	return candidate
}

// Next returns the first activation strictly after t. The first call fixes
// the anchor.
func (s *DailySchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.anchor.IsZero() {
		s.anchor = s.FirstAfter(t)
		return s.anchor
	}
	if t.Before(s.anchor) {
		return s.anchor
	}

	period := s.period()
	steps := t.Sub(s.anchor)/period + 1
	return s.anchor.Add(steps * period)
}

// Anchor returns the first activation, or the zero time before Next is called.
func (s *DailySchedule) Anchor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}

func (s *DailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", s.Hour, s.Minute, s.location())
}

func (s *DailySchedule) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

func (s *DailySchedule) period() time.Duration {
	if s.Period <= 0 {
		return DailyPeriod
	}
	return s.Period
}
