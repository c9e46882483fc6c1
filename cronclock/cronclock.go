// Package cronclock turns five-field cron expressions into billing schedules.
//
// Schedules are evaluated in UTC only. Next is pure and deterministic: the
// same schedule and reference instant always yield the same fire time, and
// the result is always strictly after the reference.
package cronclock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidExpression is wrapped by every validation failure.
var ErrInvalidExpression = errors.New("cronclock: invalid cron expression")

// parser accepts the classic five fields plus the @yearly..@hourly descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// probe is the fixed reference used to reject schedules that never fire.
var probe = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// searchWindows bounds how many robfig five-year windows Next will scan.
// Four windows cover the 8-year gap between leap days around 2100.
const searchWindows = 4

// Schedule is a validated cron schedule.
type Schedule struct {
	expr string
	spec *cron.SpecSchedule
}

// Validate parses expr and returns a schedule guaranteed to fire.
func Validate(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: time zone prefixes are not supported, schedules run in UTC", ErrInvalidExpression)
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, fmt.Errorf("%w: @every intervals are not calendar schedules", ErrInvalidExpression)
	}

	parsed, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w: %q: unsupported schedule type %T", ErrInvalidExpression, expr, parsed)
	}
	spec.Location = time.UTC

	s := &Schedule{expr: expr, spec: spec}
	if s.Next(probe).IsZero() {
		return nil, fmt.Errorf("%w: %q never fires", ErrInvalidExpression, expr)
	}
	return s, nil
}

// MustValidate is like Validate but panics on error. Use for hardcoded schedules.
func MustValidate(expr string) *Schedule {
	s, err := Validate(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source expression.
func (s *Schedule) String() string { return s.expr }

// Next returns the smallest instant strictly after the reference that matches
// the schedule, in UTC. It returns the zero time only for schedules that
// Validate would reject.
func (s *Schedule) Next(after time.Time) time.Time {
	from := after.UTC()
	for range searchWindows {
		if next := s.spec.Next(from); !next.IsZero() {
			return next.UTC()
		}
		// robfig gives up after five calendar years; resume at the end of the
		// last year it scanned.
		from = time.Date(from.Year()+5, time.December, 31, 23, 59, 59, 0, time.UTC)
	}
	return time.Time{}
}

// NextFireTime is the free-function form of Schedule.Next.
func NextFireTime(s *Schedule, after time.Time) time.Time {
	return s.Next(after)
}

// NextAfter validates expr and returns its next fire time after the reference.
func NextAfter(expr string, after time.Time) (time.Time, error) {
	s, err := Validate(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after), nil
}
