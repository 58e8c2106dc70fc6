package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// LoadZone resolves an IANA timezone name. The literal "UTC" (or an empty
// name) short-circuits to time.UTC so naive UTC inputs pass through
// untouched.
func LoadZone(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &ConfigError{Field: "timezone", Reason: fmt.Sprintf("unknown timezone %q", name)}
	}
	return loc, nil
}

// Normalize maps a naive wall-clock time plus a zone name to an absolute
// UTC instant. Ambiguous or skipped local times around DST transitions
// resolve per the zone database (time.Date semantics).
func Normalize(t time.Time, zone string) (time.Time, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), loc).UTC(), nil
}

// Trigger converts a validated Config into the cron.Schedule installed in
// the job table. Weekly and legacy-cron variants compile to cron specs
// evaluated in the schedule's zone; interval and one-shot variants are
// custom schedules because crontab syntax cannot express them.
func (c *Config) Trigger() (cron.Schedule, error) {
	switch c.Kind {
	case KindWeekly:
		return cron.ParseStandard(c.weeklySpec())
	case KindCron:
		return cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", c.Location.String(), c.Expr))
	case KindInterval:
		return &intervalSchedule{
			startDate: c.StartDate,
			every:     c.DaysInterval,
			hour:      c.Hour,
			minute:    c.Minute,
			loc:       c.Location,
		}, nil
	case KindSingle:
		y, mo, d := c.RunAt.Date()
		h, mi, s := c.RunAt.Clock()
		return &oneShotSchedule{at: time.Date(y, mo, d, h, mi, s, 0, c.Location).UTC()}, nil
	default:
		return nil, &ConfigError{Field: "periodicity", Reason: fmt.Sprintf("unknown periodicity kind %d", c.Kind)}
	}
}

func (c *Config) weeklySpec() string {
	dows := make([]int, 0, len(c.Days))
	for _, d := range c.Days {
		dows = append(dows, d%7) // ISO 7=Sunday maps to cron 0
	}
	sort.Ints(dows)
	parts := make([]string, len(dows))
	for i, d := range dows {
		parts[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s",
		c.Location.String(), c.Minute, c.Hour, strings.Join(parts, ","))
}

// intervalSchedule fires every N days at hour:minute, starting on
// startDate, with day arithmetic done in the schedule's zone so a DST
// shift does not drift the wall-clock firing time.
type intervalSchedule struct {
	startDate time.Time
	every     int
	hour      int
	minute    int
	loc       *time.Location
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	y, mo, d := s.startDate.In(s.loc).Date()
	first := time.Date(y, mo, d, s.hour, s.minute, 0, 0, s.loc)
	if t.Before(first) {
		return first
	}
	// Jump near the answer, then step; the loop only runs extra turns when
	// a DST transition moves an occurrence across t.
	steps := int(t.Sub(first) / (time.Duration(s.every) * 24 * time.Hour))
	for {
		cand := time.Date(y, mo, d+steps*s.every, s.hour, s.minute, 0, 0, s.loc)
		if cand.After(t) {
			return cand
		}
		steps++
	}
}

// oneShotSchedule fires once. After the instant passes, Next returns the
// zero time and the cron runner never considers the entry again, which is
// how a one-shot job naturally exhausts.
type oneShotSchedule struct {
	at time.Time
}

func (s *oneShotSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}
