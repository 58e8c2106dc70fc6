package recurrence

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"eventletter/internal/models"
)

// ConfigError reports a bad or incomplete recurrence configuration. It is
// the only scheduling error surfaced to API callers; Field names the
// offending input so admin tooling can match on it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid schedule config: " + e.Reason
}

// Kind discriminates the recurrence variants.
type Kind int

const (
	KindWeekly Kind = iota
	KindInterval
	KindSingle
	// KindCron carries a legacy crontab expression. New schedules use the
	// structured variants; this exists only for rows persisted by the old
	// two-field schema.
	KindCron
)

// Config is the unified internal recurrence representation. Both the
// structured schedule_config payload and the legacy schedule_type rows
// parse into this type, so everything past the load path sees one shape.
type Config struct {
	Kind Kind

	Days         []int // KindWeekly: ISO weekdays 1=Mon..7=Sun
	Hour         int
	Minute       int
	StartDate    time.Time // KindInterval: wall-clock date in Location
	DaysInterval int
	RunAt        time.Time // KindSingle: naive wall-clock in Location
	Expr         string    // KindCron

	Location *time.Location
}

// FromSchedule derives the recurrence configuration for a persisted
// schedule, preferring the structured config over the legacy fields.
func FromSchedule(s *models.Schedule) (*Config, error) {
	if s.Config != nil {
		return fromStructured(s.Config, s.AdminTimezone)
	}
	return fromLegacy(s)
}

func fromStructured(sc *models.ScheduleConfig, adminTZ string) (*Config, error) {
	zone := sc.Timezone
	if zone == "" {
		zone = adminTZ
	}
	loc, err := LoadZone(zone)
	if err != nil {
		return nil, err
	}

	// Cross-field check before dispatching on the periodicity tag: a config
	// carrying both weekly days and an interval step is rejected no matter
	// which variant it claims to be.
	if len(sc.Days) > 0 && sc.DaysInterval > 0 {
		return nil, &ConfigError{
			Field:  "days",
			Reason: "conflicting periodicity parameters: days and days_interval are mutually exclusive",
		}
	}

	if sc.Hour < 0 || sc.Hour > 23 {
		return nil, &ConfigError{Field: "hour", Reason: fmt.Sprintf("hour %d out of range 0-23", sc.Hour)}
	}
	if sc.Minute < 0 || sc.Minute > 59 {
		return nil, &ConfigError{Field: "minute", Reason: fmt.Sprintf("minute %d out of range 0-59", sc.Minute)}
	}

	switch sc.Periodicity {
	case models.PeriodicityWeekly:
		if len(sc.Days) == 0 {
			return nil, &ConfigError{Field: "days", Reason: "missing days for weekly periodicity"}
		}
		for _, d := range sc.Days {
			if d < 1 || d > 7 {
				return nil, &ConfigError{Field: "days", Reason: fmt.Sprintf("days must be ISO weekdays 1-7, got %d", d)}
			}
		}
		return &Config{
			Kind:     KindWeekly,
			Days:     sc.Days,
			Hour:     sc.Hour,
			Minute:   sc.Minute,
			Location: loc,
		}, nil

	case models.PeriodicityInterval:
		if sc.StartDate == "" || sc.DaysInterval <= 0 {
			return nil, &ConfigError{Field: "start_date", Reason: "missing start_date or days_interval for interval periodicity"}
		}
		start, err := time.ParseInLocation("2006-01-02", sc.StartDate, loc)
		if err != nil {
			return nil, &ConfigError{Field: "start_date", Reason: fmt.Sprintf("start_date %q is not a valid date", sc.StartDate)}
		}
		return &Config{
			Kind:         KindInterval,
			Hour:         sc.Hour,
			Minute:       sc.Minute,
			StartDate:    start,
			DaysInterval: sc.DaysInterval,
			Location:     loc,
		}, nil

	case models.PeriodicityDate:
		if sc.Datetime == "" {
			return nil, &ConfigError{Field: "datetime", Reason: "missing datetime for date periodicity"}
		}
		runAt, err := parseNaive(sc.Datetime, loc)
		if err != nil {
			return nil, &ConfigError{Field: "datetime", Reason: fmt.Sprintf("datetime %q is not a valid naive datetime", sc.Datetime)}
		}
		return &Config{
			Kind:     KindSingle,
			RunAt:    runAt,
			Location: loc,
		}, nil

	default:
		return nil, &ConfigError{Field: "periodicity", Reason: fmt.Sprintf("unknown periodicity %q", sc.Periodicity)}
	}
}

// fromLegacy converts the old two-field representation. Legacy specific
// dates come out of a timestamptz column and are already absolute, so they
// are carried as UTC wall-clock rather than re-localized.
func fromLegacy(s *models.Schedule) (*Config, error) {
	switch s.ScheduleType {
	case models.LegacyTypeCron:
		if s.CronExpression == "" {
			return nil, &ConfigError{Field: "cron_expression", Reason: "missing cron_expression for cron schedule"}
		}
		if _, err := cron.ParseStandard(s.CronExpression); err != nil {
			return nil, &ConfigError{Field: "cron_expression", Reason: fmt.Sprintf("invalid cron_expression %q: %v", s.CronExpression, err)}
		}
		loc, err := LoadZone(s.AdminTimezone)
		if err != nil {
			return nil, err
		}
		return &Config{Kind: KindCron, Expr: s.CronExpression, Location: loc}, nil

	case models.LegacyTypeDate:
		if s.SpecificDate == nil {
			return nil, &ConfigError{Field: "specific_date", Reason: "missing specific_date datetime for date schedule"}
		}
		return &Config{Kind: KindSingle, RunAt: s.SpecificDate.UTC(), Location: time.UTC}, nil

	default:
		return nil, &ConfigError{Field: "periodicity", Reason: fmt.Sprintf("unknown periodicity %q", s.ScheduleType)}
	}
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseNaive(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", value)
}
