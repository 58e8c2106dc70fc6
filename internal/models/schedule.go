package models

import "time"

// Periodicity tags accepted in ScheduleConfig.
const (
	PeriodicityWeekly   = "weekly"
	PeriodicityInterval = "interval"
	PeriodicityDate     = "date"
)

// Legacy schedule_type values still present in older rows.
const (
	LegacyTypeCron = "cron"
	LegacyTypeDate = "date"
)

// ScheduleConfig is the structured recurrence description, both the wire
// shape of the admin API and the JSON persisted in the schedule_config
// column. Dates and datetimes are naive strings interpreted in the
// schedule's timezone.
type ScheduleConfig struct {
	Periodicity  string `json:"periodicity"`
	Days         []int  `json:"days,omitempty"` // ISO weekdays, 1=Mon..7=Sun
	Hour         int    `json:"hour"`
	Minute       int    `json:"minute"`
	DaysInterval int    `json:"days_interval,omitempty"`
	StartDate    string `json:"start_date,omitempty"` // 2006-01-02
	Datetime     string `json:"datetime,omitempty"`   // 2006-01-02T15:04 or with seconds
	Timezone     string `json:"timezone,omitempty"`   // overrides AdminTimezone when set
}

// Schedule is a persisted newsletter schedule. Recurrence is described
// either by Config (structured) or by the legacy ScheduleType +
// CronExpression/SpecificDate pair; both converge on the same internal
// representation after load.
type Schedule struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	UserIDs     []int64 `json:"user_ids,omitempty"` // nil = all active subscribers

	ScheduleType   string          `json:"schedule_type,omitempty"`
	CronExpression string          `json:"cron_expression,omitempty"`
	SpecificDate   *time.Time      `json:"specific_date,omitempty"`
	Config         *ScheduleConfig `json:"schedule_config,omitempty"`

	IsActive      bool       `json:"is_active"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	AdminTimezone string     `json:"admin_timezone,omitempty"`

	// NextRunTime is computed from the live job table, never persisted.
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
}
