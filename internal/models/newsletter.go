package models

import "time"

// Subscriber is a newsletter recipient.
type Subscriber struct {
	ID           int64    `json:"id"`
	Email        string   `json:"email"`
	IsSubscribed bool     `json:"is_subscribed"`
	Categories   []string `json:"categories,omitempty"`
	City         string   `json:"city,omitempty"`
}

// Event is an announced event matched against subscriber categories.
type Event struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Dates     []string  `json:"dates,omitempty"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// CampaignResult aggregates one newsletter occurrence. Failed counts
// recipients whose send could not be completed; recipients with no
// matching events are skipped and counted as sent.
type CampaignResult struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// RunLog is one append-only row per completed newsletter occurrence.
type RunLog struct {
	ID              int64     `json:"id"`
	ScheduleID      *int64    `json:"schedule_id,omitempty"` // nil for manual campaigns
	SentAt          time.Time `json:"sent_at"`
	TotalUsers      int       `json:"total_users"`
	SuccessfulSends int       `json:"successful_sends"`
	FailedSends     int       `json:"failed_sends"`
	DurationSeconds float64   `json:"duration_seconds"`
}
