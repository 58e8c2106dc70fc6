package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total newsletter emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed newsletter emails",
		},
	)

	ScheduleFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_fires_total",
			Help: "Total schedule occurrences that reached the send step",
		},
	)

	ScheduleSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_skips_total",
			Help: "Total occurrences skipped because the schedule was missing or inactive",
		},
	)

	CampaignsRun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_campaigns_total",
			Help: "Total newsletter campaigns executed (scheduled and manual)",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(ScheduleFires)
	prometheus.MustRegister(ScheduleSkips)
	prometheus.MustRegister(CampaignsRun)
}
