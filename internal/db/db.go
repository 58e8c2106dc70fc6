package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventletter/internal/models"
)

// Store wraps the Postgres pool. The pool is safe for concurrent use, so
// the API handlers and the scheduler runtime share one Store; every method
// is a single short-lived query.
type Store struct {
	Pool *pgxpool.Pool
}

func New(conn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), conn)
	if err != nil {
		return nil, err
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// ----------------------------
// Schedules
// ----------------------------

const scheduleColumns = `id, name, description, user_ids, schedule_type,
	cron_expression, specific_date, schedule_config, is_active, last_run,
	created_at, admin_timezone`

func (s *Store) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	userIDs, configJSON, err := marshalScheduleJSON(sched)
	if err != nil {
		return err
	}

	return s.Pool.QueryRow(ctx,
		`INSERT INTO newsletter_schedules
		 (name, description, user_ids, schedule_type, cron_expression,
		  specific_date, schedule_config, is_active, admin_timezone, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		 RETURNING id, created_at`,
		sched.Name,
		sched.Description,
		userIDs,
		sched.ScheduleType,
		sched.CronExpression,
		sched.SpecificDate,
		configJSON,
		sched.IsActive,
		sched.AdminTimezone,
	).Scan(&sched.ID, &sched.CreatedAt)
}

func (s *Store) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	userIDs, configJSON, err := marshalScheduleJSON(sched)
	if err != nil {
		return err
	}

	_, err = s.Pool.Exec(ctx,
		`UPDATE newsletter_schedules
		 SET name=$1,
		     description=$2,
		     user_ids=$3,
		     schedule_type=$4,
		     cron_expression=$5,
		     specific_date=$6,
		     schedule_config=$7,
		     is_active=$8,
		     admin_timezone=$9
		 WHERE id=$10`,
		sched.Name,
		sched.Description,
		userIDs,
		sched.ScheduleType,
		sched.CronExpression,
		sched.SpecificDate,
		configJSON,
		sched.IsActive,
		sched.AdminTimezone,
		sched.ID,
	)

	return err
}

func (s *Store) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM newsletter_schedules WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+`
		 FROM newsletter_schedules WHERE id=$1`, id)

	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sched, err
}

func (s *Store) ListSchedules(ctx context.Context, limit, offset int) ([]models.Schedule, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM newsletter_schedules ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func (s *Store) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM newsletter_schedules WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func (s *Store) MarkLastRun(ctx context.Context, id int64, at time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE newsletter_schedules SET last_run=$1 WHERE id=$2`,
		at, id)
	return err
}

func marshalScheduleJSON(sched *models.Schedule) ([]byte, []byte, error) {
	var userIDs, configJSON []byte
	var err error

	if sched.UserIDs != nil {
		if userIDs, err = json.Marshal(sched.UserIDs); err != nil {
			return nil, nil, fmt.Errorf("marshal user_ids: %w", err)
		}
	}
	if sched.Config != nil {
		if configJSON, err = json.Marshal(sched.Config); err != nil {
			return nil, nil, fmt.Errorf("marshal schedule_config: %w", err)
		}
	}
	return userIDs, configJSON, nil
}

func scanSchedule(row pgx.Row) (*models.Schedule, error) {
	var sched models.Schedule
	var userIDs, configJSON []byte

	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&sched.Description,
		&userIDs,
		&sched.ScheduleType,
		&sched.CronExpression,
		&sched.SpecificDate,
		&configJSON,
		&sched.IsActive,
		&sched.LastRun,
		&sched.CreatedAt,
		&sched.AdminTimezone,
	)
	if err != nil {
		return nil, err
	}

	if len(userIDs) > 0 {
		if err := json.Unmarshal(userIDs, &sched.UserIDs); err != nil {
			return nil, fmt.Errorf("unmarshal user_ids for schedule %d: %w", sched.ID, err)
		}
	}
	if len(configJSON) > 0 {
		sched.Config = &models.ScheduleConfig{}
		if err := json.Unmarshal(configJSON, sched.Config); err != nil {
			return nil, fmt.Errorf("unmarshal schedule_config for schedule %d: %w", sched.ID, err)
		}
	}
	return &sched, nil
}

func collectSchedules(rows pgx.Rows) ([]models.Schedule, error) {
	var schedules []models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// ----------------------------
// Run logs
// ----------------------------

func (s *Store) AppendRunLog(ctx context.Context, entry *models.RunLog) error {
	return s.Pool.QueryRow(ctx,
		`INSERT INTO newsletter_logs
		 (schedule_id, sent_at, total_users, successful_sends, failed_sends, duration_seconds)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING id`,
		entry.ScheduleID,
		entry.SentAt,
		entry.TotalUsers,
		entry.SuccessfulSends,
		entry.FailedSends,
		entry.DurationSeconds,
	).Scan(&entry.ID)
}

func (s *Store) ListRunLogs(ctx context.Context, limit int) ([]models.RunLog, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, schedule_id, sent_at, total_users, successful_sends,
		        failed_sends, duration_seconds
		 FROM newsletter_logs ORDER BY sent_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var entry models.RunLog
		if err := rows.Scan(
			&entry.ID,
			&entry.ScheduleID,
			&entry.SentAt,
			&entry.TotalUsers,
			&entry.SuccessfulSends,
			&entry.FailedSends,
			&entry.DurationSeconds,
		); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// ----------------------------
// Subscribers / events
// ----------------------------

const subscriberColumns = `id, email, is_subscribed, categories, city`

func (s *Store) ListActiveSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers WHERE is_subscribed ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscribers(rows)
}

func (s *Store) GetActiveSubscribersByIDs(ctx context.Context, ids []int64) ([]models.Subscriber, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers WHERE is_subscribed AND id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscribers(rows)
}

func collectSubscribers(rows pgx.Rows) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		var categories []byte
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.IsSubscribed, &categories, &sub.City); err != nil {
			return nil, err
		}
		if len(categories) > 0 {
			if err := json.Unmarshal(categories, &sub.Categories); err != nil {
				return nil, fmt.Errorf("unmarshal categories for subscriber %d: %w", sub.ID, err)
			}
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// EventsForCategories returns events whose category matches at least one
// of the given categories, newest first.
func (s *Store) EventsForCategories(ctx context.Context, categories []string) ([]models.Event, error) {
	if len(categories) == 0 {
		return nil, nil
	}

	patterns := make([]string, len(categories))
	for i, c := range categories {
		patterns[i] = "%" + c + "%"
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT id, title, category, dates, url, created_at
		 FROM events
		 WHERE category ILIKE ANY($1)
		 ORDER BY created_at DESC`, patterns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var dates []byte
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Category, &dates, &ev.URL, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(dates) > 0 {
			if err := json.Unmarshal(dates, &ev.Dates); err != nil {
				return nil, fmt.Errorf("unmarshal dates for event %d: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
