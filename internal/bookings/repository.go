// Package bookings is the read-side view of the appointment record store.
// The engine only reads here: starts for slot exclusion and upcoming
// appointments for patient verification. All writes go through the external
// executor service.
package bookings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ActiveStatuses are the appointment states that block a slot.
var ActiveStatuses = []string{"pending", "scheduled", "confirmed"}

// Appointment is a read-only projection of an appointment record.
type Appointment struct {
	ID           string
	ClinicSlug   string
	PatientName  string
	PatientEmail string
	PatientPhone string
	Service      string
	Status       string
	StartTime    time.Time
	EndTime      time.Time
}

// Querier is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads appointment records scoped by clinic.
type Repository struct {
	db Querier
}

// NewRepository creates a repository backed by a pgx pool (or mock).
func NewRepository(db Querier) *Repository {
	if db == nil {
		panic("bookings: querier required")
	}
	return &Repository{db: db}
}

// ActiveStartTimes returns start times of active appointments for the
// clinic within [from, to). Used only to exclude overlapping slots.
func (r *Repository) ActiveStartTimes(ctx context.Context, clinicSlug string, from, to time.Time) ([]time.Time, error) {
	rows, err := r.db.Query(ctx,
		`SELECT start_time FROM appointments
		 WHERE clinic_slug = $1
		   AND status = ANY($2)
		   AND start_time >= $3 AND start_time < $4
		 ORDER BY start_time`,
		clinicSlug, ActiveStatuses, from, to)
	if err != nil {
		return nil, fmt.Errorf("bookings: list start times: %w", err)
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("bookings: scan start time: %w", err)
		}
		starts = append(starts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate start times: %w", err)
	}
	return starts, nil
}

// UpcomingForEmail returns the patient's future active appointments at the
// clinic, earliest first. An empty slice means verification failed.
func (r *Repository) UpcomingForEmail(ctx context.Context, clinicSlug, email string, now time.Time) ([]Appointment, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, clinic_slug, patient_name, patient_email, COALESCE(patient_phone, ''),
		        COALESCE(service, ''), status, start_time, end_time
		 FROM appointments
		 WHERE clinic_slug = $1
		   AND lower(patient_email) = $2
		   AND status = ANY($3)
		   AND start_time > $4
		 ORDER BY start_time`,
		clinicSlug, email, ActiveStatuses, now)
	if err != nil {
		return nil, fmt.Errorf("bookings: upcoming for email: %w", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.ClinicSlug, &a.PatientName, &a.PatientEmail,
			&a.PatientPhone, &a.Service, &a.Status, &a.StartTime, &a.EndTime); err != nil {
			return nil, fmt.Errorf("bookings: scan appointment: %w", err)
		}
		appts = append(appts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate appointments: %w", err)
	}
	return appts, nil
}

// PatientNameForEmail returns the most recent patient name recorded for an
// email at the clinic, for greeting returning patients. Empty when unknown.
func (r *Repository) PatientNameForEmail(ctx context.Context, clinicSlug, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT patient_name FROM appointments
		 WHERE clinic_slug = $1 AND lower(patient_email) = $2
		 ORDER BY start_time DESC
		 LIMIT 1`,
		clinicSlug, email)
	if err != nil {
		return "", fmt.Errorf("bookings: name for email: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("bookings: scan name: %w", err)
		}
		return name, nil
	}
	return "", rows.Err()
}
