// Package types defines the shared domain model for the daymark pipeline:
// users, message records, the delivery state machine, the queue transport
// envelope, and the application error taxonomy. It has no dependencies on
// other internal packages so every layer can import it freely.
package types

import (
	"fmt"
	"time"
)

// EventType identifies the kind of calendar event a greeting celebrates.
// New event types are introduced by registering a strategy for them; no
// other component changes.
type EventType string

const (
	EventBirthday    EventType = "BIRTHDAY"
	EventAnniversary EventType = "ANNIVERSARY"
)

// MessageStatus is the durable state of a delivery intent.
//
// Transitions are monotonic:
//
//	SCHEDULED -> QUEUED           (admission or recovery, conditional update)
//	QUEUED    -> SENT             (terminal, delivery succeeded)
//	QUEUED    -> SCHEDULED        (delivery retry budget remains; re-enters admission)
//	QUEUED    -> QUEUED           (recovery re-admission of a stalled record)
//	any       -> FAILED           (terminal, retries exhausted or data error)
type MessageStatus string

const (
	StatusScheduled MessageStatus = "SCHEDULED"
	StatusQueued    MessageStatus = "QUEUED"
	StatusSent      MessageStatus = "SENT"
	StatusFailed    MessageStatus = "FAILED"
)

// Terminal reports whether no further transitions are permitted from s.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// User is the read-only projection of a user record owned by the
// user-management collaborator. Discovery only ever sees active,
// non-deleted users.
type User struct {
	ID          string
	DisplayName string
	Email       string
	Birthday    time.Time  // date component only; year is the birth year
	Anniversary *time.Time // nil when the user has no anniversary on file
	Timezone    string     // IANA zone name, e.g. "Asia/Jakarta"
}

// Events returns the calendar events this user has on file.
func (u *User) Events() []EventType {
	events := []EventType{EventBirthday}
	if u.Anniversary != nil {
		events = append(events, EventAnniversary)
	}
	return events
}

// EventDate returns the month/day anchor date for the given event type.
func (u *User) EventDate(event EventType) (time.Time, bool) {
	switch event {
	case EventBirthday:
		return u.Birthday, true
	case EventAnniversary:
		if u.Anniversary != nil {
			return *u.Anniversary, true
		}
	}
	return time.Time{}, false
}

// MessageRecord is the central delivery intent entity and the durable audit
// trail of the pipeline. Records are never deleted from the live table;
// the archival job is the only component that removes terminal records,
// and only after exporting them.
type MessageRecord struct {
	ID             string
	UserID         string
	EventType      EventType
	IdempotencyKey string
	// ScheduledAtUTC is the UTC instant equal to the configured local
	// wall-clock delivery time on the event day in the user's timezone.
	// Immutable once set; retries re-attempt delivery, never reschedule.
	ScheduledAtUTC time.Time
	Status         MessageStatus
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdempotencyKey builds the deterministic scheduling key for one logical
// event: the same user, event type, and calendar year always map to the
// same key, so repeated discovery runs cannot double-schedule.
func IdempotencyKey(userID string, event EventType, year int) string {
	return fmt.Sprintf("%s:%s:%d", userID, event, year)
}
