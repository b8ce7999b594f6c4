// Package events defines the typed lifecycle notifications emitted by the
// opt-in lifecycle and the retention sweeper, and the bus that delivers them.
package events

import "time"

// Kind names an event type on the wire and in metrics.
type Kind string

const (
	KindCreated   Kind = "optin.created"
	KindConfirmed Kind = "optin.confirmed"
	KindOptedOut  Kind = "optin.opted_out"
	KindDeleted   Kind = "optin.deleted"
	KindExpired   Kind = "optin.expired"
)

// Event is implemented by every lifecycle notification.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
}

// Created is emitted once when a pending record is persisted.
type Created struct {
	RecordID string    `json:"record_id"`
	FormRef  string    `json:"form_ref"`
	Email    string    `json:"email"`
	Token    string    `json:"token"`
	At       time.Time `json:"at"`
}

func (Created) Kind() Kind              { return KindCreated }
func (e Created) OccurredAt() time.Time { return e.At }

// Confirmed is emitted exactly once per record, on the first confirmation.
type Confirmed struct {
	RecordID string    `json:"record_id"`
	Token    string    `json:"token"`
	Email    string    `json:"email"`
	IP       string    `json:"ip"`
	At       time.Time `json:"at"`
}

func (Confirmed) Kind() Kind              { return KindConfirmed }
func (e Confirmed) OccurredAt() time.Time { return e.At }

// OptedOut is emitted when a confirmed record is withdrawn.
type OptedOut struct {
	RecordID string    `json:"record_id"`
	Token    string    `json:"token"`
	At       time.Time `json:"at"`
}

func (OptedOut) Kind() Kind              { return KindOptedOut }
func (e OptedOut) OccurredAt() time.Time { return e.At }

// Deletion reasons.
const (
	ReasonManual = "manual"
)

// Deleted is emitted when a single record is removed by an administrator.
type Deleted struct {
	Token  string    `json:"token"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor,omitempty"`
	At     time.Time `json:"at"`
}

func (Deleted) Kind() Kind              { return KindDeleted }
func (e Deleted) OccurredAt() time.Time { return e.At }

// Expired is the single aggregate event of a retention sweep pass that
// removed at least one record.
type Expired struct {
	Class       string    `json:"class"`
	RowsDeleted int       `json:"rows_deleted"`
	Cutoff      time.Time `json:"cutoff"`
	Forced      bool      `json:"forced,omitempty"`
	At          time.Time `json:"at"`
}

func (Expired) Kind() Kind              { return KindExpired }
func (e Expired) OccurredAt() time.Time { return e.At }
