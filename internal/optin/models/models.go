package models

import (
	"time"

	dErrors "optin/pkg/domain-errors"
)

// Status is the stored lifecycle state of an opt-in record.
// Expired and deleted are not states: expiry is computed from CreatedAt and
// deletion removes the record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusOptedOut  Status = "opted_out"
)

// ParseStatus constructs a Status from external input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid status")
	}
	return st, nil
}

// IsValid checks if the status is one of the stored states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusOptedOut:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Ptr is a convenience for optional status arguments.
func (s Status) Ptr() *Status { return &s }

// OptInRecord is the unit of double opt-in state.
type OptInRecord struct {
	ID              string     `json:"id"`
	Token           string     `json:"token"`
	FormRef         string     `json:"form_ref"`
	Status          Status     `json:"status"`
	Email           string     `json:"email"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	OptedOutAt      *time.Time `json:"opted_out_at,omitempty"`
	IPAtCreate      string     `json:"ip_at_create"`
	IPAtConfirm     string     `json:"ip_at_confirm,omitempty"`
	IPAtOptOut      string     `json:"ip_at_opt_out,omitempty"`
	ConsentSnapshot string     `json:"consent_snapshot"`
	ContentSnapshot []byte     `json:"content_snapshot,omitempty"`
	Files           []string   `json:"files,omitempty"`
	CategoryRef     string     `json:"category_ref,omitempty"`
}

// Clone returns a deep copy so stores never share mutable slices with callers.
func (r *OptInRecord) Clone() *OptInRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.OptedOutAt != nil {
		t := *r.OptedOutAt
		c.OptedOutAt = &t
	}
	if r.ContentSnapshot != nil {
		c.ContentSnapshot = append([]byte(nil), r.ContentSnapshot...)
	}
	if r.Files != nil {
		c.Files = append([]string(nil), r.Files...)
	}
	return &c
}

// IsExpired reports whether a pending record has outlived the expiry threshold.
// A zero threshold disables expiry. Confirmed and opted-out records never expire.
func (r *OptInRecord) IsExpired(now time.Time, threshold time.Duration) bool {
	if r.Status != StatusPending || threshold <= 0 {
		return false
	}
	return now.Sub(r.CreatedAt) > threshold
}

// Submission is the form-source input to Create.
type Submission struct {
	FormRef         string
	Email           string
	IP              string
	ConsentSnapshot string
	Content         []byte
	Files           []string
	Category        string
}
