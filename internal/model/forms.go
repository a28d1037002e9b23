package model

import (
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
)

// ConferenceForm is the payload for creating or updating a conference.
// Absent (nil) fields are left untouched on update.
type ConferenceForm struct {
	Name         *string    `json:"name,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Topics       []string   `json:"topics,omitempty"`
	City         *string    `json:"city,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	MaxAttendees *int       `json:"maxAttendees,omitempty"`
}

// ValidateCreate checks the fields a new conference needs.
func (f ConferenceForm) ValidateCreate() error {
	if f.Name == nil || strings.TrimSpace(*f.Name) == "" {
		return apperr.ErrInvalidArgument.WithDetail("conference name is required")
	}
	return f.ValidateUpdate()
}

// ValidateUpdate checks the fields that are present.
func (f ConferenceForm) ValidateUpdate() error {
	if f.Name != nil && strings.TrimSpace(*f.Name) == "" {
		return apperr.ErrInvalidArgument.WithDetail("conference name cannot be blank")
	}
	if f.MaxAttendees != nil {
		if *f.MaxAttendees < 0 {
			return apperr.ErrInvalidArgument.WithDetail("maxAttendees cannot be negative")
		}
		if *f.MaxAttendees > MaxCapacity {
			return apperr.ErrInvalidArgument.WithDetail("maxAttendees cannot exceed %d", MaxCapacity)
		}
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return apperr.ErrInvalidArgument.WithDetail("endDate is before startDate")
	}
	return nil
}

// ProfileForm is the payload for saving a profile.
type ProfileForm struct {
	DisplayName  *string       `json:"displayName,omitempty"`
	TeeShirtSize *TeeShirtSize `json:"teeShirtSize,omitempty"`
}

// Validate rejects unknown shirt sizes.
func (f ProfileForm) Validate() error {
	if f.TeeShirtSize != nil && !f.TeeShirtSize.Valid() {
		return apperr.ErrInvalidArgument.WithDetail("unknown teeShirtSize %q", *f.TeeShirtSize)
	}
	return nil
}

// QueryField names a filterable conference field.
type QueryField string

const (
	FieldCity         QueryField = "CITY"
	FieldTopic        QueryField = "TOPIC"
	FieldMonth        QueryField = "MONTH"
	FieldMaxAttendees QueryField = "MAX_ATTENDEES"
)

// QueryOperator names a comparison.
type QueryOperator string

const (
	OpEQ   QueryOperator = "EQ"
	OpNE   QueryOperator = "NE"
	OpLT   QueryOperator = "LT"
	OpLTEQ QueryOperator = "LTEQ"
	OpGT   QueryOperator = "GT"
	OpGTEQ QueryOperator = "GTEQ"
)

// QueryFilter is one client-supplied condition.
type QueryFilter struct {
	Field    QueryField    `json:"field"`
	Operator QueryOperator `json:"operator"`
	Value    string        `json:"value"`
}

// ConferenceQueryForm is the payload of a conference search. Orders lists
// property names, "-" prefixed for descending; when empty the inequality
// property (if any) and then name are used.
type ConferenceQueryForm struct {
	Filters []QueryFilter `json:"filters"`
	Orders  []string      `json:"orders,omitempty"`
	Limit   int           `json:"limit,omitempty"`
}

// Announcement wraps the cached announcement message.
type Announcement struct {
	Message string `json:"message"`
}

// WrappedBoolean is the result of register and unregister.
type WrappedBoolean struct {
	Result bool `json:"result"`
}

// ConferenceView is a conference as returned to clients.
type ConferenceView struct {
	*Conference
	WebsafeKey           string `json:"websafeKey"`
	OrganizerDisplayName string `json:"organizerDisplayName"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Kind   string `json:"kind"`
}
