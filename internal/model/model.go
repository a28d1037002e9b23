// Package model defines the core domain types for the conference system.
package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
)

// Entity kinds.
const (
	KindProfile    = "Profile"
	KindConference = "Conference"
)

// User is the identity resolved by the caller before any core operation.
type User struct {
	ID    string
	Email string
}

// TeeShirtSize is the shirt size recorded on a profile.
type TeeShirtSize string

const (
	SizeNotSpecified TeeShirtSize = "NOT_SPECIFIED"
	SizeXS           TeeShirtSize = "XS"
	SizeS            TeeShirtSize = "S"
	SizeM            TeeShirtSize = "M"
	SizeL            TeeShirtSize = "L"
	SizeXL           TeeShirtSize = "XL"
	SizeXXL          TeeShirtSize = "XXL"
	SizeXXXL         TeeShirtSize = "XXXL"
)

// Valid reports whether s is a known size.
func (s TeeShirtSize) Valid() bool {
	switch s {
	case SizeNotSpecified, SizeXS, SizeS, SizeM, SizeL, SizeXL, SizeXXL, SizeXXXL:
		return true
	}
	return false
}

// ─── Profile ──────────────────────────────────────────────────────────────────

// Profile represents one registered user.
type Profile struct {
	UserID                 string       `json:"userId"`
	DisplayName            string       `json:"displayName"`
	MainEmail              string       `json:"mainEmail"`
	TeeShirtSize           TeeShirtSize `json:"teeShirtSize"`
	ConferenceKeysToAttend []string     `json:"conferenceKeysToAttend"`
}

// ProfileKey returns the key of userID's profile.
func ProfileKey(userID string) *datastore.Key {
	return datastore.NewNameKey(KindProfile, userID, nil)
}

// NewProfile builds a profile with defaults for absent fields.
func NewProfile(user User, displayName string, size TeeShirtSize) *Profile {
	if displayName == "" {
		displayName = DisplayNameFromEmail(user.Email)
	}
	if size == "" {
		size = SizeNotSpecified
	}
	return &Profile{
		UserID:                 user.ID,
		DisplayName:            displayName,
		MainEmail:              user.Email,
		TeeShirtSize:           size,
		ConferenceKeysToAttend: []string{},
	}
}

// DisplayNameFromEmail returns the local part of email,
// e.g. "lemoncake" for lemoncake@example.com.
func DisplayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Key returns the profile's key.
func (p *Profile) Key() *datastore.Key { return ProfileKey(p.UserID) }

// Update applies the non-nil fields.
func (p *Profile) Update(displayName *string, size *TeeShirtSize) {
	if displayName != nil {
		p.DisplayName = *displayName
	}
	if size != nil {
		p.TeeShirtSize = *size
	}
}

// HasReserved reports whether websafeKey is in the reserved list.
func (p *Profile) HasReserved(websafeKey string) bool {
	return slices.Contains(p.ConferenceKeysToAttend, websafeKey)
}

// AddReservation appends websafeKey unless already present.
func (p *Profile) AddReservation(websafeKey string) bool {
	if p.HasReserved(websafeKey) {
		return false
	}
	p.ConferenceKeysToAttend = append(p.ConferenceKeysToAttend, websafeKey)
	return true
}

// RemoveReservation removes websafeKey, keeping the order of the rest.
func (p *Profile) RemoveReservation(websafeKey string) bool {
	i := slices.Index(p.ConferenceKeysToAttend, websafeKey)
	if i < 0 {
		return false
	}
	p.ConferenceKeysToAttend = slices.Delete(p.ConferenceKeysToAttend, i, i+1)
	return true
}

// Property implements query.Entity.
func (p *Profile) Property(name string) ([]any, bool) {
	switch name {
	case "userId":
		return []any{p.UserID}, true
	case "displayName":
		return []any{p.DisplayName}, true
	case "mainEmail":
		return []any{p.MainEmail}, true
	case "teeShirtSize":
		return []any{string(p.TeeShirtSize)}, true
	case "conferenceKeysToAttend":
		return stringsToAny(p.ConferenceKeysToAttend), true
	}
	return nil, false
}

// ─── Conference ───────────────────────────────────────────────────────────────

// MaxCapacity bounds maxAttendees.
const MaxCapacity = 100_000

// Conference is a capacity-limited offering owned by its organizer's profile.
type Conference struct {
	ID              int64      `json:"id"`
	OrganizerUserID string     `json:"organizerUserId"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Topics          []string   `json:"topics"`
	City            string     `json:"city"`
	StartDate       *time.Time `json:"startDate,omitempty"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	Month           int        `json:"month"`
	MaxAttendees    int        `json:"maxAttendees"`
	SeatsAvailable  int        `json:"seatsAvailable"`
}

// NewConference builds a conference from a validated form with every seat free.
func NewConference(key *datastore.Key, organizerUserID string, form ConferenceForm) *Conference {
	c := &Conference{ID: key.ID(), OrganizerUserID: organizerUserID}
	c.apply(form)
	if form.MaxAttendees != nil {
		c.MaxAttendees = *form.MaxAttendees
	}
	c.SeatsAvailable = c.MaxAttendees
	return c
}

// Key returns the conference key, a child of the organizer's profile key.
func (c *Conference) Key() *datastore.Key {
	return datastore.NewIDKey(KindConference, c.ID, ProfileKey(c.OrganizerUserID))
}

// WebsafeKey returns the encoded key clients use to address the conference.
func (c *Conference) WebsafeKey() string { return c.Key().Encode() }

// SeatsAllocated is the number of seats currently booked.
func (c *Conference) SeatsAllocated() int { return c.MaxAttendees - c.SeatsAvailable }

// BookSeats takes n seats.
func (c *Conference) BookSeats(n int) error {
	if n > c.SeatsAvailable {
		return apperr.ErrNoSeatsAvailable
	}
	c.SeatsAvailable -= n
	return nil
}

// GiveBackSeats releases n seats, never exceeding capacity. It reports whether
// the counter had to be clamped.
func (c *Conference) GiveBackSeats(n int) (clamped bool) {
	c.SeatsAvailable += n
	if c.SeatsAvailable > c.MaxAttendees {
		c.SeatsAvailable = c.MaxAttendees
		return true
	}
	return false
}

// UpdateWithForm applies the non-nil fields of form. A capacity change keeps the
// allocated seats and fails if the new capacity is below them.
func (c *Conference) UpdateWithForm(form ConferenceForm) error {
	if form.MaxAttendees != nil {
		allocated := c.SeatsAllocated()
		if *form.MaxAttendees < allocated {
			return apperr.ErrInvalidArgument.WithDetail(
				"%d seats are already allocated, capacity cannot drop to %d", allocated, *form.MaxAttendees)
		}
		c.MaxAttendees = *form.MaxAttendees
		c.SeatsAvailable = c.MaxAttendees - allocated
	}
	c.apply(form)
	return nil
}

func (c *Conference) apply(form ConferenceForm) {
	if form.Name != nil {
		c.Name = strings.TrimSpace(*form.Name)
	}
	if form.Description != nil {
		c.Description = *form.Description
	}
	if form.Topics != nil {
		c.Topics = slices.Clone(form.Topics)
	}
	if form.City != nil {
		c.City = *form.City
	}
	if form.StartDate != nil {
		d := *form.StartDate
		c.StartDate = &d
		c.Month = int(d.Month())
	}
	if form.EndDate != nil {
		d := *form.EndDate
		c.EndDate = &d
	}
}

// Property implements query.Entity.
func (c *Conference) Property(name string) ([]any, bool) {
	switch name {
	case "name":
		return []any{c.Name}, true
	case "description":
		return []any{c.Description}, true
	case "city":
		return []any{c.City}, true
	case "topics":
		return stringsToAny(c.Topics), true
	case "month":
		return []any{int64(c.Month)}, true
	case "maxAttendees":
		return []any{int64(c.MaxAttendees)}, true
	case "seatsAvailable":
		return []any{int64(c.SeatsAvailable)}, true
	case "organizerUserId":
		return []any{c.OrganizerUserID}, true
	case "startDate":
		if c.StartDate == nil {
			return nil, true
		}
		return []any{*c.StartDate}, true
	case "endDate":
		if c.EndDate == nil {
			return nil, true
		}
		return []any{*c.EndDate}, true
	}
	return nil, false
}

// String summarises the conference for notifications.
func (c *Conference) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Id: %d\nName: %s\n", c.ID, c.Name)
	if c.City != "" {
		fmt.Fprintf(&b, "City: %s\n", c.City)
	}
	if len(c.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(c.Topics, ", "))
	}
	if c.StartDate != nil {
		fmt.Fprintf(&b, "StartDate: %s\n", c.StartDate.Format(time.DateOnly))
	}
	if c.EndDate != nil {
		fmt.Fprintf(&b, "EndDate: %s\n", c.EndDate.Format(time.DateOnly))
	}
	fmt.Fprintf(&b, "Max Attendees: %d\n", c.MaxAttendees)
	return b.String()
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
