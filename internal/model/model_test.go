package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
)

func ptr[T any](v T) *T { return &v }

func newConf(t *testing.T, capacity int) *Conference {
	t.Helper()
	key := datastore.NewIDKey(KindConference, 7, ProfileKey("org"))
	return NewConference(key, "org", ConferenceForm{Name: ptr("DevFest"), MaxAttendees: ptr(capacity)})
}

func TestNewProfile_Defaults(t *testing.T) {
	p := NewProfile(User{ID: "u1", Email: "lemoncake@example.com"}, "", "")
	assert.Equal(t, "lemoncake", p.DisplayName)
	assert.Equal(t, "lemoncake@example.com", p.MainEmail)
	assert.Equal(t, SizeNotSpecified, p.TeeShirtSize)
	assert.NotNil(t, p.ConferenceKeysToAttend)
	assert.True(t, p.Key().Equal(ProfileKey("u1")))
}

func TestProfile_Reservations(t *testing.T) {
	p := NewProfile(User{ID: "u1", Email: "a@b.c"}, "A", SizeM)

	assert.True(t, p.AddReservation("k1"))
	assert.True(t, p.AddReservation("k2"))
	assert.False(t, p.AddReservation("k1"), "no duplicates")
	assert.Equal(t, []string{"k1", "k2"}, p.ConferenceKeysToAttend)

	assert.True(t, p.RemoveReservation("k1"))
	assert.False(t, p.RemoveReservation("k1"))
	assert.Equal(t, []string{"k2"}, p.ConferenceKeysToAttend)
}

func TestProfile_Update(t *testing.T) {
	p := NewProfile(User{ID: "u1", Email: "a@b.c"}, "A", SizeM)
	p.Update(nil, ptr(SizeXL))
	assert.Equal(t, "A", p.DisplayName)
	assert.Equal(t, SizeXL, p.TeeShirtSize)
	p.Update(ptr("Alice"), nil)
	assert.Equal(t, "Alice", p.DisplayName)
}

func TestNewConference(t *testing.T) {
	start := time.Date(2025, time.November, 3, 0, 0, 0, 0, time.UTC)
	key := datastore.NewIDKey(KindConference, 12, ProfileKey("org"))
	c := NewConference(key, "org", ConferenceForm{
		Name:         ptr("  DevFest  "),
		City:         ptr("London"),
		Topics:       []string{"Go", "Web"},
		StartDate:    &start,
		MaxAttendees: ptr(10),
	})

	assert.Equal(t, int64(12), c.ID)
	assert.Equal(t, "DevFest", c.Name)
	assert.Equal(t, 11, c.Month)
	assert.Equal(t, 10, c.SeatsAvailable)
	assert.True(t, c.Key().Equal(key))
	assert.True(t, c.Key().Parent().Equal(ProfileKey("org")))

	decoded, err := datastore.DecodeKey(c.WebsafeKey())
	require.NoError(t, err)
	assert.True(t, decoded.Equal(key))
}

func TestConference_Seats(t *testing.T) {
	c := newConf(t, 2)

	require.NoError(t, c.BookSeats(1))
	require.NoError(t, c.BookSeats(1))
	assert.ErrorIs(t, c.BookSeats(1), apperr.ErrNoSeatsAvailable)
	assert.Equal(t, 0, c.SeatsAvailable)
	assert.Equal(t, 2, c.SeatsAllocated())

	assert.False(t, c.GiveBackSeats(2))
	assert.True(t, c.GiveBackSeats(1), "counter never exceeds capacity")
	assert.Equal(t, 2, c.SeatsAvailable)
}

func TestConference_UpdateKeepsAllocatedSeats(t *testing.T) {
	c := newConf(t, 10)
	require.NoError(t, c.BookSeats(4))

	require.NoError(t, c.UpdateWithForm(ConferenceForm{MaxAttendees: ptr(20), City: ptr("Paris")}))
	assert.Equal(t, 20, c.MaxAttendees)
	assert.Equal(t, 16, c.SeatsAvailable)
	assert.Equal(t, "Paris", c.City)
	assert.Equal(t, "DevFest", c.Name, "absent fields stay untouched")

	err := c.UpdateWithForm(ConferenceForm{MaxAttendees: ptr(3)})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Equal(t, 20, c.MaxAttendees)
}

func TestConference_Property(t *testing.T) {
	c := newConf(t, 5)
	c.Topics = []string{"a", "b"}

	v, ok := c.Property("topics")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)

	v, ok = c.Property("maxAttendees")
	require.True(t, ok)
	assert.Equal(t, []any{int64(5)}, v)

	v, ok = c.Property("startDate")
	assert.True(t, ok)
	assert.Empty(t, v)

	_, ok = c.Property("nope")
	assert.False(t, ok)
}

func TestConferenceForm_Validate(t *testing.T) {
	start := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, 0, -1)

	assert.Error(t, ConferenceForm{}.ValidateCreate())
	assert.Error(t, ConferenceForm{Name: ptr("   ")}.ValidateCreate())
	assert.Error(t, ConferenceForm{Name: ptr("x"), MaxAttendees: ptr(-1)}.ValidateCreate())
	assert.Error(t, ConferenceForm{Name: ptr("x"), MaxAttendees: ptr(MaxCapacity + 1)}.ValidateCreate())
	assert.Error(t, ConferenceForm{Name: ptr("x"), StartDate: &start, EndDate: &before}.ValidateCreate())
	assert.NoError(t, ConferenceForm{Name: ptr("x"), MaxAttendees: ptr(0)}.ValidateCreate())
	assert.NoError(t, ConferenceForm{}.ValidateUpdate())
}

func TestProfileForm_Validate(t *testing.T) {
	assert.NoError(t, ProfileForm{TeeShirtSize: ptr(SizeXXL)}.Validate())
	err := ProfileForm{TeeShirtSize: ptr(TeeShirtSize("HUGE"))}.Validate()
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestConference_String(t *testing.T) {
	c := newConf(t, 3)
	c.City = "Oslo"
	s := c.String()
	assert.Contains(t, s, "Name: DevFest")
	assert.Contains(t, s, "City: Oslo")
	assert.Contains(t, s, "Max Attendees: 3")
}
