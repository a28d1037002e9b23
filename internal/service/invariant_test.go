package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/Shivanand-hulikatti/conference-central/internal/announcement"
	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
	"github.com/Shivanand-hulikatti/conference-central/internal/model"
)

// TestProperty_SeatAccounting drives random register/unregister sequences and
// checks them against a plain set of attendees.
func TestProperty_SeatAccounting(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		db := datastore.NewClient(datastore.NewMemoryBackend())
		defer func() { _ = db.Close() }()
		svc := NewConferenceService(db, &recordingNotifier{}, announcement.NewCache(0, 0, zap.NewNop()),
			Options{TxRetries: 3}, zap.NewNop())

		capacity := rapid.IntRange(0, 4).Draw(rt, "capacity")
		conf, err := svc.CreateConference(ctx, user("organizer"), model.ConferenceForm{
			Name:         ptr("Prop"),
			MaxAttendees: ptr(capacity),
		})
		require.NoError(rt, err)
		key := conf.WebsafeKey()

		attending := map[int]bool{}
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			who := rapid.IntRange(0, 5).Draw(rt, "user")
			u := user(fmt.Sprintf("u%d", who))

			if rapid.Bool().Draw(rt, "register") {
				err := svc.Register(ctx, u, key)
				switch {
				case attending[who]:
					require.ErrorIs(rt, err, apperr.ErrAlreadyRegistered)
				case len(attending) == capacity:
					require.ErrorIs(rt, err, apperr.ErrNoSeatsAvailable)
				default:
					require.NoError(rt, err)
					attending[who] = true
				}
			} else {
				err := svc.Unregister(ctx, u, key)
				if attending[who] {
					require.NoError(rt, err)
					delete(attending, who)
				} else {
					require.ErrorIs(rt, err, apperr.ErrNotRegistered)
				}
			}

			got, err := svc.GetConference(ctx, key)
			require.NoError(rt, err)
			require.Equal(rt, capacity-len(attending), got.SeatsAvailable)
			require.GreaterOrEqual(rt, got.SeatsAvailable, 0)
			require.LessOrEqual(rt, got.SeatsAvailable, got.MaxAttendees)

			for id := 0; id <= 5; id++ {
				p, err := svc.GetProfile(ctx, user(fmt.Sprintf("u%d", id)))
				if errors.Is(err, apperr.ErrProfileNotFound) {
					require.False(rt, attending[id])
					continue
				}
				require.NoError(rt, err)
				require.Equal(rt, attending[id], p.HasReserved(key), "u%d", id)
			}
		}
	})
}
