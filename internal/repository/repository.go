// Package repository gives typed access to profiles and conferences, both inside
// a unit of work and through plain snapshot reads.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
	"github.com/Shivanand-hulikatti/conference-central/internal/model"
	"github.com/Shivanand-hulikatti/conference-central/internal/query"
)

// ProfileRepository handles persistence for profiles.
type ProfileRepository struct {
	db *datastore.Client
}

// NewProfileRepository constructs a ProfileRepository.
func NewProfileRepository(db *datastore.Client) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get returns the profile of userID or apperr.ErrProfileNotFound.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	if err := r.db.Get(ctx, model.ProfileKey(userID), &p); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, apperr.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// Load reads the profile of userID inside tx.
func (r *ProfileRepository) Load(ctx context.Context, tx *datastore.Tx, userID string) (*model.Profile, error) {
	var p model.Profile
	if err := tx.Get(ctx, model.ProfileKey(userID), &p); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, apperr.ErrProfileNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &p, nil
}

// LoadOrNew reads the profile of user inside tx, or builds a default one that
// is not yet saved. created reports which happened.
func (r *ProfileRepository) LoadOrNew(ctx context.Context, tx *datastore.Tx, user model.User) (p *model.Profile, created bool, err error) {
	p, err = r.Load(ctx, tx, user.ID)
	if errors.Is(err, apperr.ErrProfileNotFound) {
		return model.NewProfile(user, "", ""), true, nil
	}
	return p, false, err
}

// Save stages p to be written when tx commits.
func (r *ProfileRepository) Save(tx *datastore.Tx, p *model.Profile) error {
	return tx.Put(p.Key(), p)
}

// GetMulti loads the profiles at keys from one snapshot, keyed by user id.
// Absent profiles are left out.
func (r *ProfileRepository) GetMulti(ctx context.Context, keys []*datastore.Key) (map[string]*model.Profile, error) {
	recs, err := r.db.GetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get profiles: %w", err)
	}
	return DecodeProfiles(recs)
}

// DecodeProfiles decodes profile records keyed by user id.
func DecodeProfiles(recs []datastore.Record) (map[string]*model.Profile, error) {
	out := make(map[string]*model.Profile, len(recs))
	for _, rec := range recs {
		var p model.Profile
		if err := datastore.Decode(rec, &p); err != nil {
			return nil, err
		}
		out[p.UserID] = &p
	}
	return out, nil
}

// ConferenceRepository handles persistence for conferences.
type ConferenceRepository struct {
	db *datastore.Client
}

// NewConferenceRepository constructs a ConferenceRepository.
func NewConferenceRepository(db *datastore.Client) *ConferenceRepository {
	return &ConferenceRepository{db: db}
}

// ParseKey decodes a websafe conference key.
func ParseKey(websafeKey string) (*datastore.Key, error) {
	key, err := datastore.DecodeKey(websafeKey)
	if err != nil {
		return nil, err
	}
	if key.Kind() != model.KindConference || key.Parent() == nil || key.Parent().Kind() != model.KindProfile {
		return nil, apperr.ErrConferenceNotFound.WithDetail("%s is not a conference key", websafeKey)
	}
	return key, nil
}

// AllocateKey reserves a new conference key under the organizer's profile.
func (r *ConferenceRepository) AllocateKey(ctx context.Context, organizerUserID string) (*datastore.Key, error) {
	return r.db.AllocateID(ctx, model.ProfileKey(organizerUserID), model.KindConference)
}

// Get returns the conference at key or apperr.ErrConferenceNotFound.
func (r *ConferenceRepository) Get(ctx context.Context, key *datastore.Key) (*model.Conference, error) {
	var c model.Conference
	if err := r.db.Get(ctx, key, &c); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, apperr.ErrConferenceNotFound.WithDetail("%s", key.Encode())
		}
		return nil, fmt.Errorf("get conference: %w", err)
	}
	return &c, nil
}

// Load reads the conference at key inside tx.
func (r *ConferenceRepository) Load(ctx context.Context, tx *datastore.Tx, key *datastore.Key) (*model.Conference, error) {
	var c model.Conference
	if err := tx.Get(ctx, key, &c); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, apperr.ErrConferenceNotFound.WithDetail("%s", key.Encode())
		}
		return nil, fmt.Errorf("load conference: %w", err)
	}
	return &c, nil
}

// Save stages c to be written when tx commits.
func (r *ConferenceRepository) Save(tx *datastore.Tx, c *model.Conference) error {
	return tx.Put(c.Key(), c)
}

// GetMulti loads the conferences at keys from one snapshot, in input order.
// Absent conferences are left out.
func (r *ConferenceRepository) GetMulti(ctx context.Context, keys []*datastore.Key) ([]*model.Conference, error) {
	recs, err := r.db.GetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get conferences: %w", err)
	}
	out := make([]*model.Conference, 0, len(recs))
	for _, rec := range recs {
		var c model.Conference
		if err := datastore.Decode(rec, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, nil
}

// Query runs q over conferences.
func (r *ConferenceRepository) Query(ctx context.Context, q *query.Query) ([]*model.Conference, error) {
	q.Kind = model.KindConference
	return query.Run[model.Conference](ctx, r.db, q)
}

// ListByOrganizer returns the conferences whose ancestor is userID's profile,
// ordered by name.
func (r *ConferenceRepository) ListByOrganizer(ctx context.Context, userID string) ([]*model.Conference, error) {
	q := query.New(model.KindConference).
		WithAncestor(model.ProfileKey(userID)).
		Order("name")
	return query.Run[model.Conference](ctx, r.db, q)
}

// PrefetchOrganizers loads the organizer profiles of conferences in one batch.
func (r *ConferenceRepository) PrefetchOrganizers(ctx context.Context, conferences []*model.Conference) (map[string]*model.Profile, error) {
	recs, err := query.PrefetchParents(ctx, r.db, conferences)
	if err != nil {
		return nil, fmt.Errorf("prefetch organizers: %w", err)
	}
	return DecodeProfiles(recs)
}
