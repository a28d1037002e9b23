// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the datastore.
package service

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
	"github.com/Shivanand-hulikatti/conference-central/internal/model"
	"github.com/Shivanand-hulikatti/conference-central/internal/repository"
)

// Notifier is told about committed conference creations.
type Notifier interface {
	ConferenceCreated(ctx context.Context, email, summary string) error
}

// AnnouncementReader reads the current announcement.
type AnnouncementReader interface {
	Get(ctx context.Context) (model.Announcement, bool)
}

// Options tunes a ConferenceService.
type Options struct {
	// TxRetries is how many times a unit of work is attempted when its commit
	// loses a conflict.
	TxRetries       int
	ProfileCacheTTL time.Duration
	CacheCleanup    time.Duration
}

// ConferenceService orchestrates profile, conference and registration operations.
type ConferenceService struct {
	db            *datastore.Client
	profiles      *repository.ProfileRepository
	conferences   *repository.ConferenceRepository
	notifier      Notifier
	announcements AnnouncementReader
	organizers    *gocache.Cache
	txRetries     int
	log           *zap.Logger
}

// NewConferenceService constructs a ConferenceService with its dependencies.
func NewConferenceService(
	db *datastore.Client,
	notifier Notifier,
	announcements AnnouncementReader,
	opts Options,
	log *zap.Logger,
) *ConferenceService {
	ttl := opts.ProfileCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ConferenceService{
		db:            db,
		profiles:      repository.NewProfileRepository(db),
		conferences:   repository.NewConferenceRepository(db),
		notifier:      notifier,
		announcements: announcements,
		organizers:    gocache.New(ttl, opts.CacheCleanup),
		txRetries:     max(opts.TxRetries, 1),
		log:           log,
	}
}

// transact runs work as a unit of work, re-running it from a fresh snapshot only
// when the commit lost a conflict. work must not have side effects outside tx.
func transact[T any](ctx context.Context, s *ConferenceService, op string, work func(tx *datastore.Tx) (T, error)) (T, error) {
	var (
		res T
		err error
	)
	for attempt := 1; attempt <= s.txRetries; attempt++ {
		res, err = datastore.Transact(ctx, s.db, work)
		if err == nil || !errors.Is(err, datastore.ErrConcurrentTransaction) {
			return res, err
		}
		s.log.Debug("retrying after conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return res, err
}

func requireUser(user model.User) error {
	if user.ID == "" {
		return apperr.ErrUnauthorized
	}
	return nil
}

func requireUserWithEmail(user model.User) error {
	if user.ID == "" || user.Email == "" {
		return apperr.ErrUnauthorized
	}
	return nil
}

// ─── Profiles ─────────────────────────────────────────────────────────────────

// GetProfile returns the caller's profile or apperr.ErrProfileNotFound.
func (s *ConferenceService) GetProfile(ctx context.Context, user model.User) (*model.Profile, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.profiles.Get(ctx, user.ID)
}

// SaveProfile creates the caller's profile with defaults for absent fields, or
// updates displayName and teeShirtSize of an existing one.
func (s *ConferenceService) SaveProfile(ctx context.Context, user model.User, form model.ProfileForm) (*model.Profile, error) {
	if err := requireUserWithEmail(user); err != nil {
		return nil, err
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	profile, err := transact(ctx, s, "save_profile", func(tx *datastore.Tx) (*model.Profile, error) {
		p, created, err := s.profiles.LoadOrNew(ctx, tx, user)
		if err != nil {
			return nil, err
		}
		if created {
			var name string
			var size model.TeeShirtSize
			if form.DisplayName != nil {
				name = *form.DisplayName
			}
			if form.TeeShirtSize != nil {
				size = *form.TeeShirtSize
			}
			p = model.NewProfile(user, name, size)
		} else {
			p.Update(form.DisplayName, form.TeeShirtSize)
		}
		if err := s.profiles.Save(tx, p); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	s.organizers.Delete(user.ID)
	return profile, nil
}

// ─── Conferences ──────────────────────────────────────────────────────────────

type created struct {
	conference *model.Conference
	email      string
}

// CreateConference creates a conference owned by the caller.
//
// The id is allocated before the transaction opens, so a retried unit of work
// writes the same key and the creation happens exactly once. The confirmation
// notification is queued only after the commit.
func (s *ConferenceService) CreateConference(ctx context.Context, user model.User, form model.ConferenceForm) (*model.Conference, error) {
	if err := requireUserWithEmail(user); err != nil {
		return nil, err
	}
	if err := form.ValidateCreate(); err != nil {
		return nil, err
	}

	key, err := s.conferences.AllocateKey(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	res, err := transact(ctx, s, "create_conference", func(tx *datastore.Tx) (created, error) {
		profile, _, err := s.profiles.LoadOrNew(ctx, tx, user)
		if err != nil {
			return created{}, err
		}
		conf := model.NewConference(key, user.ID, form)
		if err := s.profiles.Save(tx, profile); err != nil {
			return created{}, err
		}
		if err := s.conferences.Save(tx, conf); err != nil {
			return created{}, err
		}
		return created{conference: conf, email: profile.MainEmail}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("conference created",
		zap.String("key", res.conference.WebsafeKey()),
		zap.String("organizer", user.ID))
	if err := s.notifier.ConferenceCreated(ctx, res.email, res.conference.String()); err != nil {
		s.log.Warn("queue confirmation", zap.String("key", res.conference.WebsafeKey()), zap.Error(err))
	}
	return res.conference, nil
}

// UpdateConference applies the present fields of form to a conference the
// caller organizes.
func (s *ConferenceService) UpdateConference(ctx context.Context, user model.User, websafeKey string, form model.ConferenceForm) (*model.Conference, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if err := form.ValidateUpdate(); err != nil {
		return nil, err
	}
	key, err := repository.ParseKey(websafeKey)
	if err != nil {
		return nil, err
	}

	return transact(ctx, s, "update_conference", func(tx *datastore.Tx) (*model.Conference, error) {
		conf, err := s.conferences.Load(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if _, err := s.profiles.Load(ctx, tx, user.ID); err != nil {
			if errors.Is(err, apperr.ErrProfileNotFound) {
				return nil, apperr.ErrNotOrganizer
			}
			return nil, err
		}
		if conf.OrganizerUserID != user.ID {
			return nil, apperr.ErrNotOrganizer
		}
		if err := conf.UpdateWithForm(form); err != nil {
			return nil, err
		}
		if err := s.conferences.Save(tx, conf); err != nil {
			return nil, err
		}
		return conf, nil
	})
}

// GetConference returns the conference at websafeKey.
func (s *ConferenceService) GetConference(ctx context.Context, websafeKey string) (*model.Conference, error) {
	key, err := repository.ParseKey(websafeKey)
	if err != nil {
		return nil, err
	}
	return s.conferences.Get(ctx, key)
}

// ─── Registration ─────────────────────────────────────────────────────────────

// Register books one seat of the conference for the caller.
//
// The seat counter and the caller's reservation list change in the same unit of
// work, so under contention either both are written or neither is. When two
// callers race for the last seat, the loser's commit conflicts; its retry reads
// the new counter and fails with apperr.ErrNoSeatsAvailable.
func (s *ConferenceService) Register(ctx context.Context, user model.User, websafeKey string) error {
	if err := requireUserWithEmail(user); err != nil {
		return err
	}
	key, err := repository.ParseKey(websafeKey)
	if err != nil {
		return err
	}

	_, err = transact(ctx, s, "register", func(tx *datastore.Tx) (struct{}, error) {
		// ── Step 1: the conference must exist. ───────────────────────────────
		conf, err := s.conferences.Load(ctx, tx, key)
		if err != nil {
			return struct{}{}, err
		}

		// ── Step 2: load the profile, creating it on first use. ──────────────
		profile, _, err := s.profiles.LoadOrNew(ctx, tx, user)
		if err != nil {
			return struct{}{}, err
		}

		// ── Step 3: reject duplicates, then overbooking. ─────────────────────
		wk := conf.WebsafeKey()
		if profile.HasReserved(wk) {
			return struct{}{}, apperr.ErrAlreadyRegistered
		}
		if conf.SeatsAvailable <= 0 {
			return struct{}{}, apperr.ErrNoSeatsAvailable
		}

		// ── Step 4: book and record the reservation together. ────────────────
		if err := conf.BookSeats(1); err != nil {
			return struct{}{}, err
		}
		profile.AddReservation(wk)
		if err := s.profiles.Save(tx, profile); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.conferences.Save(tx, conf)
	})
	if err != nil {
		return err
	}
	s.log.Debug("registered", zap.String("user", user.ID), zap.String("key", websafeKey))
	return nil
}

// Unregister releases the caller's seat in the conference.
func (s *ConferenceService) Unregister(ctx context.Context, user model.User, websafeKey string) error {
	if err := requireUser(user); err != nil {
		return err
	}
	key, err := repository.ParseKey(websafeKey)
	if err != nil {
		return err
	}

	_, err = transact(ctx, s, "unregister", func(tx *datastore.Tx) (struct{}, error) {
		conf, err := s.conferences.Load(ctx, tx, key)
		if err != nil {
			return struct{}{}, err
		}
		profile, err := s.profiles.Load(ctx, tx, user.ID)
		if errors.Is(err, apperr.ErrProfileNotFound) {
			return struct{}{}, apperr.ErrNotRegistered
		}
		if err != nil {
			return struct{}{}, err
		}
		if !profile.RemoveReservation(conf.WebsafeKey()) {
			return struct{}{}, apperr.ErrNotRegistered
		}
		if conf.GiveBackSeats(1) {
			s.log.Warn("seat counter clamped to capacity", zap.String("key", websafeKey))
		}
		if err := s.profiles.Save(tx, profile); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.conferences.Save(tx, conf)
	})
	if err != nil {
		return err
	}
	s.log.Debug("unregistered", zap.String("user", user.ID), zap.String("key", websafeKey))
	return nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// QueryConferences returns the conferences matching form.
func (s *ConferenceService) QueryConferences(ctx context.Context, form model.ConferenceQueryForm) ([]*model.Conference, error) {
	q, err := BuildConferenceQuery(form)
	if err != nil {
		return nil, err
	}
	confs, err := s.conferences.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	s.prefetchOrganizers(ctx, confs)
	return confs, nil
}

// ConferencesCreated returns the caller's conferences ordered by name.
func (s *ConferenceService) ConferencesCreated(ctx context.Context, user model.User) ([]*model.Conference, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	confs, err := s.conferences.ListByOrganizer(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.prefetchOrganizers(ctx, confs)
	return confs, nil
}

// ConferencesToAttend returns the conferences the caller has registered for.
// Conferences that no longer exist are skipped.
func (s *ConferenceService) ConferencesToAttend(ctx context.Context, user model.User) ([]*model.Conference, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	profile, err := s.profiles.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	keys := make([]*datastore.Key, 0, len(profile.ConferenceKeysToAttend))
	for _, wk := range profile.ConferenceKeysToAttend {
		key, err := repository.ParseKey(wk)
		if err != nil {
			s.log.Warn("skipping unreadable reservation", zap.String("user", user.ID), zap.String("key", wk))
			continue
		}
		keys = append(keys, key)
	}
	return s.conferences.GetMulti(ctx, keys)
}

// prefetchOrganizers loads the organizers of confs in one batch and keeps them
// for OrganizerDisplayName. Failure only costs the optimisation.
func (s *ConferenceService) prefetchOrganizers(ctx context.Context, confs []*model.Conference) {
	profiles, err := s.conferences.PrefetchOrganizers(ctx, confs)
	if err != nil {
		s.log.Warn("prefetch organizers", zap.Error(err))
		return
	}
	for id, p := range profiles {
		s.organizers.SetDefault(id, p.DisplayName)
	}
}

// OrganizerDisplayName returns the display name of conf's organizer, reading
// through the organizer cache. It is empty when the profile is gone.
func (s *ConferenceService) OrganizerDisplayName(ctx context.Context, conf *model.Conference) string {
	if v, ok := s.organizers.Get(conf.OrganizerUserID); ok {
		if name, ok := v.(string); ok {
			return name
		}
	}
	p, err := s.profiles.Get(ctx, conf.OrganizerUserID)
	if err != nil {
		if !errors.Is(err, apperr.ErrProfileNotFound) {
			s.log.Warn("load organizer", zap.String("user", conf.OrganizerUserID), zap.Error(err))
		}
		return ""
	}
	s.organizers.SetDefault(p.UserID, p.DisplayName)
	return p.DisplayName
}

// Announcement returns the current announcement, if any.
func (s *ConferenceService) Announcement(ctx context.Context) (model.Announcement, bool) {
	return s.announcements.Get(ctx)
}
