package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxnote-labs/voxnote-core/internal/config"
)

// Store splits persistence of lightweight metadata from heavyweight audio
// payloads behind one repository surface. The two tiers are independent
// resources with no transactional link: a payload write can fail after the
// metadata write succeeded, in which case Save rolls the metadata back and
// reports a StorageError so the caller can retry the whole save.
type Store struct {
	registry MetadataRegistry
	content  ContentStore
	cfg      config.StoreConfig
	log      *slog.Logger
	clock    func() time.Time
}

// New assembles a store from its two tiers. Used directly by tests;
// production code goes through Open.
func New(registry MetadataRegistry, content ContentStore, cfg config.StoreConfig, log *slog.Logger) *Store {
	return &Store{
		registry: registry,
		content:  content,
		cfg:      cfg,
		log:      log.With(slog.String("component", "store")),
		clock:    time.Now,
	}
}

// Open initializes both tiers according to config and applies retention.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	registry, err := OpenRegistry(ctx, cfg.Path, cfg.VacuumOnStart, log)
	if err != nil {
		return nil, fmt.Errorf("open metadata registry: %w", err)
	}
	content, err := OpenContentStore(cfg.AudioDir)
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("open content store: %w", err)
	}

	s := New(registry, content, cfg, log)
	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.registry.Close()
}

// Save commits a finished recording: metadata first, then the payload. On a
// payload failure the metadata entry is rolled back so listings never show a
// recording that cannot be played back.
func (s *Store) Save(ctx context.Context, rec Recording) error {
	if rec.ID == "" {
		return &StorageError{Op: "save", Err: errors.New("recording id is empty")}
	}
	if err := s.registry.Append(ctx, rec); err != nil {
		return &StorageError{Op: "save metadata", Err: err}
	}
	if err := s.content.Put(ctx, rec.ID, rec.Payload, rec.SampleRate, rec.Channels); err != nil {
		if rbErr := s.registry.Remove(ctx, rec.ID); rbErr != nil {
			s.log.Warn("metadata rollback failed, orphaned entry remains",
				slog.String("id", rec.ID),
				slog.String("error", rbErr.Error()))
		}
		return &StorageError{Op: "save payload", Err: err}
	}
	s.log.Info("recording saved",
		slog.String("id", rec.ID),
		slog.Int64("size", rec.Size),
		slog.Float64("duration", rec.Duration))
	return nil
}

// List returns all recording metadata in storage order, without payloads.
func (s *Store) List(ctx context.Context) ([]Recording, error) {
	recs, err := s.registry.List(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return recs, nil
}

// LoadWithPayload returns the metadata record merged with its payload, or
// ErrNotFound if either tier is missing the id.
func (s *Store) LoadWithPayload(ctx context.Context, id string) (Recording, error) {
	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, &StorageError{Op: "load metadata", Err: err}
	}
	payload, err := s.content.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, &StorageError{Op: "load payload", Err: err}
	}
	rec.Payload = payload
	return rec, nil
}

// AudioFile resolves the on-disk payload file for a stored recording, for
// callers serving the audio container directly. Returns ErrNotFound if
// either tier is missing the id.
func (s *Store) AudioFile(ctx context.Context, id string) (Recording, string, error) {
	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Recording{}, "", ErrNotFound
		}
		return Recording{}, "", &StorageError{Op: "load metadata", Err: err}
	}
	path, err := s.content.SourcePath(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Recording{}, "", ErrNotFound
		}
		return Recording{}, "", &StorageError{Op: "locate payload", Err: err}
	}
	return rec, path, nil
}

// Delete removes both the metadata record and the payload. Idempotent by id:
// both removals proceed even if one side is already missing.
func (s *Store) Delete(ctx context.Context, id string) error {
	var errs []error
	if err := s.registry.Remove(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("metadata: %w", err))
	}
	if err := s.content.Delete(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("payload: %w", err))
	}
	if len(errs) > 0 {
		return &StorageError{Op: "delete", Err: errors.Join(errs...)}
	}
	return nil
}

// ClearAll empties both tiers entirely. Irreversible.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.registry.Wipe(ctx); err != nil {
		return &StorageError{Op: "clear metadata", Err: err}
	}
	if err := s.content.Wipe(ctx); err != nil {
		return &StorageError{Op: "clear payloads", Err: err}
	}
	return nil
}

// Prune applies configured retention: drop recordings past the retention
// window, then trim the oldest past the max count. A zero limit disables the
// corresponding rule.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 && s.cfg.MaxRecordings <= 0 {
		return nil
	}
	recs, err := s.registry.List(ctx)
	if err != nil {
		return &StorageError{Op: "prune", Err: err}
	}

	var doomed []Recording
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		kept := recs[:0]
		for _, rec := range recs {
			if rec.CreatedAt.Before(cutoff) {
				doomed = append(doomed, rec)
			} else {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}
	if s.cfg.MaxRecordings > 0 && len(recs) > s.cfg.MaxRecordings {
		excess := len(recs) - s.cfg.MaxRecordings
		doomed = append(doomed, recs[:excess]...)
	}

	for _, rec := range doomed {
		if err := s.Delete(ctx, rec.ID); err != nil {
			return err
		}
		s.log.Info("pruned recording", slog.String("id", rec.ID))
	}
	return nil
}
