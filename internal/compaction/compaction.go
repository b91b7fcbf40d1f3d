// Package compaction bounds the persisted update log: once a room's
// log grows past a threshold, the updates are folded into a single
// encoded snapshot row and the old rows pruned. Because merging is a
// set union, re-applying the kept tail of the log on top of the
// snapshot at load time is harmless.
package compaction

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/trellis/internal/crdt"
	"github.com/manpreetbhatti/trellis/internal/store"
)

type Config struct {
	Interval          time.Duration
	UpdateThreshold   int
	KeepRecentUpdates int
}

func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		UpdateThreshold:   100,
		KeepRecentUpdates: 10,
	}
}

type Service struct {
	store  *store.Store
	config Config
	clock  clock.Clock
	log    *zap.Logger
}

func New(s *store.Store, config Config, log *zap.Logger) *Service {
	return newWithClock(s, config, clock.New(), log)
}

func newWithClock(s *store.Store, config Config, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{store: s, config: config, clock: clk, log: log}
}

// Run compacts on the configured interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("compaction service started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("threshold", s.config.UpdateThreshold))

	ticker := s.clock.Ticker(s.config.Interval)
	defer ticker.Stop()

	s.compactAllRooms()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("compaction service stopped")
			return ctx.Err()
		case <-ticker.C:
			s.compactAllRooms()
		}
	}
}

func (s *Service) compactAllRooms() {
	rooms, err := s.store.ListRooms(1000, 0)
	if err != nil {
		s.log.Error("compaction: listing rooms failed", zap.Error(err))
		return
	}

	compacted := 0
	for _, r := range rooms {
		if !s.shouldCompact(r.ID) {
			continue
		}
		if err := s.CompactRoom(r.ID); err != nil {
			s.log.Error("compaction failed", zap.String("room", r.ID), zap.Error(err))
		} else {
			compacted++
		}
	}

	if compacted > 0 {
		s.log.Info("compaction pass done", zap.Int("rooms", compacted))
	}
}

func (s *Service) shouldCompact(roomID string) bool {
	count, err := s.store.UpdateCount(roomID)
	if err != nil {
		return false
	}
	return count >= s.config.UpdateThreshold
}

// CompactRoom folds the room's snapshot and update log into one fresh
// snapshot and prunes the log down to the most recent rows.
func (s *Service) CompactRoom(roomID string) error {
	snapshot, updates, err := s.store.LoadRoom(roomID)
	if err != nil {
		return err
	}

	state := crdt.NewState()
	if len(snapshot) > 0 {
		if err := state.Apply(snapshot); err != nil {
			s.log.Warn("stored snapshot rejected during compaction",
				zap.String("room", roomID), zap.Error(err))
		}
	}
	applied := 0
	for _, u := range updates {
		if err := state.Apply(u); err != nil {
			s.log.Warn("stored update rejected during compaction",
				zap.String("room", roomID), zap.Error(err))
			continue
		}
		applied++
	}

	if err := s.store.SaveSnapshot(roomID, state.Encode(), state.Len()); err != nil {
		return err
	}
	if err := s.store.PruneUpdates(roomID, s.config.KeepRecentUpdates); err != nil {
		return err
	}

	s.log.Info("room compacted",
		zap.String("room", roomID),
		zap.Int("updates", applied),
		zap.Int("payloads", state.Len()),
		zap.Int("kept", s.config.KeepRecentUpdates))
	return nil
}
