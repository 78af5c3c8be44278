package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/tally/internal/audit"
	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/lock"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/storage"
	"github.com/spf13/viper"
)

// session bundles what a command needs to talk to the ledger.
type session struct {
	store       *storage.SQLiteStorage
	coordinator *engine.Coordinator
	config      *config.Config
	closers     []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Error("Failed to close resource", "error", err)
		}
	}
}

// initStorage opens and migrates the configured ledger.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	// The recorder logs failures itself; the operator also gets a visible warning.
	recorder := audit.NewRecorder(func(entry model.AuditEntry, _ error) {
		fmt.Fprintln(os.Stderr, cli.FormatWarning(fmt.Sprintf(
			"Link %s moved to %s but its audit entry was not recorded", entry.LinkID, entry.To)))
	})

	store, err := storage.NewSQLiteStorage(cfg.Database.Path, storage.WithAuditRecorder(recorder))
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// openSession loads configuration, opens the ledger and builds a coordinator.
// A redis locker is attached when lock.redis_address is configured.
func openSession(ctx context.Context, opts ...engine.Option) (*session, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	s := &session{store: store, config: cfg, closers: []func() error{store.Close}}

	if addr := cfg.Lock.RedisAddress; addr != "" {
		locker, closeLocker, err := lock.Dial(ctx, addr, cfg.Lock.TTL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to lock server: %w", err)
		}
		s.closers = append(s.closers, closeLocker)
		opts = append(opts, engine.WithLocker(locker))
	}

	s.coordinator = engine.NewWithConfig(store, cfg.Engine(), opts...)
	return s, nil
}

// actor returns the operator recorded on transitions.
func actor() (string, error) {
	name := strings.TrimSpace(viper.GetString("actor"))
	if name == "" {
		return "", common.NewUserError("Set --actor (or $USER) so the audit trail knows who decided.", common.ErrMissingConfig)
	}
	return name, nil
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return common.NewUserError("Give a --reason; it is kept in the audit trail.", common.ErrInvalidTransition)
	}
	return nil
}
