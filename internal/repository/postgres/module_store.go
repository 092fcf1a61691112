package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andresuchdata/orderpoint/internal/repository"
)

type moduleStore struct {
	db *DB
}

func NewModuleStore(db *DB) repository.ModuleStore {
	return &moduleStore{db: db}
}

func (s *moduleStore) BaseVersion(ctx context.Context) (*string, error) {
	var version *string
	err := s.db.GetContext(ctx, &version,
		`SELECT latest_version FROM system_module WHERE name = 'base'`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read base module version: %w", err)
	}
	return version, nil
}

func (s *moduleStore) TransientCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM system_module
		WHERE state IN ('to install', 'to upgrade', 'to remove')
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to count transient modules: %w", err)
	}
	return count, nil
}

func (s *moduleStore) ResetTransient(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE system_module SET state = 'installed'
		WHERE state IN ('to install', 'to upgrade', 'to remove')
	`); err != nil {
		return fmt.Errorf("failed to reset transient module states: %w", err)
	}
	return nil
}
