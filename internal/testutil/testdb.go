package testutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mescon/InfinityStatus/internal/db"
)

// NewTestRepository creates a migrated SQLite database in a fresh temporary
// directory. The returned cleanup closes the database and removes the directory.
func NewTestRepository() (*db.Repository, func(), error) {
	dir, err := os.MkdirTemp("", "infinity-test-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	repo, err := db.NewRepository(filepath.Join(dir, "test.db"))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to open test database: %w", err)
	}

	cleanup := func() {
		_ = repo.Close()
		_ = os.RemoveAll(dir)
	}
	return repo, cleanup, nil
}
