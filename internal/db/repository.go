package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register CGo SQLite driver as "sqlite3"
	_ "modernc.org/sqlite"          // Register pure-Go SQLite driver as "sqlite"

	"github.com/mescon/InfinityStatus/internal/logger"
)

// MaxRetries is the number of times to retry a database operation on SQLITE_BUSY
const MaxRetries = 5

// RetryDelay is the base delay between retries (increases exponentially)
const RetryDelay = 100 * time.Millisecond

// Supported database/sql driver names.
const (
	DriverPureGo = "sqlite"  // modernc.org/sqlite
	DriverCGo    = "sqlite3" // github.com/mattn/go-sqlite3
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository provides database access methods for the application.
type Repository struct {
	DB     *sql.DB
	driver string
}

// NewRepository opens the database at dbPath with the pure-Go driver.
func NewRepository(dbPath string) (*Repository, error) {
	return NewRepositoryWithDriver(DriverPureGo, dbPath)
}

// NewRepositoryWithDriver opens the database at dbPath with the named driver,
// applies pragmas and runs pending migrations.
func NewRepositoryWithDriver(driver, dbPath string) (*Repository, error) {
	if driver == "" {
		driver = DriverPureGo
	}
	if driver != DriverPureGo && driver != DriverCGo {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	// Ensure directory exists with restricted permissions (owner only)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows concurrent readers and one writer; keep the pool small.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	repo := &Repository{DB: db, driver: driver}
	if err := repo.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := repo.checkIntegrity(); err != nil {
		logger.Errorf("Warning: database integrity check failed: %v", err)
		// Non-fatal but logged - database may need attention
	}

	return repo, nil
}

// Driver returns the database/sql driver name in use.
func (r *Repository) Driver() string {
	return r.driver
}

// configureSQLite sets SQLite pragmas for reliability and performance
func configureSQLite(db *sql.DB) error {
	criticalPragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		// Timer writes are tiny; 5 seconds is plenty to ride out a checkpoint.
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range criticalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set critical pragma %s: %w", pragma, err)
		}
	}

	optionalPragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range optionalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debugf("Failed to set optional pragma %s: %v", pragma, err)
		}
	}

	return nil
}

// checkIntegrity runs a quick integrity check on the database
func (r *Repository) checkIntegrity() error {
	var result string
	err := r.DB.QueryRow("PRAGMA quick_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	logger.Debugf("Database integrity check passed")
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.DB.Close()
}

// GracefulClose checkpoints the WAL into the main database file and closes it.
func (r *Repository) GracefulClose() error {
	logger.Infof("Database: initiating graceful shutdown...")

	if _, err := r.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Warnf("Shutdown WAL checkpoint failed: %v", err)
	}

	if err := r.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	logger.Infof("Database shutdown complete")
	return nil
}

// Checkpoint runs a passive WAL checkpoint (non-blocking).
func (r *Repository) Checkpoint() error {
	_, err := r.DB.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	if err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// StartPeriodicCheckpoint starts a background goroutine that runs
// WAL checkpoints at the specified interval. Returns a stop function.
func (r *Repository) StartPeriodicCheckpoint(interval time.Duration) func() {
	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if err := r.Checkpoint(); err != nil {
					logger.Debugf("Periodic checkpoint failed: %v", err)
				}
			}
		}
	}()

	return func() {
		close(stopCh)
	}
}

// RunMaintenance prunes events older than retentionDays, then vacuums and analyzes.
// The shared documents, schedules and activity log are never pruned here.
func (r *Repository) RunMaintenance(retentionDays int) error {
	logger.Infof("Starting database maintenance...")

	if retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		res, err := ExecWithRetry(r.DB, "DELETE FROM events WHERE created_at < ?", cutoff)
		if err != nil {
			logger.Errorf("Failed to prune old events: %v", err)
		} else if deleted, _ := res.RowsAffected(); deleted > 0 {
			logger.Infof("Pruned %d old events", deleted)
		}
	}

	maintenanceOps := []struct {
		name        string
		sql         string
		warnOnError bool
	}{
		{"incremental vacuum", "PRAGMA incremental_vacuum", true},
		{"database analysis", "ANALYZE", true},
		{"WAL checkpoint", "PRAGMA wal_checkpoint(TRUNCATE)", false},
	}
	for _, op := range maintenanceOps {
		if _, err := r.DB.Exec(op.sql); err != nil {
			if op.warnOnError {
				logger.Errorf("Failed to run %s: %v", op.name, err)
			} else {
				logger.Debugf("%s failed (might not be applicable): %v", op.name, err)
			}
			continue
		}
		logger.Debugf("%s completed", op.name)
	}

	logger.Infof("Database maintenance completed")
	return nil
}

// GetDatabaseStats returns size, journal mode and row counts of the main tables.
func (r *Repository) GetDatabaseStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var pageCount, pageSize int64
	if err := r.DB.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to get page_count: %w", err)
	}
	if err := r.DB.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to get page_size: %w", err)
	}
	stats["size_bytes"] = pageCount * pageSize
	stats["driver"] = r.driver

	// Security: table names are hardcoded in this slice, not from user input
	tables := []string{"events", "shared_documents", "timer_schedules", "activity_log"}
	tableCounts := make(map[string]int64)
	for _, table := range tables {
		var count int64
		if err := r.DB.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err == nil { // NOSONAR - table name from hardcoded slice
			tableCounts[table] = count
		}
	}
	stats["table_counts"] = tableCounts

	var journalMode string
	if err := r.DB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return nil, fmt.Errorf("failed to get journal_mode: %w", err)
	}
	stats["journal_mode"] = journalMode

	return stats, nil
}

func (r *Repository) createMigrationsTable() error {
	_, err := r.DB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (r *Repository) getCurrentMigrationVersion() (int, error) {
	var version int
	err := r.DB.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

// getMigrationFiles returns sorted SQL migration files from the embedded filesystem.
func getMigrationFiles() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// parseMigrationVersion extracts the version number from a migration filename.
func parseMigrationVersion(file string) (int, bool) {
	var version int
	if _, err := fmt.Sscanf(file, "%d_", &version); err != nil {
		return 0, false
	}
	return version, true
}

// applyMigration executes a single migration file within a transaction.
func (r *Repository) applyMigration(file string, version int) error {
	content, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", file, err)
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", file, err)
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration version %s: %w", file, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", file, err)
	}
	tx = nil // prevent deferred rollback after successful commit
	return nil
}

func (r *Repository) runMigrations() error {
	if err := r.createMigrationsTable(); err != nil {
		return err
	}

	currentVersion, err := r.getCurrentMigrationVersion()
	if err != nil {
		return err
	}

	migrationFiles, err := getMigrationFiles()
	if err != nil {
		return err
	}

	for _, file := range migrationFiles {
		version, ok := parseMigrationVersion(file)
		if !ok {
			logger.Errorf("Skipping invalid migration file: %s", file)
			continue
		}
		if version <= currentVersion {
			continue
		}

		logger.Infof("Applying migration: %s", file)
		if err := r.applyMigration(file, version); err != nil {
			return err
		}
	}

	return nil
}

// Backup writes a consistent copy of the database next to dbPath using VACUUM INTO
// and keeps the five most recent backups. Returns the backup file path.
func (r *Repository) Backup(dbPath string) (string, error) {
	if err := r.checkIntegrity(); err != nil {
		return "", fmt.Errorf("refusing to backup corrupted database: %w", err)
	}

	backupDir := filepath.Join(filepath.Dir(dbPath), "backups")
	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405.000")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("infinity_%s.db", timestamp))

	// Security: backupPath is server-generated from config + timestamp, not user input
	if _, err := r.DB.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil { // NOSONAR - path is server-generated
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("backup failed: %w", err)
	}

	if err := r.verifyBackupIntegrity(backupPath); err != nil {
		logger.Errorf("Backup verification failed, removing corrupt backup: %v", err)
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("backup verification failed: %w", err)
	}

	logger.Infof("Database backup verified: %s", filepath.Base(backupPath))
	cleanupOldBackups(backupDir, 5)

	return backupPath, nil
}

func (r *Repository) verifyBackupIntegrity(backupPath string) error {
	backupDB, err := sql.Open(r.driver, backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup for verification: %w", err)
	}
	defer backupDB.Close()

	var result string
	if err := backupDB.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("backup integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup integrity check failed: %s", result)
	}
	return nil
}

// cleanupOldBackups removes old backup files, keeping only the most recent 'keep' files
func cleanupOldBackups(backupDir string, keep int) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		logger.Errorf("Failed to read backup directory: %v", err)
		return
	}

	type backupFile struct {
		name    string
		modTime time.Time
	}
	var backups []backupFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backupFile{name: entry.Name(), modTime: info.ModTime()})
	}

	// Newest first; names embed the timestamp so they break ties.
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].name > backups[j].name
		}
		return backups[i].modTime.After(backups[j].modTime)
	})

	for i := keep; i < len(backups); i++ {
		safeName := filepath.Base(backups[i].name)
		if safeName == "." || safeName == ".." || safeName != backups[i].name {
			logger.Warnf("Skipping suspicious backup filename: %s", backups[i].name)
			continue
		}
		path := filepath.Join(backupDir, safeName)
		if err := os.Remove(path); err != nil {
			logger.Errorf("Failed to remove old backup %s: %v", path, err)
		} else {
			logger.Debugf("Removed old backup: %s", safeName)
		}
	}
}
