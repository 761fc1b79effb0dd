package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSettings stores merchant settings in a local SQLite file. Used by
// single-binary deployments that do not want to share the payment database.
type SQLiteSettings struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteSettings creates a new SQLite settings storage
func NewSQLiteSettings(dbPath string) (*SQLiteSettings, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// WAL keeps concurrent readers cheap; the busy timeout covers the
	// occasional writer overlap between request handlers and the watcher.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_timeout=20000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	storage := &SQLiteSettings{db: db, path: dbPath}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteSettings) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS merchant_settings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		merchant_id TEXT NOT NULL UNIQUE,
		settings_data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_merchant_settings ON merchant_settings(merchant_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// retryOperation executes a database operation with retry logic for SQLITE_BUSY errors
func (s *SQLiteSettings) retryOperation(operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked") {
			lastErr = err
			if attempt < maxRetries {
				backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
				time.Sleep(backoff)
				continue
			}
		} else {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

// SaveMerchantSettings inserts or updates a merchant's settings
func (s *SQLiteSettings) SaveMerchantSettings(settings *MerchantSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO merchant_settings (merchant_id, settings_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(merchant_id)
		DO UPDATE SET settings_data = excluded.settings_data, updated_at = CURRENT_TIMESTAMP
	`

	return s.retryOperation(func() error {
		_, err := s.db.Exec(query, settings.MerchantID, string(data))
		return err
	}, 4)
}

// GetMerchantSettings loads a merchant's settings
func (s *SQLiteSettings) GetMerchantSettings(merchantID string) (*MerchantSettings, error) {
	var data string
	err := s.db.QueryRow(
		"SELECT settings_data FROM merchant_settings WHERE merchant_id = ?", merchantID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var settings MerchantSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	return &settings, nil
}

// ListMerchants returns all merchant ids with stored settings
func (s *SQLiteSettings) ListMerchants() ([]string, error) {
	rows, err := s.db.Query("SELECT merchant_id FROM merchant_settings ORDER BY merchant_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteSettings) Close() error {
	return s.db.Close()
}
