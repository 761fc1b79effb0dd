package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSettings stores merchant settings in PostgreSQL, sharing the
// payment database in multi-replica deployments.
type PostgresSettings struct {
	db *sql.DB
	mu sync.Mutex
}

// NewPostgresSettings creates a new PostgreSQL settings storage
func NewPostgresSettings(dbURL string) (*PostgresSettings, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &PostgresSettings{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresSettings) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS merchant_settings (
		id SERIAL PRIMARY KEY,
		merchant_id TEXT NOT NULL UNIQUE,
		settings_data TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)`

	_, err := s.db.Exec(query)
	return err
}

// SaveMerchantSettings inserts or updates a merchant's settings
func (s *PostgresSettings) SaveMerchantSettings(settings *MerchantSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO merchant_settings (merchant_id, settings_data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (merchant_id)
		DO UPDATE SET settings_data = EXCLUDED.settings_data, updated_at = NOW()
	`

	if _, err := s.db.Exec(query, settings.MerchantID, string(data)); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}

// GetMerchantSettings loads a merchant's settings
func (s *PostgresSettings) GetMerchantSettings(merchantID string) (*MerchantSettings, error) {
	var data string
	err := s.db.QueryRow(
		"SELECT settings_data FROM merchant_settings WHERE merchant_id = $1", merchantID,
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
func (s *PostgresSettings) ListMerchants() ([]string, error) {
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
func (s *PostgresSettings) Close() error {
	return s.db.Close()
}
