package config

import "errors"

// MerchantSettings is the per-merchant delivery configuration: where status
// transitions are relayed and which channels are enabled.
type MerchantSettings struct {
	MerchantID    string   `json:"merchantId"`
	WebhookURL    string   `json:"webhookUrl,omitempty"`
	Events        []string `json:"events,omitempty"`
	Notifications []string `json:"notifications,omitempty"`
}

// ErrSettingsNotFound means the merchant has no stored settings row.
var ErrSettingsNotFound = errors.New("config: merchant settings not found")

// SettingsStorage persists merchant settings. Two backends exist: SQLite for
// single-binary deploys and PostgreSQL for shared deployments.
type SettingsStorage interface {
	SaveMerchantSettings(settings *MerchantSettings) error
	GetMerchantSettings(merchantID string) (*MerchantSettings, error)
	ListMerchants() ([]string, error)
	Close() error
}

// NewSettingsStorage creates the settings storage selected by driver.
func NewSettingsStorage(cfg *AppConfig) (SettingsStorage, error) {
	if cfg.SettingsDriver == "postgres" {
		return NewPostgresSettings(cfg.DatabaseURL)
	}
	return NewSQLiteSettings(cfg.SettingsPath)
}
