package driving

import "github.com/custodia-labs/invoice-etl/internal/core/domain"

// SettingsService resolves application settings.
type SettingsService interface {
	// Get resolves settings from defaults, the config file and the environment.
	Get() (*domain.Settings, error)

	// Set persists a single configuration key to the config file.
	Set(key string, value any) error

	// GetDefaults returns default settings.
	GetDefaults() domain.Settings

	// ConfigPath returns the path of the config file in use.
	ConfigPath() string
}
