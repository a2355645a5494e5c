package services

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// EnvPrefix prefixes every environment override, e.g. INVOICE_ETL_RUN_WORKERS.
const EnvPrefix = "INVOICE_ETL_"

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keySourceDSN         = "source.dsn"
	keySourceQuery       = "source.query"
	keySourceTaxFormat   = "source.tax_rate_format"
	keySourceTimeout     = "source.timeout"
	keyStoreBackend      = "store.backend"
	keyStoreNameTemplate = "store.name_template"
	keyDriveFolder       = "drive.folder"
	keyDriveCredentials  = "drive.credentials_file"
	keyDriveToken        = "drive.token_file"
	keyDriveRPS          = "drive.requests_per_second"
	keyDriveBurst        = "drive.burst"
	keyS3Endpoint        = "s3.endpoint"
	keyS3AccessKey       = "s3.access_key"
	keyS3SecretKey       = "s3.secret_key"
	keyS3Bucket          = "s3.bucket"
	keyS3Prefix          = "s3.prefix"
	keyS3UseSSL          = "s3.use_ssl"
	keyRecordsDir        = "records.dir"
	keyRunMode           = "run.mode"
	keyRunWorkers        = "run.workers"
	keyRunMaxAttempts    = "run.max_attempts"
	keyRunInitialBackoff = "run.initial_backoff"
	keyRunMaxBackoff     = "run.max_backoff"
	keyRunPublishTimeout = "run.publish_timeout"
	keyRunStrict         = "run.strict"
	keyLogLevel          = "log.level"
	keyLogFormat         = "log.format"
)

// SettingsService resolves settings from defaults, the config store and
// the environment, in increasing order of precedence.
type SettingsService struct {
	configStore driven.ConfigStore
	getenv      func(string) string
}

// NewSettingsService creates a new settings service reading the process environment.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		getenv:      os.Getenv,
	}
}

// Get resolves current application settings. The result is not validated;
// call Validate on it before starting a run.
func (s *SettingsService) Get() (*domain.Settings, error) {
	set := domain.DefaultSettings()
	r := &resolver{lookup: s.lookup}

	r.str(keySourceDSN, &set.Source.DSN)
	if set.Source.DSN == "" {
		set.Source.DSN = s.getenv("DATABASE_URL")
	}
	r.str(keySourceQuery, &set.Source.Query)
	r.str(keySourceTaxFormat, (*string)(&set.Source.TaxRateFormat))
	r.duration(keySourceTimeout, &set.Source.Timeout)

	r.str(keyStoreBackend, (*string)(&set.Store.Backend))
	r.str(keyStoreNameTemplate, &set.Store.NameTemplate)

	r.str(keyDriveFolder, &set.Drive.Folder)
	r.str(keyDriveCredentials, &set.Drive.CredentialsFile)
	r.str(keyDriveToken, &set.Drive.TokenFile)
	r.float(keyDriveRPS, &set.Drive.RequestsPerSecond)
	r.integer(keyDriveBurst, &set.Drive.Burst)

	r.str(keyS3Endpoint, &set.S3.Endpoint)
	r.str(keyS3AccessKey, &set.S3.AccessKey)
	r.str(keyS3SecretKey, &set.S3.SecretKey)
	r.str(keyS3Bucket, &set.S3.Bucket)
	r.str(keyS3Prefix, &set.S3.Prefix)
	r.boolean(keyS3UseSSL, &set.S3.UseSSL)

	r.str(keyRecordsDir, &set.Records.Dir)

	r.str(keyRunMode, (*string)(&set.Run.Mode))
	r.integer(keyRunWorkers, &set.Run.Workers)
	r.integer(keyRunMaxAttempts, &set.Run.MaxAttempts)
	r.duration(keyRunInitialBackoff, &set.Run.InitialBackoff)
	r.duration(keyRunMaxBackoff, &set.Run.MaxBackoff)
	r.duration(keyRunPublishTimeout, &set.Run.PublishTimeout)
	r.boolean(keyRunStrict, &set.Run.Strict)

	r.str(keyLogLevel, &set.Log.Level)
	r.str(keyLogFormat, &set.Log.Format)

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(r.errs...))
	}
	return &set, nil
}

// Set persists a single configuration key.
func (s *SettingsService) Set(key string, value any) error {
	if s.configStore == nil {
		return errors.New("config store not configured")
	}
	return s.configStore.Set(key, value)
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

// ConfigPath returns the path of the config file in use.
func (s *SettingsService) ConfigPath() string {
	if s.configStore == nil {
		return ""
	}
	return s.configStore.Path()
}

// lookup returns the raw value for key: environment first, then config file.
func (s *SettingsService) lookup(key string) (string, bool) {
	if v := s.getenv(EnvName(key)); v != "" {
		return v, true
	}
	if s.configStore == nil {
		return "", false
	}
	val, ok := s.configStore.Get(key)
	if !ok || val == nil {
		return "", false
	}
	return fmt.Sprint(val), true
}

// EnvName maps a config key to its environment override.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// resolver applies raw values onto typed fields, collecting parse errors.
type resolver struct {
	lookup func(key string) (string, bool)
	errs   []error
}

func (r *resolver) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = v
	}
}

func (r *resolver) integer(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: expected an integer, got %q", key, v))
		return
	}
	*dst = n
}

func (r *resolver) float(key string, dst *float64) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: expected a number, got %q", key, v))
		return
	}
	*dst = f
}

func (r *resolver) boolean(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: expected true or false, got %q", key, v))
		return
	}
	*dst = b
}

func (r *resolver) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: expected a duration like 30s, got %q", key, v))
		return
	}
	*dst = d
}
