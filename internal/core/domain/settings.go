package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaxRateFormat describes how the source expresses a line's tax rate.
type TaxRateFormat string

const (
	// TaxRateFraction means 0.21 for 21%.
	TaxRateFraction TaxRateFormat = "rate"
	// TaxRateFactor means 1.21 for 21%.
	TaxRateFactor TaxRateFormat = "factor"
)

// StoreBackend selects the DocumentStore implementation.
type StoreBackend string

const (
	// StoreDrive publishes to a Google Drive folder.
	StoreDrive StoreBackend = "drive"
	// StoreS3 publishes to an S3-compatible bucket.
	StoreS3 StoreBackend = "s3"
)

// NamePlaceholder is replaced by the invoice id in Store.NameTemplate.
const NamePlaceholder = "{id}"

// Settings is the resolved application configuration.
type Settings struct {
	Source  SourceSettings
	Store   StoreSettings
	Drive   DriveSettings
	S3      S3Settings
	Records RecordSettings
	Run     RunSettings
	Log     LogSettings
}

// SourceSettings configures the row fetcher.
type SourceSettings struct {
	DSN           string
	Query         string
	TaxRateFormat TaxRateFormat
	Timeout       time.Duration
}

// StoreSettings configures the document store.
type StoreSettings struct {
	Backend      StoreBackend
	NameTemplate string
}

// DriveSettings configures the Google Drive backend.
type DriveSettings struct {
	// Folder is a slash separated folder path, created if missing.
	Folder            string
	CredentialsFile   string
	TokenFile         string
	RequestsPerSecond float64
	Burst             int
}

// S3Settings configures the S3-compatible backend.
type S3Settings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// RecordSettings configures the publish record store.
type RecordSettings struct {
	// Dir holds records.db. Empty means ~/.invoice-etl/data.
	Dir string
}

// RunSettings configures the run coordinator.
type RunSettings struct {
	Mode           RunMode
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PublishTimeout time.Duration
	Strict         bool
}

// LogSettings configures process logging.
type LogSettings struct {
	Level  string
	Format string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Source: SourceSettings{
			TaxRateFormat: TaxRateFraction,
			Timeout:       5 * time.Minute,
		},
		Store: StoreSettings{
			Backend:      StoreDrive,
			NameTemplate: "factura_{id}.json",
		},
		Drive: DriveSettings{
			Folder:            "facturas",
			CredentialsFile:   "credentials.json",
			TokenFile:         "token.json",
			RequestsPerSecond: 8.0,
			Burst:             10,
		},
		S3: S3Settings{
			UseSSL: true,
		},
		Run: RunSettings{
			Mode:           RunModeExclusive,
			Workers:        1,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			PublishTimeout: 2 * time.Minute,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the settings can drive a run.
func (s *Settings) Validate() error {
	var errs []error

	if s.Source.DSN == "" {
		errs = append(errs, errors.New("source.dsn is required"))
	}
	if s.Source.TaxRateFormat != TaxRateFraction && s.Source.TaxRateFormat != TaxRateFactor {
		errs = append(errs, fmt.Errorf("source.tax_rate_format %q must be %q or %q",
			s.Source.TaxRateFormat, TaxRateFraction, TaxRateFactor))
	}
	if !strings.Contains(s.Store.NameTemplate, NamePlaceholder) {
		errs = append(errs, fmt.Errorf("store.name_template must contain %s", NamePlaceholder))
	}

	switch s.Store.Backend {
	case StoreDrive:
		if s.Drive.Folder == "" {
			errs = append(errs, errors.New("drive.folder is required"))
		}
		if s.Drive.TokenFile == "" {
			errs = append(errs, errors.New("drive.token_file is required"))
		}
	case StoreS3:
		if s.S3.Endpoint == "" || s.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.endpoint and s3.bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not supported", s.Store.Backend))
	}

	if !s.Run.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("run.mode %q must be %q or %q",
			s.Run.Mode, RunModeExclusive, RunModeAtLeastOnce))
	}
	if s.Run.Workers < 1 {
		errs = append(errs, errors.New("run.workers must be at least 1"))
	}
	if s.Run.MaxAttempts < 1 {
		errs = append(errs, errors.New("run.max_attempts must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// ObjectName returns the document name for an invoice id.
func (s *StoreSettings) ObjectName(invoiceID string) string {
	return strings.ReplaceAll(s.NameTemplate, NamePlaceholder, invoiceID)
}
