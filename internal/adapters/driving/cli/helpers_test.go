package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
)

// mockSettingsService implements driving.SettingsService for testing.
type mockSettingsService struct {
	settings domain.Settings
	getErr   error
	setErr   error
	saved    map[string]any
}

func newMockSettings() *mockSettingsService {
	s := domain.DefaultSettings()
	s.Source.DSN = "postgres://etl:secret@db/erp"
	return &mockSettingsService{settings: s, saved: make(map[string]any)}
}

func (m *mockSettingsService) Get() (*domain.Settings, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Set(key string, value any) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.saved[key] = value
	return nil
}

func (m *mockSettingsService) GetDefaults() domain.Settings { return domain.DefaultSettings() }

func (m *mockSettingsService) ConfigPath() string { return "/tmp/invoice-etl/config.toml" }

// mockCoordinator implements driving.RunCoordinator for testing.
type mockCoordinator struct {
	summary *domain.RunSummary
	err     error
	req     driving.RunRequest
	calls   int
}

func (m *mockCoordinator) Run(_ context.Context, req driving.RunRequest) (*domain.RunSummary, error) {
	m.calls++
	m.req = req
	return m.summary, m.err
}

func (m *mockCoordinator) Status() driving.RunStatus { return driving.RunStatus{} }

// mockRecords implements driving.RecordService for testing.
type mockRecords struct {
	records []domain.PublishRecord
	limit   int
}

func (m *mockRecords) List(_ context.Context, limit int) ([]domain.PublishRecord, error) {
	m.limit = limit
	return m.records, nil
}

func (m *mockRecords) Get(_ context.Context, id string) (*domain.PublishRecord, error) {
	for i := range m.records {
		if m.records[i].InvoiceID == id {
			return &m.records[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

// mockHealth implements driving.HealthChecker for testing.
type mockHealth struct {
	results map[string]error
}

func (m *mockHealth) Check(_ context.Context) map[string]error { return m.results }

// testEnv captures what the builders received.
type testEnv struct {
	settings    *mockSettingsService
	coordinator *mockCoordinator
	records     *mockRecords
	health      *mockHealth
	runSettings *domain.Settings
	released    int
	authPort    int
	opened      []string
}

// setupCLITest installs mocks and resets flags until the test ends.
func setupCLITest(t *testing.T) (*testEnv, *bytes.Buffer) {
	t.Helper()

	env := &testEnv{
		settings:    newMockSettings(),
		coordinator: &mockCoordinator{summary: &domain.RunSummary{RunID: "run-1"}},
		records:     &mockRecords{},
		health:      &mockHealth{results: map[string]error{}},
	}
	release := func() { env.released++ }

	old := deps
	SetDependencies(Dependencies{
		Settings: func(string) (driving.SettingsService, error) { return env.settings, nil },
		Coordinator: func(_ context.Context, s *domain.Settings) (driving.RunCoordinator, func(), error) {
			env.runSettings = s
			return env.coordinator, release, nil
		},
		Records: func(context.Context, *domain.Settings) (driving.RecordService, func(), error) {
			return env.records, release, nil
		},
		Health: func(context.Context, *domain.Settings) (driving.HealthChecker, func(), error) {
			return env.health, release, nil
		},
		Authorize: func(_ context.Context, s *domain.Settings, port int, show func(string)) (string, error) {
			env.authPort = port
			show("https://accounts.example/auth?state=x")
			return s.Drive.TokenFile, nil
		},
	})
	oldOpen := openBrowser
	openBrowser = func(u string) error {
		env.opened = append(env.opened, u)
		return nil
	}
	oldInterval := progressInterval
	progressInterval = time.Millisecond

	resetFlags()
	envFile = ""

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	t.Cleanup(func() {
		deps = old
		openBrowser = oldOpen
		progressInterval = oldInterval
		resetFlags()
		envFile = ".env"
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	return env, buf
}

func resetFlags() {
	runFrom, runTo, runIDs = "", "", nil
	runDryRun, runStrict = false, false
	runWorkers, runMode = 0, ""
	recordsLimit = 20
	configDir, verbose = "", false
	authorizePort, authorizeNoBrowser = 0, false

	unchanged := func(f *pflag.Flag) { f.Changed = false }
	runCmd.Flags().VisitAll(unchanged)
	recordsCmd.Flags().VisitAll(unchanged)
	authorizeCmd.Flags().VisitAll(unchanged)
	rootCmd.PersistentFlags().VisitAll(unchanged)
}

// runCLI executes args and returns the exit code.
func runCLI(args ...string) int {
	rootCmd.SetArgs(args)
	var stderr bytes.Buffer
	code := execute(context.Background(), &stderr)
	if out, ok := rootCmd.OutOrStdout().(*bytes.Buffer); ok {
		out.Write(stderr.Bytes())
	}
	return code
}

var errBoom = errors.New("boom")
