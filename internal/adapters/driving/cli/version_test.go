package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionCmd_Use(t *testing.T) {
	assert.Equal(t, "version", versionCmd.Use)
}

func TestVersionCmd_Short(t *testing.T) {
	assert.Equal(t, "Print the version number", versionCmd.Short)
}

func TestVersionCmd_Executes(t *testing.T) {
	_, buf := setupCLITest(t)

	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	assert.Equal(t, ExitOK, runCLI("version"))
	assert.Contains(t, buf.String(), "invoice-etl version test-version-1.0.0")
}

func TestVersionCmd_DisplaysDevByDefault(t *testing.T) {
	_, buf := setupCLITest(t)

	assert.Equal(t, ExitOK, runCLI("version"))
	assert.Contains(t, buf.String(), "invoice-etl version dev")
}

func TestVersionCmd_NeedsNoSettings(t *testing.T) {
	_, buf := setupCLITest(t)
	deps.Settings = nil

	assert.Equal(t, ExitOK, runCLI("version"))
	assert.Contains(t, buf.String(), "invoice-etl version")
}
