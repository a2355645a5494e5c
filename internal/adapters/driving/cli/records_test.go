package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

func TestRecordsCmd_Use(t *testing.T) {
	assert.Equal(t, "records [invoice-id]", recordsCmd.Use)
	assert.Equal(t, "Show publish records", recordsCmd.Short)
}

func TestRecordsCmd_List(t *testing.T) {
	env, buf := setupCLITest(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	env.records.records = []domain.PublishRecord{
		{InvoiceID: "8", PublishedAt: at, Location: "file-8"},
		{InvoiceID: "7", PublishedAt: at.Add(-time.Hour), Location: "file-7"},
	}

	code := runCLI("records", "--limit", "5")

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, 5, env.records.limit)
	assert.Contains(t, buf.String(), "file-8")
	assert.Contains(t, buf.String(), "file-7")
	assert.Contains(t, buf.String(), "Total: 2 records")
	assert.Equal(t, 1, env.released)
}

func TestRecordsCmd_DefaultLimit(t *testing.T) {
	env, buf := setupCLITest(t)

	assert.Equal(t, ExitOK, runCLI("records"))
	assert.Equal(t, 20, env.records.limit)
	assert.Contains(t, buf.String(), "No invoices published yet.")
}

func TestRecordsCmd_Get(t *testing.T) {
	env, buf := setupCLITest(t)
	env.records.records = []domain.PublishRecord{{
		InvoiceID:   "7",
		Status:      domain.PublishStatusPublished,
		PublishedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Location:    "file-7",
		Checksum:    "abc123",
		RunID:       "run-9",
	}}

	assert.Equal(t, ExitOK, runCLI("records", "7"))
	out := buf.String()
	assert.Contains(t, out, "Invoice:   7")
	assert.Contains(t, out, "Status:    published")
	assert.Contains(t, out, "Checksum:  abc123")
	assert.Contains(t, out, "Run:       run-9")
}

func TestRecordsCmd_GetMissing(t *testing.T) {
	_, buf := setupCLITest(t)

	assert.Equal(t, ExitOK, runCLI("records", "99"))
	assert.Contains(t, buf.String(), "Invoice 99 has not been published.")
}

func TestRecordsCmd_NotConfigured(t *testing.T) {
	_, buf := setupCLITest(t)
	deps.Records = nil

	assert.Equal(t, 1, runCLI("records"))
	assert.Contains(t, buf.String(), "record service not configured")
}
