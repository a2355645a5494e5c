//nolint:noctx // Test file uses http.Get for convenience; context not required in tests
package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/publish/gdrive"
)

func TestAuthorizeDrive(t *testing.T) {
	forms := make(chan url.Values, 1)
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		select {
		case forms <- r.PostForm:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer tokenSrv.Close()

	dir := t.TempDir()
	s := testSettings(t)
	s.Drive.CredentialsFile = filepath.Join(dir, "credentials.json")
	s.Drive.TokenFile = filepath.Join(dir, "token.json")
	creds := strings.Replace(testCredentials, "https://oauth2.googleapis.com/token", tokenSrv.URL, 1)
	require.NoError(t, os.WriteFile(s.Drive.CredentialsFile, []byte(creds), 0600))

	var authURL *url.URL
	show := func(raw string) {
		var err error
		authURL, err = url.Parse(raw)
		require.NoError(t, err)

		q := authURL.Query()
		resp, err := http.Get(q.Get("redirect_uri") + "?" + url.Values{
			"state": {q.Get("state")},
			"code":  {"auth-code"},
		}.Encode())
		require.NoError(t, err)
		resp.Body.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path, err := AuthorizeDrive(ctx, s, 0, show)
	require.NoError(t, err)
	assert.Equal(t, s.Drive.TokenFile, path)

	q := authURL.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	form := <-forms
	assert.Equal(t, "auth-code", form.Get("code"))
	assert.NotEmpty(t, form.Get("code_verifier"))

	tok, err := gdrive.LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
}

func TestAuthorizeDrive_MissingCredentials(t *testing.T) {
	s := testSettings(t)
	s.Drive.CredentialsFile = filepath.Join(t.TempDir(), "absent.json")

	_, err := AuthorizeDrive(context.Background(), s, 0, func(string) {
		t.Fatal("consent URL shown without credentials")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading credentials file")
}
