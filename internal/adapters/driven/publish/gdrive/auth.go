package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// ErrTokenMissing indicates no authorised token file exists yet.
var ErrTokenMissing = errors.New("drive: token file not found, authorise the application first")

// tokenFile accepts both oauth2.Token JSON and the authorised-user layout
// written by Google's Python client (token, token_uri, expiry).
type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	Token        string    `json:"token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

func (t tokenFile) oauth2Token() *oauth2.Token {
	access := t.AccessToken
	if access == "" {
		access = t.Token
	}
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// LoadToken reads a token file.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTokenMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", path, err)
	}
	tok := tf.oauth2Token()
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds neither an access nor a refresh token", path)
	}
	return tok, nil
}

// SaveToken writes tok to path atomically with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting token permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// TokenSource builds a refreshing token source from an OAuth client file
// and a previously authorised token file. Refreshed tokens are written back.
func TokenSource(ctx context.Context, credentialsFile, tokenFile string) (oauth2.TokenSource, error) {
	cfg, err := OAuthConfig(credentialsFile, "")
	if err != nil {
		return nil, err
	}

	tok, err := LoadToken(tokenFile)
	if err != nil {
		return nil, err
	}

	return &persistingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok.AccessToken,
	}, nil
}

// OAuthConfig reads an OAuth client file for the Drive scope.
// A non-empty redirectURI replaces the one in the file.
func OAuthConfig(credentialsFile, redirectURI string) (*oauth2.Config, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(creds, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	return cfg, nil
}

// persistingTokenSource saves the token whenever the access token changes.
type persistingTokenSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	path string
	last string
}

// Token implements oauth2.TokenSource.
func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if tok.AccessToken != p.last {
		if err := SaveToken(p.path, tok); err != nil {
			logger.Warn("refreshed token not saved", "path", p.path, "error", err)
		} else {
			logger.Debug("refreshed token saved", "path", p.path)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
