package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/publish/gdrive"
	"github.com/custodia-labs/invoice-etl/internal/adapters/driving/oauth"
	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// authorizeTimeout bounds the wait for the user to complete consent.
const authorizeTimeout = 5 * time.Minute

// AuthorizeDrive runs the installed-app consent flow and writes the token
// file named in settings. show receives the consent URL.
func AuthorizeDrive(ctx context.Context, s *domain.Settings, port int, show func(authURL string)) (string, error) {
	state, err := oauth.NewState()
	if err != nil {
		return "", err
	}

	server := oauth.NewCallbackServer(port, state)
	if err := server.Start(); err != nil {
		return "", err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Debug("stopping callback server", "error", err)
		}
	}()

	cfg, err := gdrive.OAuthConfig(s.Drive.CredentialsFile, server.RedirectURI())
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	show(cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier)))

	code, err := server.WaitForCode(ctx, authorizeTimeout)
	if err != nil {
		return "", err
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", fmt.Errorf("exchanging authorisation code: %w", err)
	}
	if err := gdrive.SaveToken(s.Drive.TokenFile, tok); err != nil {
		return "", fmt.Errorf("saving token: %w", err)
	}
	logger.Info("drive token saved", "path", s.Drive.TokenFile)
	return s.Drive.TokenFile, nil
}
