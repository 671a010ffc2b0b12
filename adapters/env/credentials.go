// Package env resolves live connection credentials from the process
// environment.
package env

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/repositories"
)

// Environment variables consumed by the provider. Only the API key is
// required; endpoint and model fall back to protocol defaults downstream.
const (
	EnvAPIKey   = "GEMINI_API_KEY"
	EnvEndpoint = "SWARA_LIVE_ENDPOINT"
	EnvModel    = "SWARA_MODEL"
)

// ErrNoCredentials is returned when no API key is configured. This is a
// configuration error: sessions must fail fast on it before opening any
// connection.
var ErrNoCredentials = errors.New("no live API key configured, set " + EnvAPIKey)

// CredentialProvider implements repositories.CredentialProvider from
// environment variables.
type CredentialProvider struct {
	logger *zap.Logger
}

var _ repositories.CredentialProvider = (*CredentialProvider)(nil)

// NewCredentialProvider creates the provider.
func NewCredentialProvider(logger *zap.Logger) *CredentialProvider {
	return &CredentialProvider{logger: logger}
}

// Credentials resolves the connection parameters or reports unavailability.
func (p *CredentialProvider) Credentials(_ context.Context) (repositories.Credentials, error) {
	apiKey := os.Getenv(EnvAPIKey)
	if apiKey == "" {
		return repositories.Credentials{}, ErrNoCredentials
	}

	creds := repositories.Credentials{
		APIKey:   apiKey,
		Endpoint: os.Getenv(EnvEndpoint),
		Model:    os.Getenv(EnvModel),
	}
	if creds.Endpoint != "" {
		p.logger.Info("Using custom live endpoint", zap.String("endpoint", creds.Endpoint))
	}
	return creds, nil
}
