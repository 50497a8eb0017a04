// Package auth wires up CI authentication (via providers) and the
// ApiKey-based mutation-auth check described in spec.md section 6/7.
package auth

import (
	"net/http"

	"github.com/enku/gbp/internal/auth/providers"
)

// Manager provides a high-level interface for CI authentication.
type Manager struct {
	registry *providers.AuthProviderRegistry
}

// NewManager creates a new authentication manager with the standard providers.
func NewManager() *Manager {
	return &Manager{registry: providers.NewAuthProviderRegistry()}
}

// FromSettings builds the AuthConfig the CI client needs: basic auth when
// both a user and API key are configured, none otherwise.
func FromSettings(jenkinsUser, jenkinsAPIKey string) *providers.AuthConfig {
	if jenkinsUser == "" || jenkinsAPIKey == "" {
		return &providers.AuthConfig{Type: providers.AuthTypeNone}
	}
	return &providers.AuthConfig{Type: providers.AuthTypeBasic, Username: jenkinsUser, Password: jenkinsAPIKey}
}

// CreateAuth creates authentication for the given configuration.
func (m *Manager) CreateAuth(authCfg *providers.AuthConfig) (providers.AuthMethod, error) {
	result, err := m.registry.CreateAuth(authCfg)
	if err != nil {
		return nil, err
	}
	return result.Auth, nil
}

// Apply is a convenience that creates and immediately applies the
// configured auth method to req; a nil method (AuthTypeNone) is a no-op.
func (m *Manager) Apply(authCfg *providers.AuthConfig, req *http.Request) error {
	method, err := m.CreateAuth(authCfg)
	if err != nil {
		return err
	}
	if method != nil {
		method.Apply(req)
	}
	return nil
}
