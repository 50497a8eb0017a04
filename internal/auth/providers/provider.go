// Package providers implements pluggable CI authentication methods for
// the Jenkins-style CI client: a registry keyed by a declared AuthType,
// selected at startup from settings.
package providers

import (
	"fmt"
	"net/http"
)

// AuthType names a supported authentication method.
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeBasic AuthType = "basic"
)

// AuthConfig is the raw, untyped configuration handed to a provider.
type AuthConfig struct {
	Type     AuthType
	Username string
	Password string
}

// AuthMethod mutates an outgoing HTTP request to add credentials. There is
// no git transport in this domain, so, unlike the teacher's go-git-backed
// AuthMethod, this is a plain *http.Request mutator.
type AuthMethod interface {
	Apply(req *http.Request)
}

// AuthProvider handles one authentication method.
type AuthProvider interface {
	// Type returns the authentication type this provider handles.
	Type() AuthType

	// CreateAuth creates an AuthMethod from the given configuration.
	// Returns nil, nil for no authentication (AuthTypeNone).
	CreateAuth(authCfg *AuthConfig) (AuthMethod, error)

	// ValidateConfig validates the authentication configuration for this provider.
	ValidateConfig(authCfg *AuthConfig) error

	// Name returns a human-readable name for this provider (for logging/debugging).
	Name() string
}

// ProviderResult wraps the result of authentication creation with metadata.
type ProviderResult struct {
	Auth     AuthMethod
	Provider string
	Type     AuthType
}

// AuthProviderRegistry manages the collection of available auth providers.
type AuthProviderRegistry struct {
	providers map[AuthType]AuthProvider
}

// NewAuthProviderRegistry creates a new registry with the standard providers.
func NewAuthProviderRegistry() *AuthProviderRegistry {
	registry := &AuthProviderRegistry{
		providers: make(map[AuthType]AuthProvider),
	}
	registry.Register(NewNoneProvider())
	registry.Register(NewBasicProvider())
	return registry
}

// Register adds a provider to the registry.
func (r *AuthProviderRegistry) Register(provider AuthProvider) {
	r.providers[provider.Type()] = provider
}

// GetProvider returns the provider for the given auth type.
func (r *AuthProviderRegistry) GetProvider(authType AuthType) (AuthProvider, bool) {
	provider, exists := r.providers[authType]
	return provider, exists
}

// CreateAuth creates authentication using the appropriate provider.
func (r *AuthProviderRegistry) CreateAuth(authCfg *AuthConfig) (*ProviderResult, error) {
	if authCfg == nil {
		authCfg = &AuthConfig{Type: AuthTypeNone}
	}

	provider, exists := r.GetProvider(authCfg.Type)
	if !exists {
		return nil, &AuthError{Type: authCfg.Type, Message: "unsupported authentication type"}
	}
	if err := provider.ValidateConfig(authCfg); err != nil {
		return nil, &AuthError{Type: authCfg.Type, Message: "configuration validation failed", Cause: err}
	}
	auth, err := provider.CreateAuth(authCfg)
	if err != nil {
		return nil, &AuthError{Type: authCfg.Type, Message: "failed to create authentication", Cause: err}
	}
	return &ProviderResult{Auth: auth, Provider: provider.Name(), Type: provider.Type()}, nil
}

// AuthError represents an authentication-related error.
type AuthError struct {
	Type    AuthType
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Type, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Cause }
