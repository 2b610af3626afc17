// Package grpc carries socialauth session credentials over gRPC metadata and
// validates them in server interceptors.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	sa "github.com/panyam/socialauth"
)

// DefaultMetadataKeyAuthorization is the metadata key holding "Bearer <token>".
const DefaultMetadataKeyAuthorization = "authorization"

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{MetadataKeyAuthorization: DefaultMetadataKeyAuthorization}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

// TokenFromContext returns the bearer token from incoming metadata, or "".
func TokenFromContext(ctx context.Context) string {
	return TokenFromContextWithConfig(ctx, nil)
}

// TokenFromContextWithConfig is TokenFromContext with a custom metadata key.
func TokenFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyAuthorization)
	if len(values) == 0 {
		return ""
	}
	scheme, token, found := strings.Cut(values[0], " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenToOutgoingContext attaches token to outgoing gRPC metadata.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// AccountFromContext returns the account the interceptor authenticated, or nil.
func AccountFromContext(ctx context.Context) *sa.Account {
	return sa.AccountFromContext(ctx)
}

// IsAuthenticated returns true if the interceptor authenticated the call.
func IsAuthenticated(ctx context.Context) bool {
	return AccountFromContext(ctx) != nil
}

// BearerCredentials sends a session credential on every call. Use it with
// grpc.WithPerRPCCredentials.
type BearerCredentials struct {
	Token string

	// AllowInsecure permits sending the token over plaintext connections.
	AllowInsecure bool
}

func (c BearerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{DefaultMetadataKeyAuthorization: "Bearer " + c.Token}, nil
}

func (c BearerCredentials) RequireTransportSecurity() bool {
	return !c.AllowInsecure
}

var _ credentials.PerRPCCredentials = BearerCredentials{}
