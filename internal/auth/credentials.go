package auth

import (
	"context"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// PerRPCCredentials attaches a bearer token to every outgoing RPC. A failed
// fetch fails only the RPC being attempted.
type PerRPCCredentials struct {
	Tokens TokenSource
	// AllowInsecure permits plaintext channels, for local testing only.
	AllowInsecure bool
}

var _ credentials.PerRPCCredentials = PerRPCCredentials{}

func (c PerRPCCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	tok, err := c.Tokens.GetValidToken(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "auth").Msg("failed to fetch access token")
		return nil, status.Errorf(codes.Unauthenticated, "failed to fetch access token: %v", err)
	}
	return map[string]string{"authorization": "Bearer " + tok}, nil
}

func (c PerRPCCredentials) RequireTransportSecurity() bool { return !c.AllowInsecure }
