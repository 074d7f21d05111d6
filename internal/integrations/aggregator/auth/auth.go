// Package auth resolves the Authorization header for the aggregator API.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/shiperr"
)

type Provider interface {
	AuthHeaders(ctx context.Context) (http.Header, error)
}

// Refresher is implemented by providers that hold an exchanged token.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Credentials struct {
	BaseURL      string
	Token        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// New picks the provider for creds: a static token wins over a client id/secret
// pair. With neither configured every call fails with an auth error. c may be nil.
func New(creds Credentials, c cache.BytesCache) Provider {
	switch {
	case creds.Token != "":
		return Static(creds.Token)
	case creds.ClientID != "" && creds.ClientSecret != "":
		return NewOAuth(creds, c)
	default:
		return missing{}
	}
}

type Static string

func (s Static) AuthHeaders(context.Context) (http.Header, error) {
	return bearer(string(s)), nil
}

type missing struct{}

func (missing) AuthHeaders(context.Context) (http.Header, error) {
	return nil, shiperr.Auth("aggregator credentials are not configured: set a token or client id and secret", nil)
}

func bearer(token string) http.Header {
	h := make(http.Header, 1)
	h.Set("Authorization", "Bearer "+token)
	return h
}
