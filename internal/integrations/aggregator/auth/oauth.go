package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

const (
	TokenCacheKey = "aggregator:oauth:token"

	expirySkew      = 60 * time.Second
	defaultTokenTTL = 5 * time.Minute
	defaultTimeout  = 10 * time.Second
)

// OAuth exchanges client credentials for an access token and keeps it until
// shortly before it expires. When a shared cache is set, replicas reuse one token.
type OAuth struct {
	creds Credentials
	httpc *http.Client
	cache cache.BytesCache
	now   func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewOAuth(creds Credentials, c cache.BytesCache) *OAuth {
	timeout := creds.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	return &OAuth{
		creds: creds,
		httpc: &http.Client{Timeout: timeout},
		cache: c,
		now:   time.Now,
	}
}

func (o *OAuth) AuthHeaders(ctx context.Context) (http.Header, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token != "" && o.now().Before(o.expires) {
		return bearer(o.token), nil
	}
	if tok, ok := o.fromCache(ctx); ok {
		return bearer(tok), nil
	}
	if err := o.exchangeLocked(ctx); err != nil {
		return nil, err
	}
	return bearer(o.token), nil
}

// Refresh drops the held token and exchanges credentials again.
func (o *OAuth) Refresh(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.token = ""
	return o.exchangeLocked(ctx)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (o *OAuth) exchangeLocked(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"client_id":     o.creds.ClientID,
		"client_secret": o.creds.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return shiperr.Auth("marshal token request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.creds.BaseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return shiperr.Auth("build token request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpc.Do(req)
	if err != nil {
		return shiperr.Auth("token exchange failed", errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return shiperr.Auth("token exchange failed", errors.Errorf("http %d: %s", resp.StatusCode, raw))
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return shiperr.Auth("decode token response", err)
	}
	if tr.AccessToken == "" {
		return shiperr.Auth("token response has no access_token", nil)
	}

	ttl := defaultTokenTTL
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn)*time.Second - expirySkew
		if ttl <= 0 {
			ttl = time.Duration(tr.ExpiresIn) * time.Second / 2
		}
	}
	o.token = tr.AccessToken
	o.expires = o.now().Add(ttl)
	o.toCache(ctx, ttl)

	slog.Info("aggregator token exchanged", "ttl", ttl.String())
	return nil
}

func (o *OAuth) fromCache(ctx context.Context) (string, bool) {
	if o.cache == nil {
		return "", false
	}
	b, ok, err := o.cache.Get(ctx, TokenCacheKey)
	if err != nil {
		slog.Warn("token cache get failed", "err", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	var ct cachedToken
	if json.Unmarshal(b, &ct) != nil || ct.Token == "" || !o.now().Before(ct.ExpiresAt) {
		return "", false
	}
	o.token, o.expires = ct.Token, ct.ExpiresAt
	return ct.Token, true
}

func (o *OAuth) toCache(ctx context.Context, ttl time.Duration) {
	if o.cache == nil {
		return
	}
	b, _ := json.Marshal(cachedToken{Token: o.token, ExpiresAt: o.expires})
	if err := o.cache.Set(ctx, TokenCacheKey, b, ttl); err != nil {
		slog.Warn("token cache set failed", "err", err)
	}
}
