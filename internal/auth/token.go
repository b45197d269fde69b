// Package auth obtains the bearer token the signaling API requires and
// attaches it to outgoing gRPC calls.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenURL     = "https://id.wgtwo.com/oauth2/token"
	DefaultScope        = "call.control.answer_and_initiate"
	DefaultSafetyMargin = time.Minute
	defaultHTTPTimeout  = 10 * time.Second
)

var (
	ErrTokenFetch        = errors.New("token fetch failed")
	ErrMalformedResponse = errors.New("invalid token response structure")
)

// TokenFetchError wraps the transport, HTTP or decoding failure of one fetch.
type TokenFetchError struct {
	Err error
}

func (e *TokenFetchError) Error() string { return "token fetch failed: " + e.Err.Error() }

func (e *TokenFetchError) Unwrap() error { return e.Err }

func (e *TokenFetchError) Is(target error) bool { return target == ErrTokenFetch }

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scope        string
	// SafetyMargin is subtracted from expires_in so the token is renewed early.
	SafetyMargin time.Duration
	HTTPClient   *http.Client
	Now          func() time.Time
}

// TokenProvider caches a client-credentials token and fetches a new one once
// the cached token is inside its safety margin. Concurrent callers during a
// refresh share a single in-flight fetch.
type TokenProvider struct {
	cfg   Config
	basic string

	mu     sync.RWMutex
	token  string
	expiry time.Time

	flight singleflight.Group
}

func NewTokenProvider(cfg Config) *TokenProvider {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenProvider{
		cfg:   cfg,
		basic: base64.StdEncoding.EncodeToString([]byte(cfg.ClientID + ":" + cfg.ClientSecret)),
	}
}

func (p *TokenProvider) cached() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" || !p.cfg.Now().Before(p.expiry) {
		return "", false
	}
	return p.token, true
}

// GetValidToken returns the cached token or synchronously fetches a new one.
// The shared fetch is detached from any one caller's cancellation and is
// bounded by the HTTP client timeout; each caller stops waiting when its
// own ctx is done.
func (p *TokenProvider) GetValidToken(ctx context.Context) (string, error) {
	if tok, ok := p.cached(); ok {
		return tok, nil
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := p.flight.DoChan("token", func() (any, error) {
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
		return p.fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &TokenFetchError{Err: ctx.Err()}
	}
}

type tokenResponse struct {
	AccessToken *string  `json:"access_token"`
	ExpiresIn   *float64 `json:"expires_in"`
}

// fetch performs one credential exchange. It does not retry.
func (p *TokenProvider) fetch(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", p.cfg.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &TokenFetchError{Err: err}
	}
	req.Header.Set("Authorization", "Basic "+p.basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Info().Str("module", "auth").Msg("fetching new access token")
	fetchedAt := p.cfg.Now()
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &TokenFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &TokenFetchError{Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &TokenFetchError{Err: errors.Join(ErrMalformedResponse, err)}
	}
	if body.AccessToken == nil || *body.AccessToken == "" || body.ExpiresIn == nil {
		return "", &TokenFetchError{Err: ErrMalformedResponse}
	}

	ttl := time.Duration(*body.ExpiresIn * float64(time.Second))
	lifetime := ttl - p.cfg.SafetyMargin
	if lifetime <= 0 {
		// Keep short-lived tokens for half their life instead of refetching on every call.
		lifetime = ttl / 2
		log.Warn().Str("module", "auth").Dur("expires_in", ttl).Dur("safety_margin", p.cfg.SafetyMargin).
			Msg("token lifetime within safety margin, caching for half its lifetime")
	}
	p.mu.Lock()
	p.token = *body.AccessToken
	p.expiry = fetchedAt.Add(lifetime)
	p.mu.Unlock()

	log.Info().Str("module", "auth").Dur("expires_in", ttl).Msg("access token fetched")
	return *body.AccessToken, nil
}
