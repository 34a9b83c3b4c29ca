package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ollm-core/agentcore/pkg/models"
)

// OAuthStatus is the public view of one server's OAuth connection state.
type OAuthStatus struct {
	Connected bool
	ExpiresAt time.Time
	Scopes    []string
}

// OAuthProvider manages PKCE-capable OAuth2 tokens for MCP servers, one
// token set per server, persisted to a flat JSON file with atomic writes.
type OAuthProvider struct {
	mu       sync.Mutex
	path     string
	tokens   map[string]*models.MCPOAuthToken
	verifier map[string]string // serverID -> PKCE verifier, held between Authorize and Exchange
}

// NewOAuthProvider loads (or initializes) persisted tokens from path.
func NewOAuthProvider(path string) (*OAuthProvider, error) {
	p := &OAuthProvider{
		path:     path,
		tokens:   make(map[string]*models.MCPOAuthToken),
		verifier: make(map[string]string),
	}
	if err := p.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return p, nil
}

func (p *OAuthProvider) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	var tokens map[string]*models.MCPOAuthToken
	if err := json.Unmarshal(data, &tokens); err != nil {
		return err
	}
	p.tokens = tokens
	return nil
}

func (p *OAuthProvider) save() error {
	data, err := json.MarshalIndent(p.tokens, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

func oauth2Config(cfg *models.MCPOAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Scopes:      cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}
}

// Authorize constructs the authorization URL for a server, generating and
// storing a PKCE verifier when the config requests S256 PKCE.
func (p *OAuthProvider) Authorize(serverID, state string, cfg *models.MCPOAuthConfig) (string, error) {
	oc := oauth2Config(cfg)

	var opts []oauth2.AuthCodeOption
	if cfg.UsePKCE {
		verifier := oauth2.GenerateVerifier()
		p.mu.Lock()
		p.verifier[serverID] = verifier
		p.mu.Unlock()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return oc.AuthCodeURL(state, opts...), nil
}

// ExchangeCode completes the authorization-code flow, storing the
// resulting tokens for serverID.
func (p *OAuthProvider) ExchangeCode(ctx context.Context, serverID, code string, cfg *models.MCPOAuthConfig) error {
	oc := oauth2Config(cfg)

	var opts []oauth2.AuthCodeOption
	if cfg.UsePKCE {
		p.mu.Lock()
		verifier := p.verifier[serverID]
		delete(p.verifier, serverID)
		p.mu.Unlock()
		if verifier != "" {
			opts = append(opts, oauth2.VerifierOption(verifier))
		}
	}

	tok, err := oc.Exchange(ctx, code, opts...)
	if err != nil {
		return fmt.Errorf("mcp oauth exchange: %w", err)
	}

	p.mu.Lock()
	p.tokens[serverID] = tokenFromOAuth2(tok)
	err = p.save()
	p.mu.Unlock()
	return err
}

// RefreshToken POSTs the refresh grant and, on success, atomically updates
// the stored token set. On failure the stored token is left untouched.
func (p *OAuthProvider) RefreshToken(ctx context.Context, serverID string, cfg *models.MCPOAuthConfig) error {
	p.mu.Lock()
	existing, ok := p.tokens[serverID]
	p.mu.Unlock()
	if !ok || existing.RefreshToken == "" {
		return fmt.Errorf("mcp oauth: no refresh token stored for server %q", serverID)
	}

	oc := oauth2Config(cfg)
	src := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: existing.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return fmt.Errorf("mcp oauth refresh: %w", err)
	}

	p.mu.Lock()
	p.tokens[serverID] = tokenFromOAuth2(tok)
	err = p.save()
	p.mu.Unlock()
	return err
}

// RevokeAccess attempts a provider-side revocation when cfg.RevokeURL is
// set, then always clears local state regardless of the remote result.
func (p *OAuthProvider) RevokeAccess(ctx context.Context, serverID string, cfg *models.MCPOAuthConfig) error {
	p.mu.Lock()
	tok, ok := p.tokens[serverID]
	p.mu.Unlock()

	var revokeErr error
	if ok && cfg != nil && cfg.RevokeURL != "" && tok.AccessToken != "" {
		revokeErr = postRevoke(ctx, cfg.RevokeURL, cfg.ClientID, tok.AccessToken)
	}

	p.mu.Lock()
	delete(p.tokens, serverID)
	delete(p.verifier, serverID)
	saveErr := p.save()
	p.mu.Unlock()

	if saveErr != nil {
		return saveErr
	}
	return revokeErr
}

func postRevoke(ctx context.Context, revokeURL, clientID, token string) error {
	form := url.Values{}
	form.Set("token", token)
	if clientID != "" {
		form.Set("client_id", clientID)
	}
	req, err := newFormRequest(ctx, revokeURL, form)
	if err != nil {
		return err
	}
	return doFormRequest(req)
}

// Status reports connection state for a server, treating an expired
// token as disconnected per spec.
func (p *OAuthProvider) Status(serverID string) OAuthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, ok := p.tokens[serverID]
	if !ok || tok.Expired() {
		return OAuthStatus{Connected: false}
	}
	var scopes []string
	if tok.Scope != "" {
		scopes = strings.Fields(tok.Scope)
	}
	return OAuthStatus{Connected: true, ExpiresAt: tok.ExpiresAt, Scopes: scopes}
}

// BearerToken returns the current access token for a server, or empty if
// none is stored or it has expired.
func (p *OAuthProvider) BearerToken(serverID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, ok := p.tokens[serverID]
	if !ok || tok.Expired() {
		return ""
	}
	return tok.AccessToken
}

func newFormRequest(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("mcp oauth revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func doFormRequest(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("mcp oauth revoke: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return fmt.Errorf("mcp oauth revoke failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func tokenFromOAuth2(tok *oauth2.Token) *models.MCPOAuthToken {
	scope, _ := tok.Extra("scope").(string)
	return &models.MCPOAuthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        scope,
		ExpiresAt:    tok.Expiry,
	}
}
