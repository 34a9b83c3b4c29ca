package models

import "time"

// MCPTransportType names which transport an MCP server connection uses.
type MCPTransportType string

const (
	MCPTransportStdio MCPTransportType = "stdio"
	MCPTransportSSE   MCPTransportType = "sse"
	MCPTransportHTTP  MCPTransportType = "http"
)

// MCPConnectionState is the state machine for one MCP server connection:
// disconnected -> connecting -> connected -> (error <-> connecting).
type MCPConnectionState string

const (
	MCPDisconnected MCPConnectionState = "disconnected"
	MCPConnecting   MCPConnectionState = "connecting"
	MCPConnected    MCPConnectionState = "connected"
	MCPError        MCPConnectionState = "error"
)

// MCPServerConfig declares how to reach one MCP server. Exactly one of
// (Command, URL) is set, selecting stdio vs. SSE/HTTP transport.
type MCPServerConfig struct {
	Name      string            `json:"name"`
	Transport MCPTransportType  `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`

	// AutoStart connects this server when the manager starts.
	AutoStart bool `json:"auto_start,omitempty"`

	// OAuth configures bearer-token auth for SSE/HTTP transports.
	OAuth *MCPOAuthConfig `json:"oauth,omitempty"`

	// RequestTimeout bounds a single JSON-RPC call; zero means the client
	// default (30s) applies.
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`
}

// MCPOAuthConfig configures the OAuth2 authorization-code flow (with PKCE)
// used to obtain bearer tokens for an MCP server.
type MCPOAuthConfig struct {
	ClientID    string   `json:"client_id"`
	AuthURL     string   `json:"auth_url"`
	TokenURL    string   `json:"token_url"`
	RevokeURL   string   `json:"revoke_url,omitempty"`
	RedirectURL string   `json:"redirect_url"`
	Scopes      []string `json:"scopes,omitempty"`
	UsePKCE     bool     `json:"use_pkce"`
}

// MCPOAuthToken is the persisted token set for one server.
type MCPOAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is no longer valid for use.
func (t *MCPOAuthToken) Expired() bool {
	return t == nil || t.AccessToken == "" || (!t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt))
}

// MCPTool describes one tool discovered from an MCP server, in the server's
// own (not yet converted) JSON Schema.
type MCPTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema []byte `json:"input_schema,omitempty"`
}

// MCPServerStatus is a point-in-time snapshot of one server's runtime state.
type MCPServerStatus struct {
	Name            string             `json:"name"`
	Transport       MCPTransportType   `json:"transport"`
	State           MCPConnectionState `json:"state"`
	Tools           []MCPTool          `json:"tools,omitempty"`
	LastError       string             `json:"last_error,omitempty"`
	UptimeStart     time.Time          `json:"uptime_start,omitempty"`
	RestartAttempts int                `json:"restart_attempts"`
	NextRetryAt     time.Time          `json:"next_retry_at,omitempty"`
}
