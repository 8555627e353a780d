// Package ice provides the ICE server catalogue handed to clients for NAT
// traversal. The static STUN list can be extended with privately operated
// TURN relays using ephemeral per-call credentials.
package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

// Server is one ICE server entry in the shape WebRTC clients expect
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TURNConfig holds configuration for an optional TURN relay
type TURNConfig struct {
	// Enabled adds the TURN relay to every ICE server list
	Enabled bool

	// Host is the TURN server hostname or IP
	Host string

	// Port is the TURN server port
	Port int

	// Protocol is "udp", "tcp", or "tls"
	Protocol string

	// Secret is the shared secret for generating TURN credentials.
	// In production, use a strong random secret.
	Secret string

	// CredentialTTL is the lifetime of generated TURN credentials
	CredentialTTL time.Duration
}

// Config holds ICE server configuration
type Config struct {
	// STUNServers are static STUN URLs handed to every client
	STUNServers []string

	// TURN optionally extends the list with an authenticated relay
	TURN TURNConfig
}

// DefaultConfig returns the default public STUN catalogue
func DefaultConfig() Config {
	return Config{
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun2.l.google.com:19302",
		},
		TURN: TURNConfig{
			Protocol:      "udp",
			CredentialTTL: 10 * time.Minute,
		},
	}
}

// Provider generates ICE server lists for call sessions
type Provider struct {
	config Config
}

// NewProvider creates a new ICE provider
func NewProvider(config Config) *Provider {
	if config.TURN.CredentialTTL <= 0 {
		config.TURN.CredentialTTL = 10 * time.Minute
	}
	return &Provider{config: config}
}

// ServersFor returns the ICE server list for a call. STUN entries are
// static; the TURN entry, when enabled, carries ephemeral credentials
// scoped to the call.
// Format: username = <expiry>:<call_id>, credential = HMAC(secret, username)
func (p *Provider) ServersFor(callID string) []Server {
	servers := make([]Server, 0, len(p.config.STUNServers)+1)
	for _, url := range p.config.STUNServers {
		servers = append(servers, Server{URLs: []string{url}})
	}

	if p.config.TURN.Enabled {
		expiry := time.Now().Add(p.config.TURN.CredentialTTL).Unix()
		username := fmt.Sprintf("%d:%s", expiry, callID)

		scheme := "turn"
		if p.config.TURN.Protocol == "tls" {
			scheme = "turns"
		}
		url := fmt.Sprintf("%s:%s:%d", scheme, p.config.TURN.Host, p.config.TURN.Port)
		if p.config.TURN.Protocol == "tcp" {
			url += "?transport=tcp"
		}

		servers = append(servers, Server{
			URLs:       []string{url},
			Username:   username,
			Credential: p.hmac(username),
		})
	}

	return servers
}

// hmac generates an HMAC-SHA1 credential for the given username,
// base64-encoded per the TURN REST credential convention
func (p *Provider) hmac(username string) string {
	h := hmac.New(sha1.New, []byte(p.config.TURN.Secret))
	h.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
