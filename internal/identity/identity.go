// Package identity resolves the requester behind an inbound request:
// a signed-in user, an anonymous visitor, or an anonymous visitor that
// cannot be tracked and therefore must not be admitted.
package identity

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Kind classifies a resolved requester.
type Kind string

const (
	KindAuthenticated Kind = "authenticated"
	KindAnonymous     Kind = "anonymous"
	// KindUnresolvable marks anonymous traffic with no usable fingerprint.
	// Admission control denies it outright.
	KindUnresolvable Kind = "unresolvable"
)

const (
	// FingerprintHeader carries the client-derived browser fingerprint.
	FingerprintHeader = "X-Browser-Fingerprint"

	// MaxFingerprintLength bounds the opaque fingerprint value.
	MaxFingerprintLength = 256

	// UnknownClientIP is reported when no forwarding header yields an address.
	UnknownClientIP = "unknown"
)

// Identity is the resolved requester.
type Identity struct {
	Kind        Kind
	UserID      snowflake.ID
	Fingerprint string
	ClientIP    string
}

func (i Identity) Authenticated() bool { return i.Kind == KindAuthenticated }
func (i Identity) Anonymous() bool     { return i.Kind == KindAnonymous }
func (i Identity) Unresolvable() bool  { return i.Kind == KindUnresolvable }

// LockKeys scopes the creation mutex per requester so unrelated requesters
// never contend. Anonymous requesters lock on both tracking signals, in a
// fixed order: two requests sharing either the fingerprint or the IP must
// serialize, matching the dual-signal admission check.
func (i Identity) LockKeys() []string {
	if i.Authenticated() {
		return []string{fmt.Sprintf("user:%s:summary-creation", i.UserID)}
	}
	keys := []string{fmt.Sprintf("user:anon:fp:%s:summary-creation", i.Fingerprint)}
	if i.ClientIP != "" && i.ClientIP != UnknownClientIP {
		keys = append(keys, fmt.Sprintf("user:anon:ip:%s:summary-creation", i.ClientIP))
	}
	return keys
}

// Resolve produces the requester identity. userID comes from the trusted
// auth collaborator and wins when non-zero; anonymous identity needs a
// fingerprint header plus the observed client IP.
func Resolve(userID snowflake.ID, header http.Header) Identity {
	ip := ClientIP(header)

	if userID != 0 {
		return Identity{
			Kind:     KindAuthenticated,
			UserID:   userID,
			ClientIP: ip,
		}
	}

	fingerprint := strings.TrimSpace(header.Get(FingerprintHeader))
	if fingerprint == "" || len(fingerprint) > MaxFingerprintLength {
		return Identity{Kind: KindUnresolvable, ClientIP: ip}
	}

	return Identity{
		Kind:        KindAnonymous,
		Fingerprint: fingerprint,
		ClientIP:    ip,
	}
}

// ClientIP extracts the requester IP, preferring proxy headers in order:
// X-Forwarded-For (first entry), X-Real-IP, CF-Connecting-IP.
func ClientIP(header http.Header) string {
	if forwarded := strings.TrimSpace(header.Get("X-Forwarded-For")); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	return UnknownClientIP
}
