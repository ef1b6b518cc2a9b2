package redis

import "strings"

// All keys live under the "cm" namespace: cm:<kind>:<parts...>.
const keyNamespace = "cm"

type keyKind string

const (
	kindLocation    keyKind = "location"
	kindRateLimit   keyKind = "rate_limit"
	kindLock        keyKind = "lock"
	kindIdempotency keyKind = "idempotency"
)

func key(kind keyKind, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(string(kind))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}

// LocationKey is the cache key for a normalized location alias.
func (c *Client) LocationKey(alias string) string { return key(kindLocation, alias) }

func (c *Client) RateLimitKey(scope string) string { return key(kindRateLimit, scope) }

// IdempotencyKey scopes a client-supplied Idempotency-Key to one route.
func (c *Client) IdempotencyKey(scope, id string) string { return key(kindIdempotency, scope, id) }

func (c *Client) LockKey(name string) string { return key(kindLock, name) }
