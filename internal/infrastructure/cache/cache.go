package cache

import (
	"context"
	"strings"
	"time"
)

// Store is the cache contract the guard and session layers depend on.
//
// Get reports a miss as ok=false with a nil error; errors are reserved for
// infrastructure failures (connection loss, timeouts). Set accepts a TTL
// after which the entry expires. Delete is idempotent; removing an absent
// key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Keyer builds namespaced cache keys of the form {env}:{service}:{...parts}.
// Namespacing by environment lets two deployments share one cache instance
// without key collisions.
type Keyer struct {
	env     string
	service string
}

// serviceName is the cache namespace for this service.
const serviceName = "nexus-core"

// NewKeyer creates a Keyer for the given deployment environment.
func NewKeyer(env string) Keyer {
	return Keyer{env: env, service: serviceName}
}

// Key joins the parts under the {env}:{service}: prefix.
func (k Keyer) Key(parts ...string) string {
	all := make([]string, 0, len(parts)+2)
	all = append(all, k.env, k.service)
	all = append(all, parts...)
	return strings.Join(all, ":")
}
