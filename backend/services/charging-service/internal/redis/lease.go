package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if this owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a single-holder lock shared by replicas, used so one sweep runs at a time cluster-wide.
type Lease struct {
	client *redis.Client
	owner  string
}

// NewLease returns lease bound to a random owner id.
func NewLease(client *redis.Client) *Lease {
	return &Lease{client: client, owner: uuid.NewString()}
}

// Owner returns the owner id written into held leases.
func (l *Lease) Owner() string {
	return l.owner
}

func (l *Lease) key(name string) string {
	return fmt.Sprintf("sweeps:lease:%s", name)
}

// TryAcquire takes the named lease for ttl. It returns false when another owner holds it.
func (l *Lease) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.key(name), l.owner, ttl).Result()
}

// Release drops the named lease if still held by this owner.
func (l *Lease) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.owner).Err()
}
