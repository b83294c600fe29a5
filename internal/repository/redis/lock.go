package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TurnLock gives at most one in-flight turn per session across server instances
type TurnLock struct {
	client *Client
	ttl    time.Duration
}

// NewTurnLock creates a turn lock whose keys expire after ttl if never released
func NewTurnLock(client *Client, ttl time.Duration) *TurnLock {
	return &TurnLock{client: client, ttl: ttl}
}

// Acquire tries to take the lock for sessionID. It returns a release func when
// the lock was taken, and ok=false when another holder owns it.
func (l *TurnLock) Acquire(ctx context.Context, sessionID string) (release func(), ok bool, err error) {
	key := l.client.key("turnlock", sessionID)
	token := uuid.NewString()

	ok, err = l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(ctx, l.client.rdb, []string{key}, token)
	}
	return release, true, nil
}
