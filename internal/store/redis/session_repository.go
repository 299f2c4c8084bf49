package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/opentrusty/tenantscope/internal/session"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tenantscope:session:"

// touchScript updates last_seen_at only when the session still exists.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "last_seen_at", ARGV[1])
return 1
`)

// SessionRepository implements session.Repository on Redis hashes.
// Keys carry a TTL matching the session expiry, so DeleteExpired has
// nothing to do.
type SessionRepository struct {
	client redis.UniversalClient
}

// NewSessionRepository creates a new Redis session repository
func NewSessionRepository(client redis.UniversalClient) *SessionRepository {
	return &SessionRepository{client: client}
}

func sessionKey(id string) string {
	return keyPrefix + id
}

// Create stores a session with a TTL ending at its expiry
func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("failed to create session: already expired")
	}

	key := sessionKey(sess.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"user_id":      sess.UserID,
			"ip_address":   sess.IPAddress,
			"user_agent":   sess.UserAgent,
			"expires_at":   sess.ExpiresAt.Format(time.RFC3339Nano),
			"created_at":   sess.CreatedAt.Format(time.RFC3339Nano),
			"last_seen_at": sess.LastSeenAt.Format(time.RFC3339Nano),
		})
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. It returns nil, nil when the key is absent.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	sess := &session.Session{
		ID:        sessionID,
		UserID:    fields["user_id"],
		IPAddress: fields["ip_address"],
		UserAgent: fields["user_agent"],
	}
	for name, dst := range map[string]*time.Time{
		"expires_at":   &sess.ExpiresAt,
		"created_at":   &sess.CreatedAt,
		"last_seen_at": &sess.LastSeenAt,
	} {
		t, err := time.Parse(time.RFC3339Nano, fields[name])
		if err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", name, err)
		}
		*dst = t
	}
	return sess, nil
}

// Touch updates session last seen time
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, lastSeen time.Time) error {
	n, err := touchScript.Run(ctx, r.client, []string{sessionKey(sessionID)}, lastSeen.Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis evicts expired keys itself.
func (r *SessionRepository) DeleteExpired(_ context.Context) error {
	return nil
}

// Healthcheck returns a check that pings the client
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
