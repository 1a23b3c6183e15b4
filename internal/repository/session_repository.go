package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

// SessionRepository keeps edit sessions in Redis with a sliding TTL.
type SessionRepository struct {
	client *redis.Client
	prefix string
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(client *redis.Client, prefix string) *SessionRepository {
	return &SessionRepository{client: client, prefix: prefix}
}

func (r *SessionRepository) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *SessionRepository) lockKey(id string) string {
	return r.prefix + "session:" + id + ":submit"
}

// Get loads a session or returns ErrSessionNotFound.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.EditSession, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session %s: %w", id, err)
	}
	var session models.EditSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

// Save stores the session and refreshes its TTL.
func (r *SessionRepository) Save(ctx context.Context, session *models.EditSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	if err := r.client.Set(ctx, r.sessionKey(session.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", session.ID, err)
	}
	return nil
}

// Delete discards a session and any submit lock it holds.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.sessionKey(id), r.lockKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session %s: %w", id, err)
	}
	return nil
}

// releaseLockScript deletes the lock only while it still holds the caller's token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireSubmitLock marks a submission in flight and returns the token that owns the
// lock. It returns false when another submission of the same session holds the lock.
func (r *SessionRepository) AcquireSubmitLock(ctx context.Context, id string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.lockKey(id), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis lock session %s: %w", id, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseSubmitLock clears the in-flight marker if token still owns it. A lock that
// expired and was taken by a later submission is left alone.
func (r *SessionRepository) ReleaseSubmitLock(ctx context.Context, id, token string) error {
	if err := releaseLockScript.Run(ctx, r.client, []string{r.lockKey(id)}, token).Err(); err != nil {
		return fmt.Errorf("redis unlock session %s: %w", id, err)
	}
	return nil
}
