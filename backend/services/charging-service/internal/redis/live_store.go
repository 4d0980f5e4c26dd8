package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chargehub/backend/services/charging-service/internal/models"
)

// ErrMiss is returned when no snapshot is cached for a session.
var ErrMiss = errors.New("redisstore: cache miss")

// LiveStore caches the latest runtime snapshot per session.
type LiveStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLiveStore returns redis-backed store.
func NewLiveStore(client *redis.Client, ttl time.Duration) *LiveStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LiveStore{client: client, ttl: ttl}
}

func (s *LiveStore) key(sessionID int64) string {
	return fmt.Sprintf("sessions:live:%d", sessionID)
}

// Save caches snapshot.
func (s *LiveStore) Save(ctx context.Context, snap models.LiveSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(snap.SessionID), data, s.ttl).Err()
}

// Get returns cached snapshot.
func (s *LiveStore) Get(ctx context.Context, sessionID int64) (*models.LiveSnapshot, error) {
	result, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var snap models.LiveSnapshot
	if err := json.Unmarshal(result, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Delete removes cached snapshot.
func (s *LiveStore) Delete(ctx context.Context, sessionID int64) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
