package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"rdeskd/internal/constants"
)

// RedisStore keeps resumption records in Redis so a restarted daemon (or a
// fleet sharing one id) still honors recent sessions. The staleness window
// maps onto the key TTL.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
	cancel func()
}

func NewRedisStore(host, port, username, password string) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithCancel(context.Background())

	store := &RedisStore{
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := store.client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}

	return store, nil
}

func (st *RedisStore) Save(peerID string, s *Session) {
	if s.LastActive.IsZero() {
		s.LastActive = time.Now()
	}

	jsonData, err := json.Marshal(s)
	if err != nil {
		log.Printf("Failed to marshal session: %v", err)
		return
	}

	key := constants.RedisKeyPrefix + peerID
	if err := st.client.Set(st.ctx, key, jsonData, constants.SessionStaleAfter).Err(); err != nil {
		log.Printf("Failed to save session to Redis: %v", err)
	}
}

func (st *RedisStore) Get(peerID string) (*Session, bool) {
	key := constants.RedisKeyPrefix + peerID

	data, err := st.client.Get(st.ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("Failed to get session from Redis: %v", err)
		return nil, false
	}

	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		log.Printf("Failed to unmarshal session: %v", err)
		return nil, false
	}

	return &s, true
}

func (st *RedisStore) Delete(peerID string) {
	key := constants.RedisKeyPrefix + peerID
	if err := st.client.Del(st.ctx, key).Err(); err != nil {
		log.Printf("Failed to delete session from Redis: %v", err)
	}
}

func (st *RedisStore) Touch(peerID string) {
	key := constants.RedisKeyPrefix + peerID
	st.client.Expire(st.ctx, key, constants.SessionStaleAfter)
}

func (st *RedisStore) Close() error {
	st.cancel()
	return st.client.Close()
}
