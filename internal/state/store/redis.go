package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpgate/mcpgate/internal/provider"
	"github.com/mcpgate/mcpgate/internal/state"
)

const (
	redisSessionPrefix = "mcpgate:session:"
	redisSessionIndex  = "mcpgate:sessions"
)

// RedisStore keeps sessions as JSON blobs in Redis, with a set index for
// listing. Suited to deployments that already run Redis and want session
// state to survive process restarts without a SQL database.
type RedisStore struct {
	client      *redis.Client
	maxMessages int
}

// OpenRedis connects to addr (db selects the Redis database) and verifies
// the server is reachable.
func OpenRedis(addr string, db int, maxMessages int) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("session store: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session store: redis unreachable: %w", err)
	}
	return &RedisStore{client: client, maxMessages: maxMessages}, nil
}

func (s *RedisStore) Create(id string) (*state.Session, error) {
	if sess, err := s.Get(id); err == nil {
		return sess, nil
	}
	now := time.Now()
	sess := &state.Session{
		ID:        id,
		Messages:  []provider.Message{},
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.write(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) Get(id string) (*state.Session, error) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, redisSessionPrefix+id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("session %q not found", id)
	}
	var sess state.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session %q corrupt: %w", id, err)
	}
	return &sess, nil
}

func (s *RedisStore) Put(sess *state.Session) error {
	if s.maxMessages > 0 && len(sess.Messages) > s.maxMessages {
		keep := len(sess.Messages) - s.maxMessages
		sess.Messages = sess.Messages[keep:]
	}
	sess.UpdatedAt = time.Now()
	return s.write(sess)
}

func (s *RedisStore) write(sess *state.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session persist: marshal: %w", err)
	}
	ctx := context.Background()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisSessionPrefix+sess.ID, data, 0)
	pipe.SAdd(ctx, redisSessionIndex, sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	return nil
}

func (s *RedisStore) Touch(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.UpdatedAt = time.Now()
	return s.write(sess)
}

func (s *RedisStore) Delete(id string) error {
	ctx := context.Background()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisSessionPrefix+id)
	pipe.SRem(ctx, redisSessionIndex, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) List() ([]string, error) {
	return s.client.SMembers(context.Background(), redisSessionIndex).Result()
}

func (s *RedisStore) PruneIdle(idleFor time.Duration) (int, error) {
	ids, err := s.List()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-idleFor)
	pruned := 0
	for _, id := range ids {
		sess, err := s.Get(id)
		if err != nil {
			// Value expired or vanished out from under the index.
			_ = s.client.SRem(context.Background(), redisSessionIndex, id).Err()
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			if err := s.Delete(id); err == nil {
				pruned++
			}
		}
	}
	return pruned, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
