package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "drowsewatch:alerts:"

// RedisStore は警告履歴をRedisのソート済みセットに保存する
// キーはセッション毎に分かれ、retention 経過後に失効する
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore はRedisに接続しRedisStoreを作成する
func NewRedisStore(ctx context.Context, addr, password string, db int, retention time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}

	return &RedisStore{
		client:    client,
		retention: retention,
	}, nil
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

// Record は警告を保存し、セッションキーの有効期限を延長する
func (s *RedisStore) Record(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("警告のシリアライズに失敗: %w", err)
	}

	key := sessionKey(event.SessionID)
	score := float64(event.OccurredAt.UnixNano())

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: data})
	if s.retention > 0 {
		pipe.Expire(ctx, key, s.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("警告の保存に失敗: %w", err)
	}
	return nil
}

// List は指定セッションの警告を新しい順に返す
func (s *RedisStore) List(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	members, err := s.client.ZRevRange(ctx, sessionKey(sessionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("警告履歴の取得に失敗: %w", err)
	}

	events := make([]Event, 0, len(members))
	for _, member := range members {
		var event Event
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			return nil, fmt.Errorf("警告履歴の解析に失敗: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
