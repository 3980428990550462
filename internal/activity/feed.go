// Package activity provides a Redis-backed recent-activity feed.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one feed item: something that happened to a case.
type Entry struct {
	CaseID             string    `json:"case_id"`
	VerificationNumber int       `json:"verification_number"`
	Action             string    `json:"action"`
	Actor              string    `json:"actor"`
	Note               string    `json:"note,omitempty"`
	At                 time.Time `json:"at"`
}

// Feed keeps a capped list of recent entries, globally and per case.
type Feed struct {
	client  *redis.Client
	maxSize int64
}

// NewFeed connects to Redis and returns the feed.
func NewFeed(redisURL string, maxSize int) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewFeedWithClient(client, maxSize), nil
}

// NewFeedWithClient builds a feed from an existing Redis client.
func NewFeedWithClient(client *redis.Client, maxSize int) *Feed {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Feed{client: client, maxSize: int64(maxSize)}
}

const (
	globalKey  = "activity:global"
	casePrefix = "activity:case:"
)

// Push records an entry on the global feed and the case's own feed. Errors
// are logged, not returned: the feed is best-effort and never blocks the
// write that produced the entry.
func (f *Feed) Push(ctx context.Context, entry Entry) {
	if f == nil {
		return
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		log.Printf("activity: marshal entry: %v", err)
		return
	}

	for _, key := range []string{globalKey, casePrefix + entry.CaseID} {
		pipe := f.client.TxPipeline()
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, f.maxSize-1)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("activity: push to %s: %v", key, err)
		}
	}
}

// Recent returns up to limit entries from the global feed, newest first.
func (f *Feed) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return f.list(ctx, globalKey, limit)
}

// RecentForCase returns up to limit entries for one case, newest first.
func (f *Feed) RecentForCase(ctx context.Context, caseID string, limit int) ([]Entry, error) {
	return f.list(ctx, casePrefix+caseID, limit)
}

func (f *Feed) list(ctx context.Context, key string, limit int) ([]Entry, error) {
	if limit <= 0 || int64(limit) > f.maxSize {
		limit = int(f.maxSize)
	}
	raw, err := f.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", key, err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Ping checks if Redis is reachable.
func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (f *Feed) Close() error {
	return f.client.Close()
}
