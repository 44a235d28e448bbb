package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"firestore-client/internal/shared/logger"
	"firestore-client/pkg/firestore"

	"github.com/redis/go-redis/v9"
)

const (
	defaultStreamKey = "firestore:changes"
	defaultReadCount = 1000
)

// RedisChangeLog keeps committed document changes in a Redis stream so they can be
// replayed from any point. It satisfies firestore.ChangeRecorder.
type RedisChangeLog struct {
	client    *redis.Client
	streamKey string
	maxLen    int64
	logger    logger.Logger
}

// NewRedisChangeLog creates a change log on streamKey. maxLen caps the stream
// length; zero keeps every entry.
func NewRedisChangeLog(client *redis.Client, streamKey string, maxLen int64, log logger.Logger) *RedisChangeLog {
	if streamKey == "" {
		streamKey = defaultStreamKey
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &RedisChangeLog{
		client:    client,
		streamKey: streamKey,
		maxLen:    maxLen,
		logger:    log.WithComponent("changelog"),
	}
}

// Record appends changes to the stream in one pipeline.
func (r *RedisChangeLog) Record(ctx context.Context, changes []firestore.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, change := range changes {
		doc, err := json.Marshal(change.Document)
		if err != nil {
			r.logger.Errorf("Failed to serialize document %s: %v", change.Path, err)
			return err
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.streamKey,
			MaxLen: r.maxLen,
			Values: map[string]interface{}{
				"kind":       string(change.Kind),
				"path":       change.Path,
				"document":   doc,
				"commitTime": change.CommitTime.UnixNano(),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithFields(map[string]interface{}{
			"stream":  r.streamKey,
			"changes": len(changes),
		}).Errorf("Failed to store changes in Redis: %v", err)
		return err
	}

	r.logger.Debugf("Stored %d changes in %s", len(changes), r.streamKey)
	return nil
}

// GetSince returns up to count changes recorded after the entry with id since.
// An empty since reads from the start of the stream.
func (r *RedisChangeLog) GetSince(ctx context.Context, since string, count int64) ([]firestore.ChangeRecord, error) {
	return r.read(ctx, since, count, -1)
}

// Follow calls fn for every change after since until ctx is done or fn returns an
// error. It waits up to poll for new entries between reads.
func (r *RedisChangeLog) Follow(ctx context.Context, since string, poll time.Duration, fn func(firestore.ChangeRecord) error) error {
	if poll <= 0 {
		poll = time.Second
	}
	lastID := since
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := r.read(ctx, lastID, defaultReadCount, poll)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
			lastID = rec.ID
		}
	}
}

func (r *RedisChangeLog) read(ctx context.Context, since string, count int64, block time.Duration) ([]firestore.ChangeRecord, error) {
	lastID := "0"
	if since != "" {
		lastID = since
	}
	if count <= 0 {
		count = defaultReadCount
	}

	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.streamKey, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []firestore.ChangeRecord{}, nil
		}
		r.logger.WithFields(map[string]interface{}{
			"stream": r.streamKey,
			"since":  since,
		}).Errorf("Failed to read changes from Redis: %v", err)
		return nil, err
	}

	records := make([]firestore.ChangeRecord, 0)
	for _, stream := range res {
		for _, msg := range stream.Messages {
			rec, err := parseChangeFromMessage(msg)
			if err != nil {
				r.logger.Warnf("Skipping malformed change %s: %v", msg.ID, err)
				continue
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// Trim keeps the newest maxLen entries and returns how many were removed.
func (r *RedisChangeLog) Trim(ctx context.Context, maxLen int64) (int64, error) {
	trimmed, err := r.client.XTrimMaxLen(ctx, r.streamKey, maxLen).Result()
	if err != nil {
		r.logger.Warnf("Failed to trim %s: %v", r.streamKey, err)
		return 0, err
	}
	if trimmed > 0 {
		r.logger.Infof("Trimmed %d changes from %s", trimmed, r.streamKey)
	}
	return trimmed, nil
}

// Count returns the number of entries in the stream.
func (r *RedisChangeLog) Count(ctx context.Context) (int64, error) {
	return r.client.XLen(ctx, r.streamKey).Result()
}

// Ping checks the Redis connection.
func (r *RedisChangeLog) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func parseChangeFromMessage(msg redis.XMessage) (firestore.ChangeRecord, error) {
	rec := firestore.ChangeRecord{ID: msg.ID}

	kind, _ := msg.Values["kind"].(string)
	switch firestore.ChangeKind(kind) {
	case firestore.ChangeAdded, firestore.ChangeModified, firestore.ChangeRemoved:
		rec.Kind = firestore.ChangeKind(kind)
	default:
		return rec, errors.New("unknown change kind " + strconv.Quote(kind))
	}

	path, ok := msg.Values["path"].(string)
	if !ok || path == "" {
		return rec, errors.New("missing path")
	}
	rec.Path = path

	if ts, ok := msg.Values["commitTime"].(string); ok {
		nanos, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return rec, err
		}
		rec.CommitTime = time.Unix(0, nanos).UTC()
	}

	if data, ok := msg.Values["document"].(string); ok && data != "" && data != "null" {
		var doc firestore.Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return rec, err
		}
		rec.Document = &doc
	}
	return rec, nil
}
