package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trafficward/trafficward/internal/models"
)

const (
	sampleKeyPrefix = "samples:"
	blockKeyPrefix  = "blocked:"
	anomalyHistory  = "anomalies:history"
	alertChannel    = "anomalies"

	// anomalyRetention bounds the audit history kept in Redis.
	anomalyRetention = 24 * time.Hour
)

// RedisStore backs the sample windows, block records, and anomaly log
// with a shared Redis instance so multiple gate processes coordinate.
type RedisStore struct {
	client *redis.Client
	window time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, window time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, window: window}, nil
}

func sampleKey(clientID string) string { return sampleKeyPrefix + clientID }
func blockKey(clientID string) string  { return blockKeyPrefix + clientID }

// Record appends the sample to the client's time-series sorted set. The
// key expires after one idle window so abandoned clients cost nothing.
func (r *RedisStore) Record(ctx context.Context, sample models.TrafficSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	key := sampleKey(sample.ClientID)
	cutoff := float64(time.Now().Add(-r.window).UnixMilli())

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(sample.TimestampMs),
		Member: string(data),
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.Expire(ctx, key, r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	return nil
}

// Window returns the client's samples inside the sliding window, oldest
// first. Entries that fail to decode are skipped.
func (r *RedisStore) Window(ctx context.Context, clientID string) ([]models.TrafficSample, error) {
	since := time.Now().Add(-r.window).UnixMilli()

	results, err := r.client.ZRangeByScore(ctx, sampleKey(clientID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read window: %w", err)
	}

	samples := make([]models.TrafficSample, 0, len(results))
	for _, result := range results {
		var sample models.TrafficSample
		if err := json.Unmarshal([]byte(result), &sample); err != nil {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// IsBlocked fetches the client's block record. A missing key means the
// client is not blocked; TTL expiry deletes records automatically.
func (r *RedisStore) IsBlocked(ctx context.Context, clientID string) (*models.BlockRecord, error) {
	data, err := r.client.Get(ctx, blockKey(clientID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read block record: %w", err)
	}

	var record models.BlockRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("decode block record: %w", err)
	}
	return &record, nil
}

// Block writes the record with a TTL equal to duration. SET replaces any
// existing record, giving extend-or-replace semantics.
func (r *RedisStore) Block(ctx context.Context, clientID, reason string, level models.ThreatLevel, duration time.Duration) error {
	now := time.Now()
	record := models.BlockRecord{
		ClientID:  clientID,
		Reason:    reason,
		Level:     level,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal block record: %w", err)
	}

	if err := r.client.Set(ctx, blockKey(clientID), string(data), duration).Err(); err != nil {
		return fmt.Errorf("write block record: %w", err)
	}
	return nil
}

// ActiveBlocks scans for live block records. This serves the ops API,
// not the request path, so SCAN cost is acceptable.
func (r *RedisStore) ActiveBlocks(ctx context.Context) ([]models.BlockRecord, error) {
	records := make([]models.BlockRecord, 0)

	iter := r.client.Scan(ctx, 0, blockKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var record models.BlockRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan block records: %w", err)
	}
	return records, nil
}

// Append stores the event in the anomaly history and publishes it on the
// alert channel for live subscribers.
func (r *RedisStore) Append(ctx context.Context, event models.AnomalyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal anomaly event: %w", err)
	}

	cutoff := float64(time.Now().Add(-anomalyRetention).UnixMilli())

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, anomalyHistory, redis.Z{
		Score:  float64(event.Timestamp.UnixMilli()),
		Member: string(data),
	})
	pipe.ZRemRangeByScore(ctx, anomalyHistory, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.Publish(ctx, alertChannel, string(data))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append anomaly event: %w", err)
	}
	return nil
}

// Recent returns the newest anomaly events, newest first.
func (r *RedisStore) Recent(ctx context.Context, limit int) ([]models.AnomalyEvent, error) {
	results, err := r.client.ZRevRange(ctx, anomalyHistory, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read anomaly history: %w", err)
	}

	events := make([]models.AnomalyEvent, 0, len(results))
	for _, result := range results {
		var event models.AnomalyEvent
		if err := json.Unmarshal([]byte(result), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
