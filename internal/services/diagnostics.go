package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrArtifactNotFound is returned by Get for unknown or expired keys
var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact is one stored diagnostic blob
type Artifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	StoredAt    time.Time `json:"stored_at"`
}

// DiagnosticsService stores run artifacts in Redis, falling back to memory
type DiagnosticsService struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logrus.Logger

	// In-memory fallback when Redis is not available
	memStore map[string]storedArtifact
	memMutex sync.RWMutex
}

type storedArtifact struct {
	artifact  Artifact
	expiresAt time.Time
}

// NewDiagnosticsService creates a diagnostics store. client may be nil.
func NewDiagnosticsService(client *redis.Client, prefix string, ttl time.Duration, logger *logrus.Logger) *DiagnosticsService {
	return &DiagnosticsService{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		logger:   logger,
		memStore: make(map[string]storedArtifact),
	}
}

func (d *DiagnosticsService) fullKey(key string) string {
	if d.prefix == "" {
		return key
	}
	return d.prefix + ":" + key
}

// Put stores data under key, replacing any previous artifact
func (d *DiagnosticsService) Put(ctx context.Context, key string, data []byte, contentType string) error {
	now := time.Now().UTC()
	fullKey := d.fullKey(key)

	if d.client != nil {
		pipe := d.client.TxPipeline()
		pipe.HSet(ctx, fullKey,
			"data", data,
			"content_type", contentType,
			"stored_at", now.Format(time.RFC3339Nano),
		)
		if d.ttl > 0 {
			pipe.Expire(ctx, fullKey, d.ttl)
		}
		_, err := pipe.Exec(ctx)
		if err == nil {
			d.logger.WithFields(logrus.Fields{"key": fullKey, "bytes": len(data)}).Debug("Artifact stored (Redis)")
			return nil
		}
		d.logger.WithFields(logrus.Fields{
			"key":   fullKey,
			"error": err.Error(),
		}).Warn("Redis write error, falling back to memory store")
	}

	item := storedArtifact{
		artifact: Artifact{
			Key:         key,
			ContentType: contentType,
			Data:        append([]byte(nil), data...),
			StoredAt:    now,
		},
	}
	if d.ttl > 0 {
		item.expiresAt = now.Add(d.ttl)
	}

	d.memMutex.Lock()
	d.memStore[fullKey] = item
	d.memMutex.Unlock()

	d.logger.WithFields(logrus.Fields{"key": fullKey, "bytes": len(data)}).Debug("Artifact stored (memory)")
	return nil
}

// Get returns the artifact stored under key
func (d *DiagnosticsService) Get(ctx context.Context, key string) (*Artifact, error) {
	fullKey := d.fullKey(key)

	if d.client != nil {
		fields, err := d.client.HGetAll(ctx, fullKey).Result()
		if err == nil && len(fields) > 0 {
			artifact := &Artifact{
				Key:         key,
				ContentType: fields["content_type"],
				Data:        []byte(fields["data"]),
			}
			if ts, perr := time.Parse(time.RFC3339Nano, fields["stored_at"]); perr == nil {
				artifact.StoredAt = ts
			}
			return artifact, nil
		}
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"key":   fullKey,
				"error": err.Error(),
			}).Warn("Redis read error, falling back to memory store")
		}
	}

	d.memMutex.RLock()
	item, exists := d.memStore[fullKey]
	d.memMutex.RUnlock()

	if !exists {
		return nil, ErrArtifactNotFound
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		d.memMutex.Lock()
		delete(d.memStore, fullKey)
		d.memMutex.Unlock()
		return nil, ErrArtifactNotFound
	}

	artifact := item.artifact
	return &artifact, nil
}

// Delete removes the artifact stored under key. Missing keys are not an error.
func (d *DiagnosticsService) Delete(ctx context.Context, key string) error {
	fullKey := d.fullKey(key)

	d.memMutex.Lock()
	delete(d.memStore, fullKey)
	d.memMutex.Unlock()

	if d.client != nil {
		if err := d.client.Del(ctx, fullKey).Err(); err != nil {
			return fmt.Errorf("failed to delete artifact %s: %w", key, err)
		}
	}
	return nil
}

// Health returns diagnostics store health status
func (d *DiagnosticsService) Health() map[string]interface{} {
	health := make(map[string]interface{})

	if d.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := d.client.Ping(ctx).Err(); err != nil {
			health["redis"] = map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			}
		} else {
			health["redis"] = map[string]interface{}{
				"status": "healthy",
			}
		}
	} else {
		health["redis"] = map[string]interface{}{
			"status": "disabled",
		}
	}

	d.memMutex.RLock()
	size := len(d.memStore)
	d.memMutex.RUnlock()

	health["memory"] = map[string]interface{}{
		"status": "healthy",
		"size":   size,
		"ttl":    d.ttl.String(),
	}

	return health
}

func (d *DiagnosticsService) cleanupExpired() {
	d.memMutex.Lock()
	defer d.memMutex.Unlock()

	now := time.Now()
	for key, item := range d.memStore {
		if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
			delete(d.memStore, key)
		}
	}
}

// StartCleanupRoutine periodically drops expired memory artifacts until ctx is done
func (d *DiagnosticsService) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.cleanupExpired()
			}
		}
	}()
}

// String describes where artifacts go
func (d *DiagnosticsService) String() string {
	if d.client != nil {
		return fmt.Sprintf("redis(%s)", d.prefix)
	}
	return fmt.Sprintf("memory(%s)", d.prefix)
}
