package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/pkg/retry"
	"duelnet/pkg/tracing"
	"duelnet/pkg/utils"
)

const (
	keyPrefix        = "duelnet:"
	docPrefix        = keyPrefix + "doc:"
	collectionPrefix = keyPrefix + "col:"
	eventPrefix      = keyPrefix + "doc-events:"
)

func docKey(path string) string {
	return docPrefix + normalize(path)
}

func collectionKey(collection string) string {
	return collectionPrefix + normalize(collection)
}

func eventChannel(path string) string {
	return eventPrefix + normalize(path)
}

func normalize(path string) string {
	return strings.Trim(path, "/")
}

// RedisDocumentStore keeps each document as a JSON string with a TTL.
// Merges run in WATCH/MULTI transactions and are retried when another
// writer touched the document in between.
type RedisDocumentStore struct {
	client   *redis.Client
	notifier *Notifier
	ttl      time.Duration
	txRetry  retry.Config
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

func NewRedisDocumentStore(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *RedisDocumentStore {
	if ttl <= 0 {
		ttl = ports.DocumentTTL
	}
	txRetry := retry.DefaultConfig()
	txRetry.MaxAttempts = 8
	txRetry.InitialDelay = 5 * time.Millisecond
	txRetry.MaxDelay = 200 * time.Millisecond
	txRetry.Retryable = retry.On(redis.TxFailedErr)

	return &RedisDocumentStore{
		client:   client,
		notifier: NewNotifier(client, logger),
		ttl:      ttl,
		txRetry:  txRetry,
		logger:   logger,
	}
}

func (s *RedisDocumentStore) CreateDocument(ctx context.Context, path string, fields ports.Fields) error {
	return s.write(ctx, "create", path, fields, false)
}

func (s *RedisDocumentStore) MergeDocument(ctx context.Context, path string, fields ports.Fields) error {
	return s.write(ctx, "merge", path, fields, true)
}

func (s *RedisDocumentStore) write(ctx context.Context, op, path string, fields ports.Fields, merge bool) error {
	path = normalize(path)
	if path == "" {
		return domain.ErrInvalidDocument
	}
	ctx, span := tracing.TraceStoreOperation(ctx, "redis", op, path)
	defer span.End()

	key := docKey(path)
	parent, id := utils.SplitPath(path)

	err := retry.Do(ctx, s.txRetry, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, existed, err := getFields(ctx, tx, key)
			if err != nil {
				return err
			}

			body := ports.Fields{}
			if merge && existed {
				body = existing
			}
			for k, v := range fields {
				body[k] = v
			}
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode %s: %w", path, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.ttl)
				pipe.Publish(ctx, eventChannel(path), data)
				if !existed {
					s.appendChange(ctx, pipe, parent, opAdded, id, data)
				}
				return nil
			})
			return err
		}, key)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("%s document %s: %w", op, path, err)
	}
	return nil
}

func (s *RedisDocumentStore) appendChange(ctx context.Context, pipe redis.Pipeliner, collection, op, id string, body []byte) {
	stream := collectionKey(collection)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{"op": op, "id": id, "body": string(body)},
	})
	pipe.Expire(ctx, stream, s.ttl)
}

func (s *RedisDocumentStore) DeleteDocument(ctx context.Context, path string) error {
	path = normalize(path)
	ctx, span := tracing.TraceStoreOperation(ctx, "redis", "delete", path)
	defer span.End()

	key := docKey(path)
	parent, id := utils.SplitPath(path)

	err := retry.Do(ctx, s.txRetry, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				s.appendChange(ctx, pipe, parent, opRemoved, id, raw)
				return nil
			})
			return err
		}, key)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	return nil
}

func (s *RedisDocumentStore) AddToCollection(ctx context.Context, collection string, fields ports.Fields) (string, error) {
	collection = normalize(collection)
	if collection == "" {
		return "", domain.ErrInvalidDocument
	}
	id := utils.GenerateDocumentID()
	if err := s.CreateDocument(ctx, collection+"/"+id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// GetDocument reads one document body.
func (s *RedisDocumentStore) GetDocument(ctx context.Context, path string) (ports.Fields, error) {
	fields, ok, err := getFields(ctx, s.client, docKey(path))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return fields, nil
}

func (s *RedisDocumentStore) SubscribeDocument(ctx context.Context, path string, onChange func(ports.Fields)) (ports.Unsubscribe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	path = normalize(path)

	pubsub := s.client.Subscribe(ctx, eventChannel(path))
	// wait for the subscription so no write between here and the snapshot is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	snapshot, exists, err := getFields(ctx, s.client, docKey(path))
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if exists {
		onChange(snapshot)
	}

	stop := s.notifier.WatchDocument(pubsub, path, onChange)
	var once sync.Once
	return func() { once.Do(stop) }, nil
}

func (s *RedisDocumentStore) SubscribeCollection(ctx context.Context, collection string, onChange func(ports.DocumentChange)) (ports.Unsubscribe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stream := collectionKey(collection)

	history, err := s.client.XRange(ctx, stream, "-", "+").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read collection %s: %w", collection, err)
	}
	lastID := "0"
	if len(history) > 0 {
		lastID = history[len(history)-1].ID
	}
	for _, change := range foldChanges(history) {
		onChange(change)
	}

	stop := s.notifier.TailCollection(stream, lastID, onChange)
	var once sync.Once
	return func() { once.Do(stop) }, nil
}

func (s *RedisDocumentStore) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close stops all subscriptions and closes the client.
func (s *RedisDocumentStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.notifier.Close()
	return s.client.Close()
}

var ErrStoreClosed = errors.New("document store closed")

func (s *RedisDocumentStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getFields(ctx context.Context, c getter, key string) (ports.Fields, bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
	}
	return fields, true, nil
}
