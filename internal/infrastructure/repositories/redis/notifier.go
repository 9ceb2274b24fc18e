package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"duelnet/internal/core/ports"
	"duelnet/pkg/retry"
)

const (
	opAdded   = "added"
	opRemoved = "removed"
)

// Notifier fans store changes out to subscribers. Document changes travel
// over pub/sub; collection changes are appended to a Redis stream per
// collection so late subscribers can replay them.
type Notifier struct {
	client *redis.Client
	logger *zap.SugaredLogger
	block  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNotifier(client *redis.Client, logger *zap.SugaredLogger) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		client: client,
		logger: logger,
		block:  time.Second,
		ctx:    ctx,
		cancel: cancel,
	}
}

// WatchDocument pumps pub/sub messages for one document until the returned
// function is called or the notifier stops.
func (n *Notifier) WatchDocument(pubsub *redis.PubSub, path string, onChange func(ports.Fields)) func() {
	ctx, cancel := context.WithCancel(n.ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fields, err := decodeFields([]byte(msg.Payload))
				if err != nil {
					n.logger.Warnw("dropping malformed document event",
						"path", path,
						"error", err,
					)
					continue
				}
				onChange(fields)
			}
		}
	}()
	return cancel
}

// TailCollection follows the change stream of a collection starting after
// lastID.
func (n *Notifier) TailCollection(stream, lastID string, onChange func(ports.DocumentChange)) func() {
	ctx, cancel := context.WithCancel(n.ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		backoff := retry.DefaultConfig()
		failures := 0
		for ctx.Err() == nil {
			res, err := n.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   64,
				Block:   n.block,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				n.logger.Warnw("collection stream read failed",
					"stream", stream,
					"error", err,
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(retry.Backoff(backoff, failures)):
				}
				if failures < 5 {
					failures++
				}
				continue
			}
			failures = 0

			for _, s := range res {
				for _, msg := range s.Messages {
					lastID = msg.ID
					change, err := parseChange(msg)
					if err != nil {
						n.logger.Warnw("dropping malformed collection event",
							"stream", stream,
							"entry_id", msg.ID,
							"error", err,
						)
						continue
					}
					if ctx.Err() != nil {
						return
					}
					onChange(change)
				}
			}
		}
	}()
	return cancel
}

// Close stops every watcher and waits for them to exit.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}

func decodeFields(data []byte) (ports.Fields, error) {
	var fields ports.Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("document body is null")
	}
	return fields, nil
}

func parseChange(msg redis.XMessage) (ports.DocumentChange, error) {
	op, _ := msg.Values["op"].(string)
	id, _ := msg.Values["id"].(string)
	if id == "" {
		return ports.DocumentChange{}, errors.New("entry without document id")
	}

	var change ports.DocumentChange
	switch op {
	case opAdded:
		change.Type = ports.ChangeAdded
	case opRemoved:
		change.Type = ports.ChangeRemoved
	default:
		return ports.DocumentChange{}, errors.New("unknown op " + op)
	}
	change.ID = id

	if body, ok := msg.Values["body"].(string); ok && body != "" {
		fields, err := decodeFields([]byte(body))
		if err != nil {
			return ports.DocumentChange{}, err
		}
		change.Fields = fields
	}
	return change, nil
}

// foldChanges replays a collection stream and returns the documents still
// present, in the order of their latest addition. A removed and re-added
// document moves to the end, matching the memory store.
func foldChanges(msgs []redis.XMessage) []ports.DocumentChange {
	var order []string
	live := make(map[string]ports.DocumentChange)
	for _, msg := range msgs {
		change, err := parseChange(msg)
		if err != nil {
			continue
		}
		switch change.Type {
		case ports.ChangeAdded:
			if _, ok := live[change.ID]; !ok {
				order = append(order, change.ID)
			}
			live[change.ID] = change
		case ports.ChangeRemoved:
			if _, ok := live[change.ID]; !ok {
				continue
			}
			delete(live, change.ID)
			for i, id := range order {
				if id == change.ID {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
		}
	}

	out := make([]ports.DocumentChange, 0, len(order))
	for _, id := range order {
		out = append(out, live[id])
	}
	return out
}
