// Package eventbus bridges the event log to an external message bus. Per
// the system's design notes, the core only ever speaks to the abstract
// eventlog.Log; this is the one pluggable sink shipped in-tree, mirroring
// the teacher's Redis stream usage (cmd/fanout's wf.tasks.http pattern)
// instead of inventing a new broker integration.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/swarmx-controlplane/common/logger"
	rediswrap "github.com/lyzr/swarmx-controlplane/common/redis"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
)

// Sink is the pluggable external message-bus contract: publish envelopes as
// they're appended, and allow a remote subscriber to replay from a known
// sequence.
type Sink interface {
	Publish(ctx context.Context, env eventlog.Envelope) error
	Subscribe(ctx context.Context, fromSequence int64) (<-chan eventlog.Envelope, error)
	Close() error
}

// streamName is the Redis stream every envelope is mirrored onto, named
// after the teacher's wf.tasks.http convention but scoped to this system's
// event vocabulary instead of HTTP task dispatch specifically.
const streamName = "swarmx.controlplane.events"

// consumerGroup/consumerName back the bridge's own read position onto the
// stream via XREADGROUP, the durable-cursor mechanism common/redis.Client
// already wraps, instead of tracking lastID in process memory the way a
// plain XREAD loop would.
const (
	consumerGroup = "controlplane-bridge"
	consumerName  = "bridge-1"
)

// RedisSink mirrors every appended envelope onto a Redis stream, via the
// teacher's common/redis.Client wrapper, so out-of-process consumers
// (dashboards, audit shippers) can tail the event log without querying the
// embedded SQLite database directly.
type RedisSink struct {
	client *rediswrap.Client
	log    *logger.Logger
}

func NewRedisSink(client *rediswrap.Client, log *logger.Logger) *RedisSink {
	return &RedisSink{client: client, log: log}
}

func (s *RedisSink) Publish(ctx context.Context, env eventlog.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = s.client.AddToStream(ctx, streamName, map[string]interface{}{
		"sequence": env.Sequence,
		"envelope": string(payload),
	})
	if err != nil {
		s.log.Warn("eventbus: publish to redis stream failed", "sequence", env.Sequence, "error", err)
	}
	return err
}

// Subscribe creates (if absent) a consumer group positioned at the stream's
// start and streams decoded envelopes back on the returned channel,
// acknowledging each message as it is forwarded, closing the channel when
// ctx is cancelled.
func (s *RedisSink) Subscribe(ctx context.Context, fromSequence int64) (<-chan eventlog.Envelope, error) {
	if err := s.client.CreateStreamGroup(ctx, streamName, consumerGroup); err != nil {
		return nil, err
	}

	out := make(chan eventlog.Envelope, 256)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.ReadFromStreamGroup(ctx, consumerGroup, consumerName, streamName, 100, 0)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("eventbus: consumer group read failed", "error", err)
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					if raw, ok := msg.Values["envelope"].(string); ok {
						var env eventlog.Envelope
						if err := json.Unmarshal([]byte(raw), &env); err == nil && env.Sequence >= fromSequence {
							select {
							case out <- env:
							case <-ctx.Done():
								return
							}
						}
					}
					if err := s.client.AckStreamMessage(ctx, streamName, consumerGroup, msg.ID); err != nil {
						s.log.Warn("eventbus: ack failed", "message_id", msg.ID, "error", err)
					}
				}
			}
		}
	}()

	return out, nil
}

func (s *RedisSink) Close() error {
	return s.client.GetUnderlying().Close()
}

// Bridge drains a Log's live subscription and forwards every new envelope
// to Sink.Publish, running until ctx is cancelled. This is the glue that
// makes the event log's subscribe/poll contract actually reach the external
// bus without the coordinator or log knowing about Redis at all.
func Bridge(ctx context.Context, log eventlog.Log, sink Sink, lg *logger.Logger) {
	sub := log.Subscribe(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Notify():
		}

		envs, err := sub.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			lg.Warn("eventbus: poll failed", "error", err)
			continue
		}
		for _, env := range envs {
			if err := sink.Publish(ctx, env); err != nil {
				lg.Warn("eventbus: publish failed", "sequence", env.Sequence, "error", err)
			}
		}
	}
}
