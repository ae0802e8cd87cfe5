package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/swarmx-controlplane/common/logger"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
)

// fakeSink is an in-memory Sink stand-in so Bridge's drain loop can be
// exercised without a live Redis instance.
type fakeSink struct {
	mu        sync.Mutex
	published []eventlog.Envelope
}

func (f *fakeSink) Publish(_ context.Context, env eventlog.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func (f *fakeSink) Subscribe(context.Context, int64) (<-chan eventlog.Envelope, error) {
	return nil, nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) snapshot() []eventlog.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]eventlog.Envelope, len(f.published))
	copy(out, f.published)
	return out
}

func TestBridgeForwardsAppendedEnvelopesToSink(t *testing.T) {
	log, err := eventlog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Bridge(ctx, log, sink, logger.New("error", "json"))

	wf := uuid.New()
	_, err = log.Append(context.Background(), eventlog.NewEvent(eventlog.EventWorkflowStarted, wf, uuid.Nil, nil))
	require.NoError(t, err)
	_, err = log.Append(context.Background(), eventlog.NewEvent(eventlog.EventWorkflowCompleted, wf, uuid.Nil, nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	envs := sink.snapshot()
	assert.Equal(t, eventlog.EventWorkflowStarted, envs[0].Event.Type)
	assert.Equal(t, eventlog.EventWorkflowCompleted, envs[1].Event.Type)
}
