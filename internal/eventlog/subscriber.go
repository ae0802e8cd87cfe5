package eventlog

import "context"

// Subscriber yields envelopes appended since the last observed sequence. It
// is restartable: Poll may be called again after a process restart as long
// as the caller remembers the sequence it last saw.
type Subscriber interface {
	// Poll returns all envelopes with sequence > last_seen, where last_seen
	// is either the subscriber's starting sequence or the highest sequence
	// returned by a previous Poll, whichever is greater.
	Poll(ctx context.Context) ([]Envelope, error)
	// Notify returns a channel that receives a value whenever new events
	// may be available, letting callers (e.g. the websocket fan-out hub)
	// avoid busy-polling.
	Notify() <-chan struct{}
}

type logSubscriber struct {
	log      *SQLiteLog
	lastSeen int64
	notify   chan struct{}
}

func (l *SQLiteLog) Subscribe(fromSequence int64) Subscriber {
	s := &logSubscriber{log: l, lastSeen: fromSequence, notify: make(chan struct{}, 1)}
	l.subsMu.Lock()
	l.subs[s] = struct{}{}
	l.subsMu.Unlock()
	return s
}

func (l *SQLiteLog) notifySubscribers() {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for s := range l.subs {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (s *logSubscriber) Poll(ctx context.Context) ([]Envelope, error) {
	envs, err := s.log.ReadFrom(ctx, s.lastSeen+1)
	if err != nil {
		return nil, err
	}
	if len(envs) > 0 {
		s.lastSeen = envs[len(envs)-1].Sequence
	}
	return envs, nil
}

func (s *logSubscriber) Notify() <-chan struct{} { return s.notify }
