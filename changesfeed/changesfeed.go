// Package changesfeed is a thin wrapper over store.Adapter's Changes
// operation: a one-shot helper and a live state machine
// (FetchingInitial -> Yielding -> {Waiting | Done}), with no storage logic
// of its own. Live wraps the state machine in a background goroutine
// feeding a channel, torn down by a context.CancelFunc.
package changesfeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evalgo-org/rouchdb/logging"
	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/store"
)

// Now is the sentinel accepted as Options.Since, meaning "start from the
// current update_seq and only report changes from here on". It is only
// meaningful in live mode; a one-shot One() call with Since: Now returns no
// events.
var Now = rev.FromOpaque("now")

// DefaultPollInterval is used when the adapter offers no change broadcast
// (the HTTP backend) and Live must fall back to polling.
const DefaultPollInterval = 500 * time.Millisecond

// Options configures both One and Live.
type Options struct {
	Since        rev.Seq
	IncludeDocs  bool
	DocIDs       []string
	Selector     json.RawMessage
	Limit        int // 0 means unbounded
	PollInterval time.Duration
	// Live marks a Stream as continuous: once its initial batch (and any
	// subsequent non-empty fetch) is drained, Next waits for more changes
	// instead of ending. NewStream honors this; One ignores it (it always
	// makes a single call); Live always forces it true regardless of what
	// the caller passed.
	Live bool
}

// One fetches changes since opts.Since in a single call and returns them.
func One(ctx context.Context, adapter store.Adapter, opts Options) (store.ChangesResponse, error) {
	since := opts.Since
	if since == Now {
		info, err := adapter.Info(ctx)
		if err != nil {
			return store.ChangesResponse{}, err
		}
		since = info.UpdateSeq
	}
	return adapter.Changes(ctx, store.ChangesOptions{
		Since:       since,
		Limit:       opts.Limit,
		IncludeDocs: opts.IncludeDocs,
		DocIDs:      opts.DocIDs,
		Selector:    opts.Selector,
	})
}

type state int

const (
	stateFetchingInitial state = iota
	stateYielding
	stateWaiting
	stateDone
)

// Stream is the live-changes state machine: FetchingInitial
// fetches the first batch, Yielding drains it one event at a time, Waiting
// blocks on the adapter's change broadcast (or sleeps PollInterval when the
// adapter implements no store.ChangeNotifier) before fetching again, and
// Done ends the stream once Limit events have been yielded. It is not safe
// for concurrent use from multiple goroutines; Live wraps one Stream with a
// single consuming goroutine.
type Stream struct {
	adapter  store.Adapter
	opts     Options
	notifyCh <-chan store.ChangeNotification
	cancel   func()

	lastSeq   rev.Seq
	resolved  bool
	buffer    []store.ChangeEvent
	bufferIdx int
	state     state
	count     int
}

// NewStream constructs a Stream over adapter; the Stream is live only when
// opts.Live is set. If adapter implements
// store.ChangeNotifier, Waiting blocks on its broadcast channel instead of
// polling.
func NewStream(adapter store.Adapter, opts Options) *Stream {
	s := &Stream{adapter: adapter, opts: opts, lastSeq: opts.Since, state: stateFetchingInitial}
	if notifier, ok := adapter.(store.ChangeNotifier); ok {
		s.notifyCh, s.cancel = notifier.Notify()
	}
	return s
}

// Close releases the Stream's change-broadcast subscription, if any. Safe to
// call more than once.
func (s *Stream) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Stream) fetch(ctx context.Context) error {
	since := s.lastSeq
	if !s.resolved && since == Now {
		info, err := s.adapter.Info(ctx)
		if err != nil {
			return err
		}
		since = info.UpdateSeq
	}
	s.resolved = true

	limit := 0
	if s.opts.Limit > 0 {
		limit = s.opts.Limit - s.count
		if limit <= 0 {
			s.buffer = nil
			s.bufferIdx = 0
			return nil
		}
	}

	resp, err := s.adapter.Changes(ctx, store.ChangesOptions{
		Since:       since,
		Limit:       limit,
		IncludeDocs: s.opts.IncludeDocs,
		DocIDs:      s.opts.DocIDs,
		Selector:    s.opts.Selector,
	})
	if err != nil {
		return err
	}
	if len(resp.Results) > 0 {
		s.lastSeq = resp.LastSeq
	} else {
		s.lastSeq = since
	}
	s.buffer = resp.Results
	s.bufferIdx = 0
	return nil
}

func (s *Stream) wait(ctx context.Context) error {
	pollInterval := s.opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	if s.notifyCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-s.notifyCh:
			if !ok {
				return ctx.Err()
			}
		}
		return nil
	}

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Next returns the next change event, blocking if none is immediately
// available. It returns ok=false with a nil error once Limit events have
// been yielded or the Stream is not live and its buffer is drained. If ctx
// is cancelled while waiting, it returns ok=false with ctx's error; errors
// from the underlying adapter call are returned unmodified.
func (s *Stream) Next(ctx context.Context) (store.ChangeEvent, bool, error) {
	for {
		if s.opts.Limit > 0 && s.count >= s.opts.Limit {
			s.state = stateDone
		}

		switch s.state {
		case stateFetchingInitial:
			if err := s.fetch(ctx); err != nil {
				return store.ChangeEvent{}, false, err
			}
			if len(s.buffer) == 0 {
				if s.opts.Live {
					s.state = stateWaiting
				} else {
					s.state = stateDone
				}
				continue
			}
			s.state = stateYielding

		case stateYielding:
			if s.bufferIdx < len(s.buffer) {
				event := s.buffer[s.bufferIdx]
				s.bufferIdx++
				s.count++
				return event, true, nil
			}
			if s.opts.Live {
				s.state = stateWaiting
			} else {
				s.state = stateDone
			}

		case stateWaiting:
			if err := s.wait(ctx); err != nil {
				return store.ChangeEvent{}, false, err
			}
			if err := s.fetch(ctx); err != nil {
				return store.ChangeEvent{}, false, err
			}
			if len(s.buffer) > 0 {
				s.state = stateYielding
			}
			// else: stay in Waiting and loop around

		case stateDone:
			return store.ChangeEvent{}, false, nil
		}
	}
}

// Live starts a background goroutine that feeds change events from adapter
// into the returned channel until ctx is cancelled, Options.Limit events
// have been yielded, or the Stream hits an unrecoverable error (the channel
// is simply closed; callers that need the error should call One/Stream
// directly instead). The returned cancel func stops the goroutine and
// releases the adapter subscription; it is safe to call more than once and
// should always be called to avoid leaking the goroutine.
func Live(ctx context.Context, adapter store.Adapter, opts Options) (<-chan store.ChangeEvent, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	out := make(chan store.ChangeEvent, 64)
	opts.Live = true
	stream := NewStream(adapter, opts)

	go func() {
		defer close(out)
		defer stream.Close()
		defer logging.LogPanic(logging.NewContextLogger(nil, map[string]interface{}{"component": "changesfeed"}))
		for {
			event, ok, err := stream.Next(runCtx)
			if err != nil || !ok {
				return
			}
			select {
			case out <- event:
			case <-runCtx.Done():
				return
			}
		}
	}()

	return out, cancel
}
