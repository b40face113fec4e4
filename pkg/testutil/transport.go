package testutil

import (
	"context"
	"sync"

	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/rotisserie/eris"
)

// ErrChannelClosed is returned by Recv after Close
var ErrChannelClosed = eris.New("channel closed")

// FakeChannel is a scriptable push channel
type FakeChannel struct {
	EventID string
	League  string

	msgs chan contracts.PushMessage
	fail chan error
	done chan struct{}
	once sync.Once
}

func newFakeChannel(eventID, league string) *FakeChannel {
	return &FakeChannel{
		EventID: eventID,
		League:  league,
		msgs:    make(chan contracts.PushMessage, 16),
		fail:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Send queues a message for the subscriber
func (c *FakeChannel) Send(msg contracts.PushMessage) {
	select {
	case c.msgs <- msg:
	case <-c.done:
	}
}

// Disconnect makes the next Recv fail as a transport error
func (c *FakeChannel) Disconnect(err error) {
	if err == nil {
		err = eris.New("connection reset")
	}
	select {
	case c.fail <- err:
	default:
	}
}

// Recv implements contracts.PushChannel
func (c *FakeChannel) Recv(ctx context.Context) (contracts.PushMessage, error) {
	select {
	case err := <-c.fail:
		return contracts.PushMessage{}, err
	case <-c.done:
		return contracts.PushMessage{}, ErrChannelClosed
	case <-ctx.Done():
		return contracts.PushMessage{}, ctx.Err()
	case msg := <-c.msgs:
		return msg, nil
	}
}

// Close implements contracts.PushChannel; repeated calls are no-ops
func (c *FakeChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Closed reports whether Close has been called
func (c *FakeChannel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// FakeTransport hands out FakeChannels and records every open
type FakeTransport struct {
	mu       sync.Mutex
	channels map[string][]*FakeChannel
	openErr  map[string]error
}

// NewFakeTransport creates an empty transport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		channels: make(map[string][]*FakeChannel),
		openErr:  make(map[string]error),
	}
}

// SetOpenError makes opens for an event fail until cleared with nil
func (t *FakeTransport) SetOpenError(eventID string, err error) {
	t.mu.Lock()
	if err == nil {
		delete(t.openErr, eventID)
	} else {
		t.openErr[eventID] = err
	}
	t.mu.Unlock()
}

// Open implements contracts.PushTransport
func (t *FakeTransport) Open(ctx context.Context, eventID, league string) (contracts.PushChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.openErr[eventID]; err != nil {
		return nil, err
	}
	ch := newFakeChannel(eventID, league)
	t.channels[eventID] = append(t.channels[eventID], ch)
	return ch, nil
}

// Opens returns how many channels were opened for an event
func (t *FakeTransport) Opens(eventID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.channels[eventID])
}

// Latest returns the most recently opened channel for an event
func (t *FakeTransport) Latest(eventID string) *FakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	chs := t.channels[eventID]
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

// OpenChannels counts channels that have not been closed
func (t *FakeTransport) OpenChannels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, chs := range t.channels {
		for _, ch := range chs {
			if !ch.Closed() {
				n++
			}
		}
	}
	return n
}
