// Package rpcclient implements the store client's transport: a bounded
// set of concurrent outstanding calls, each returning a Future that a
// dependent call can consume without blocking for the earlier call's
// reply (promise pipelining), plus a background reader that demultiplexes
// replies, errors, and watchHeads notify frames by frame ID.
package rpcclient

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tandem-vcs/tandem/internal/metrics"
	"github.com/tandem-vcs/tandem/internal/rpcproto"
	"github.com/tandem-vcs/tandem/internal/rpcwire"
	"github.com/tandem-vcs/tandem/internal/tandemerr"
)

// DefaultMaxInFlight bounds the number of calls dispatched without a
// received reply, per the spec's "bounded set of concurrent outstanding
// calls".
const DefaultMaxInFlight = 32

// Future is the handle to a call's eventual reply. Get blocks until the
// reply, error frame, or connection failure arrives.
type Future struct {
	done    chan struct{}
	payload []byte
	err     error
}

// Get blocks until the call completes and returns its raw reply payload.
func (f *Future) Get(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingCall struct {
	future *Future
}

type pendingWatch struct {
	notify chan rpcproto.NotifyPayload
	ack    chan error
}

// Client manages one connection's in-flight calls and active watchHeads
// subscriptions.
type Client struct {
	conn rpcwireConn

	sem chan struct{}

	mu       sync.Mutex
	nextID   uint64
	calls    map[uint64]pendingCall
	watches  map[uint64]pendingWatch
	writeMu  sync.Mutex
	closed   atomic.Bool
	closeErr error
}

// rpcwireConn is the subset of net.Conn this package needs, satisfied by
// anything rpcwire.ReadFrame/WriteFrame can use.
type rpcwireConn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dial opens a connection via connector and starts the client's read loop.
func Dial(ctx context.Context, connector rpcwire.Connector) (*Client, error) {
	conn, err := connector.Dial(ctx)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:    conn,
		sem:     make(chan struct{}, DefaultMaxInFlight),
		calls:   make(map[uint64]pendingCall),
		watches: make(map[uint64]pendingWatch),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the underlying connection, failing every pending call and
// watch.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) nextFrameID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *Client) writeFrame(f rpcwire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return rpcwire.WriteFrame(c.conn, f)
}

// Call dispatches method with args, acquiring an in-flight slot, and
// returns a Future for its reply. The caller decides when to await it;
// dependent calls may be issued before this one's Future is resolved,
// which is what makes a chain of Call/Call/Call promise-pipelined rather
// than request/response.
func (c *Client) Call(ctx context.Context, method string, args any) (*Future, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.InFlightRequests.Inc()

	payload, err := rpcwire.Encode(args)
	if err != nil {
		<-c.sem
		metrics.InFlightRequests.Dec()
		return nil, fmt.Errorf("rpcclient: encode args for %s: %w", method, err)
	}

	id := c.nextFrameID()
	future := &Future{done: make(chan struct{})}

	c.mu.Lock()
	c.calls[id] = pendingCall{future: future}
	c.mu.Unlock()

	if err := c.writeFrame(rpcwire.Frame{ID: id, Kind: rpcwire.KindCall, Method: method, Payload: payload}); err != nil {
		c.mu.Lock()
		delete(c.calls, id)
		c.mu.Unlock()
		<-c.sem
		metrics.InFlightRequests.Dec()
		return nil, fmt.Errorf("rpcclient: write call %s: %w", method, err)
	}

	go func() {
		<-future.done
		<-c.sem
		metrics.InFlightRequests.Dec()
	}()

	return future, nil
}

// CallSync issues method synchronously, decoding the reply into result.
// Used for the terminal call of a pipelined sequence (spec: "only the
// final updateOpHeads is awaited"), and for simple non-pipelined calls.
func (c *Client) CallSync(ctx context.Context, method string, args any, result any) error {
	future, err := c.Call(ctx, method, args)
	if err != nil {
		return err
	}
	payload, err := future.Get(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return rpcwire.Decode(payload, result)
}

// WatchHeads registers a watchHeads subscription starting after
// afterVersion. The returned channel delivers one NotifyPayload per
// notify frame; Cancel both unregisters server-side and closes the
// channel.
func (c *Client) WatchHeads(ctx context.Context, afterVersion int64) (<-chan rpcproto.NotifyPayload, func(), error) {
	payload, err := rpcwire.Encode(rpcproto.WatchHeadsArgs{AfterVersion: afterVersion})
	if err != nil {
		return nil, nil, err
	}

	id := c.nextFrameID()
	pw := pendingWatch{notify: make(chan rpcproto.NotifyPayload, 8), ack: make(chan error, 1)}

	c.mu.Lock()
	c.watches[id] = pw
	c.mu.Unlock()

	if err := c.writeFrame(rpcwire.Frame{ID: id, Kind: rpcwire.KindCall, Method: rpcproto.MethodWatchHeads, Payload: payload}); err != nil {
		c.mu.Lock()
		delete(c.watches, id)
		c.mu.Unlock()
		return nil, nil, err
	}

	select {
	case err := <-pw.ack:
		if err != nil {
			return nil, nil, err
		}
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	cancel := func() {
		c.mu.Lock()
		if w, ok := c.watches[id]; ok {
			delete(c.watches, id)
			close(w.notify)
		}
		c.mu.Unlock()
		c.writeFrame(rpcwire.Frame{ID: id, Kind: rpcwire.KindCancel})
	}

	return pw.notify, cancel, nil
}

func (c *Client) readLoop() {
	defer c.failAll(fmt.Errorf("rpcclient: connection closed"))
	for {
		frame, err := rpcwire.ReadFrame(c.conn)
		if err != nil {
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(f rpcwire.Frame) {
	switch f.Kind {
	case rpcwire.KindReply:
		c.mu.Lock()
		watch, isWatchAck := c.watches[f.ID]
		call, isCall := c.calls[f.ID]
		if isCall {
			delete(c.calls, f.ID)
		}
		c.mu.Unlock()

		if isWatchAck {
			watch.ack <- nil
			return
		}
		if isCall {
			call.future.payload = f.Payload
			close(call.future.done)
		}

	case rpcwire.KindError:
		var domainErr tandemerr.Error
		decodeErr := rpcwire.Decode(f.Payload, &domainErr)

		c.mu.Lock()
		watch, isWatchAck := c.watches[f.ID]
		if isWatchAck {
			delete(c.watches, f.ID)
		}
		call, isCall := c.calls[f.ID]
		if isCall {
			delete(c.calls, f.ID)
		}
		c.mu.Unlock()

		var callErr error = &domainErr
		if decodeErr != nil {
			callErr = fmt.Errorf("rpcclient: decode error frame: %w", decodeErr)
		}

		if isWatchAck {
			watch.ack <- callErr
			return
		}
		if isCall {
			call.future.err = callErr
			close(call.future.done)
		}

	case rpcwire.KindNotify:
		var payload rpcproto.NotifyPayload
		if err := rpcwire.Decode(f.Payload, &payload); err != nil {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		watch, ok := c.watches[f.ID]
		if !ok {
			return
		}
		select {
		case watch.notify <- payload:
		default:
			// Subscriber is behind; drop the stale entry and deliver the
			// newest payload instead of growing an unbounded backlog.
			select {
			case <-watch.notify:
			default:
			}
			select {
			case watch.notify <- payload:
			default:
			}
		}
	}
}

func (c *Client) failAll(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.closeErr = err

	c.mu.Lock()
	calls := c.calls
	c.calls = make(map[uint64]pendingCall)
	watches := c.watches
	c.watches = make(map[uint64]pendingWatch)
	c.mu.Unlock()

	for _, call := range calls {
		call.future.err = err
		close(call.future.done)
	}
	for _, w := range watches {
		select {
		case w.ack <- err:
		default:
		}
		close(w.notify)
	}
}
