// Package rpcserver dispatches frames arriving on a Connector to a
// serverstore.Store, one goroutine per connection and one goroutine per
// in-flight call so that a client's promise-pipelined calls are genuinely
// concurrent on the wire, not just buffered client-side. Grounded on the
// accept-loop/per-connection-goroutine shape of a protocol adapter's
// shared TCP lifecycle, generalized from one listener per protocol to one
// listener per store.
package rpcserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-vcs/tandem/internal/coordinator"
	"github.com/tandem-vcs/tandem/internal/logging"
	"github.com/tandem-vcs/tandem/internal/metrics"
	"github.com/tandem-vcs/tandem/internal/rpcproto"
	"github.com/tandem-vcs/tandem/internal/rpcwire"
	"github.com/tandem-vcs/tandem/internal/serverstore"
	"github.com/tandem-vcs/tandem/internal/tandemerr"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
	"github.com/tandem-vcs/tandem/internal/watch"
)

// Server accepts connections from a Connector and dispatches frames to a
// Store.
type Server struct {
	store     *serverstore.Store
	broker    *watch.Broker
	connector rpcwire.Connector

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	ready    chan struct{}
}

// New creates a Server over store, using broker for watchHeads
// subscriptions and connector for accepting connections.
func New(store *serverstore.Store, broker *watch.Broker, connector rpcwire.Connector) *Server {
	return &Server{store: store, broker: broker, connector: connector, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound and Serve is about to begin
// accepting connections, for a caller (the lifecycle manager collaborator)
// to observe server start.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve accepts connections until ctx is canceled or Stop is called.
// Closing the listener is what unblocks Accept; this method returns once
// every connection goroutine it spawned has exited.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := s.connector.Listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	close(s.ready)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			s.wg.Wait()
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rpcserver: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop closes the listener, unblocking Accept. It does not forcibly close
// in-flight connections; Serve returns once they drain.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
}

type connState struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
	subsMu  sync.Mutex
	subs    map[uint64]chan struct{}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	// Deferred calls run in reverse: subscriptions are stopped first so that
	// live watchHeads goroutines return before wg.Wait waits for them.
	var wg sync.WaitGroup
	defer wg.Wait()
	cs := &connState{id: uuid.NewString(), conn: conn, subs: make(map[uint64]chan struct{})}
	defer cs.closeAllSubscriptions()

	log := logging.WithComponent("rpcserver").With().Str("conn", cs.id).Logger()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
	defer log.Debug().Msg("client disconnected")

	for {
		frame, err := rpcwire.ReadFrame(conn)
		if err != nil {
			return
		}

		switch frame.Kind {
		case rpcwire.KindCall:
			wg.Add(1)
			go func(f rpcwire.Frame) {
				defer wg.Done()
				s.dispatch(cs, f)
			}(frame)
		case rpcwire.KindCancel:
			cs.unsubscribe(frame.ID)
		default:
			log.Warn().Stringer("kind", frame.Kind).Msg("unexpected frame kind from client")
		}
	}
}

func (cs *connState) writeFrame(f rpcwire.Frame) error {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	return rpcwire.WriteFrame(cs.conn, f)
}

// addSubscription registers a stop channel for a watchHeads subscription
// keyed by the call's frame ID, which the client reuses as the cancel
// frame's ID. Returns false if an id is reused while still live.
func (cs *connState) addSubscription(id uint64, stop chan struct{}) bool {
	cs.subsMu.Lock()
	defer cs.subsMu.Unlock()
	if _, exists := cs.subs[id]; exists {
		return false
	}
	cs.subs[id] = stop
	return true
}

func (cs *connState) removeSubscription(id uint64) (chan struct{}, bool) {
	cs.subsMu.Lock()
	defer cs.subsMu.Unlock()
	stop, ok := cs.subs[id]
	if ok {
		delete(cs.subs, id)
	}
	return stop, ok
}

func (cs *connState) unsubscribe(id uint64) {
	if stop, ok := cs.removeSubscription(id); ok {
		close(stop)
	}
}

func (cs *connState) closeAllSubscriptions() {
	cs.subsMu.Lock()
	stops := make([]chan struct{}, 0, len(cs.subs))
	for id, stop := range cs.subs {
		stops = append(stops, stop)
		delete(cs.subs, id)
	}
	cs.subsMu.Unlock()
	for _, stop := range stops {
		close(stop)
	}
}

func (s *Server) dispatch(cs *connState, f rpcwire.Frame) {
	start := time.Now()
	defer func() {
		metrics.RPCLatency.WithLabelValues(f.Method).Observe(time.Since(start).Seconds())
	}()

	if f.Method == rpcproto.MethodWatchHeads {
		s.handleWatchHeads(cs, f)
		return
	}

	result, err := s.call(f.Method, f.Payload)
	if err != nil {
		s.replyError(cs, f.ID, err)
		return
	}
	if err := cs.writeFrame(rpcwire.Frame{ID: f.ID, Kind: rpcwire.KindReply, Method: f.Method, Payload: result}); err != nil {
		logging.WithComponent("rpcserver").Debug().Str("conn", cs.id).Err(err).Msg("write reply failed, client likely disconnected")
	}
}

func (s *Server) replyError(cs *connState, id uint64, err error) {
	domainErr, ok := err.(*tandemerr.Error)
	if !ok {
		domainErr = tandemerr.New(tandemerr.Internal, "%v", err)
	}
	payload, encErr := rpcwire.Encode(domainErr)
	if encErr != nil {
		return
	}
	cs.writeFrame(rpcwire.Frame{ID: id, Kind: rpcwire.KindError, Payload: payload})
}

// call dispatches every method except watchHeads, which needs the
// connection-scoped streaming path above.
func (s *Server) call(method string, payload []byte) ([]byte, error) {
	switch method {
	case rpcproto.MethodGetRepoInfo:
		return rpcwire.Encode(s.store.GetRepoInfo())

	case rpcproto.MethodGetObject:
		var args rpcproto.GetObjectArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode getObject args: %v", err)
		}
		id, err := tandemtypes.HashFromBytes(args.ID)
		if err != nil {
			return nil, tandemerr.InvalidIDLengthf(tandemtypes.HashSize, len(args.ID)).WithDetail("object_type", string(args.Kind))
		}
		data, err := s.store.GetObject(args.Kind, id)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.GetObjectResult{Data: data})

	case rpcproto.MethodPutObject:
		var args rpcproto.PutObjectArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode putObject args: %v", err)
		}
		id, normalized, err := s.store.PutObject(args.Kind, args.Data)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.PutObjectResult{ID: id, NormalizedData: normalized})

	case rpcproto.MethodGetOperation:
		var args rpcproto.GetOperationArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode getOperation args: %v", err)
		}
		data, err := s.store.GetOperation(args.ID)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.GetOperationResult{Data: data})

	case rpcproto.MethodPutOperation:
		var args rpcproto.PutOperationArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode putOperation args: %v", err)
		}
		id, err := s.store.PutOperation(args.Data)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.PutOperationResult{ID: id})

	case rpcproto.MethodGetView:
		var args rpcproto.GetViewArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode getView args: %v", err)
		}
		data, err := s.store.GetView(args.ID)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.GetOperationResult{Data: data})

	case rpcproto.MethodPutView:
		var args rpcproto.PutOperationArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode putView args: %v", err)
		}
		id, err := s.store.PutView(args.Data)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.PutOperationResult{ID: id})

	case rpcproto.MethodResolveOperationIDPrefix:
		var args rpcproto.ResolveOperationIDPrefixArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode resolveOperationIdPrefix args: %v", err)
		}
		resolution, match, err := s.store.ResolveOperationIDPrefix(args.HexPrefix)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.ResolveOperationIDPrefixResult{Resolution: resolution, Match: match})

	case rpcproto.MethodGetHeads:
		snap, err := s.store.GetHeads()
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(toHeadsResult(snap))

	case rpcproto.MethodUpdateOpHeads:
		var args rpcproto.UpdateOpHeadsArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode updateOpHeads args: %v", err)
		}
		ok, snap, err := s.store.UpdateOpHeads(args.OldIDs, args.NewID, args.ExpectedVersion, args.WorkspaceID)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.UpdateOpHeadsResult{OK: ok, Heads: toHeadsResult(snap)})

	case rpcproto.MethodGetHeadsSnapshot:
		snap, operations, views, err := s.store.GetHeadsSnapshot()
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.GetHeadsSnapshotResult{Heads: toHeadsResult(snap), Operations: operations, Views: views})

	case rpcproto.MethodGetRelatedCopies:
		var args rpcproto.GetRelatedCopiesArgs
		if err := rpcwire.Decode(payload, &args); err != nil {
			return nil, tandemerr.InvalidDataf("decode getRelatedCopies args: %v", err)
		}
		copies, err := s.store.GetRelatedCopies(args.CopyID)
		if err != nil {
			return nil, err
		}
		return rpcwire.Encode(rpcproto.GetRelatedCopiesResult{Copies: copies})

	default:
		return nil, tandemerr.Unsupportedf("unknown method %q", method)
	}
}

func toHeadsResult(snap coordinator.Snapshot) rpcproto.HeadsResult {
	return rpcproto.HeadsResult{
		Heads:          snap.Heads,
		Version:        snap.Version,
		WorkspaceHeads: snap.WorkspaceHeads,
	}
}

// handleWatchHeads registers a subscription on the broker and streams
// notify frames back to the client under the call's own frame ID until the
// client sends a matching cancel frame or the connection drops. It sends
// one notification immediately if the current version already exceeds
// afterVersion, matching the spec's "immediately catch up" requirement.
func (s *Server) handleWatchHeads(cs *connState, f rpcwire.Frame) {
	var args rpcproto.WatchHeadsArgs
	if err := rpcwire.Decode(f.Payload, &args); err != nil {
		s.replyError(cs, f.ID, tandemerr.InvalidDataf("decode watchHeads args: %v", err))
		return
	}

	stop := make(chan struct{})
	if !cs.addSubscription(f.ID, stop) {
		s.replyError(cs, f.ID, tandemerr.New(tandemerr.Internal, "watch id %d already registered", f.ID))
		return
	}

	sub := s.broker.Subscribe()

	ackPayload, err := rpcwire.Encode(rpcproto.WatchHeadsResult{})
	if err != nil {
		cs.removeSubscription(f.ID)
		s.broker.Unsubscribe(sub)
		return
	}
	if err := cs.writeFrame(rpcwire.Frame{ID: f.ID, Kind: rpcwire.KindReply, Method: f.Method, Payload: ackPayload}); err != nil {
		cs.removeSubscription(f.ID)
		s.broker.Unsubscribe(sub)
		return
	}

	if snap, err := s.store.GetHeads(); err == nil && snap.Version > args.AfterVersion {
		s.pushNotify(cs, f.ID, snap.Version, snap.Heads, snap.WorkspaceHeads)
	}

	defer s.broker.Unsubscribe(sub)
	for {
		select {
		case n, ok := <-sub:
			if !ok {
				return
			}
			if !s.pushNotify(cs, f.ID, n.Version, n.OpHeads, n.WorkspaceHeads) {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *Server) pushNotify(cs *connState, id uint64, version int64, opHeads []tandemtypes.Hash, workspaceHeads tandemtypes.WorkspaceHeads) bool {
	payload, err := rpcwire.Encode(rpcproto.NotifyPayload{Version: version, Heads: opHeads, WorkspaceHeads: workspaceHeads})
	if err != nil {
		return false
	}
	if err := cs.writeFrame(rpcwire.Frame{ID: id, Kind: rpcwire.KindNotify, Method: rpcproto.MethodNotify, Payload: payload}); err != nil {
		return false
	}
	return true
}
