package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/txreplay/internal/limiter"
	"github.com/SmitUplenchwar2687/txreplay/internal/recorder"
	"github.com/SmitUplenchwar2687/txreplay/internal/replay"
	"github.com/SmitUplenchwar2687/txreplay/internal/storage"
	"github.com/SmitUplenchwar2687/txreplay/internal/transport"
)

// Options configures a Dispatcher. Only Engine-independent collaborators
// live here; all of them are optional.
type Options struct {
	Key              []byte        // shared secret; empty disables the handshake
	HandshakeTimeout time.Duration // 0 selects transport.DefaultHandshakeTimeout
	Limiter          limiter.Limiter
	Stats            *storage.Stats
	Recorder         *recorder.Recorder
	Logger           *slog.Logger
}

// Dispatcher accepts client connections and runs one independent replay
// session per connection.
type Dispatcher struct {
	engine *replay.Engine
	opts   Options
	logger *slog.Logger

	seq    atomic.Uint64
	active atomic.Int64
}

// NewDispatcher creates a Dispatcher serving engine.
func NewDispatcher(engine *replay.Engine, opts Options) *Dispatcher {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = transport.DefaultHandshakeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		engine: engine,
		opts:   opts,
		logger: logger,
	}
}

// Active returns the number of sessions currently streaming.
func (d *Dispatcher) Active() int { return int(d.active.Load()) }

// Serve accepts connections on ln until ctx is done or ln is closed, then
// waits for running sessions to end. Any other accept error is returned;
// callers treat it as fatal.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	d.logger.Info("server: listen started", slog.String("addr", ln.Addr().String()))

	var eg errgroup.Group
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			cancel()
			_ = eg.Wait()
			return errtrace.Wrap(fmt.Errorf("accept: %w", err))
		}

		id := d.nextID()
		closeOnCancel := context.AfterFunc(ctx, func() {
			_ = nc.Close()
		})
		eg.Go(func() error {
			defer closeOnCancel()
			d.serveConn(ctx, id, nc)
			return nil
		})
	}

	d.logger.Info("server: listener closed, waiting for sessions", slog.Int("active", d.Active()))
	return errtrace.Wrap(eg.Wait())
}

func (d *Dispatcher) nextID() string {
	return strconv.FormatUint(d.seq.Add(1), 10)
}

// serveConn runs one TCP session. Nothing it does can reach the accept loop.
func (d *Dispatcher) serveConn(ctx context.Context, id string, nc net.Conn) {
	log := d.logger.With(slog.String("session", id), slog.String("remote", nc.RemoteAddr().String()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("session panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
		_ = nc.Close()
		log.Info("server: close")
	}()

	log.Info("server: client accepted")
	if !d.admit(ctx, nc.RemoteAddr().String(), log) {
		return
	}

	c := transport.NewConn(nc)
	if err := transport.ServerHandshake(c, d.opts.Key, d.opts.HandshakeTimeout); err != nil {
		log.Warn("handshake failed", slog.Any("err", err))
		d.count(ctx, storage.StatAuthFailures, log)
		return
	}

	// Clients send nothing after the handshake; a read result means the peer left.
	sink := watchPeer(c, func() error {
		_, err := c.Recv()
		return err
	})
	d.runSession(ctx, id, sink, log)
}

// errPeerGone reports a client that closed its side mid-session.
var errPeerGone = errors.New("peer closed the connection")

// peerSink fails every send once the peer has gone.
type peerSink struct {
	sink replay.Sink
	gone chan struct{}
}

// watchPeer reads from the peer with read until it fails.
func watchPeer(sink replay.Sink, read func() error) *peerSink {
	p := &peerSink{sink: sink, gone: make(chan struct{})}
	go func() {
		defer close(p.gone)
		for read() == nil {
		}
	}()
	return p
}

func (p *peerSink) Send(payload string) error {
	select {
	case <-p.gone:
		return errPeerGone
	default:
	}
	return p.sink.Send(payload)
}

// admit applies the admission limiter to the remote host.
func (d *Dispatcher) admit(ctx context.Context, remote string, log *slog.Logger) bool {
	if d.opts.Limiter == nil {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	dec := d.opts.Limiter.Allow(ctx, host)
	if dec.Allowed {
		return true
	}
	log.Warn("admission denied", slog.String("host", host), slog.Time("retry_at", dec.RetryAt))
	d.count(ctx, storage.StatAdmissionDenied, log)
	return false
}

// runSession replays the capture to sink and records the outcome.
func (d *Dispatcher) runSession(ctx context.Context, id string, sink replay.Sink, log *slog.Logger) *replay.Summary {
	d.active.Add(1)
	defer d.active.Add(-1)
	d.count(ctx, storage.StatSessionsStarted, log)

	var cb func(replay.Delivery)
	if rec := d.opts.Recorder; rec != nil {
		cb = func(dl replay.Delivery) {
			if err := rec.Record(dl); err != nil {
				log.Warn("journal write failed", slog.Any("err", err))
			}
		}
	}

	summary, err := d.engine.Run(ctx, id, sink, cb)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("session cancelled", slog.Int("delivered", summary.Delivered))
	default:
		log.Error("session failed", slog.Any("err", err))
	}

	if d.opts.Recorder != nil {
		d.opts.Recorder.Finish(*summary)
	}
	if d.opts.Stats != nil {
		if err := d.opts.Stats.SessionEnded(context.WithoutCancel(ctx), string(summary.State), summary.Delivered); err != nil {
			log.Warn("stats update failed", slog.Any("err", err))
		}
	}
	return summary
}

func (d *Dispatcher) count(ctx context.Context, name string, log *slog.Logger) {
	if d.opts.Stats == nil {
		return
	}
	if err := d.opts.Stats.Add(context.WithoutCancel(ctx), name, 1); err != nil {
		log.Warn("stats update failed", slog.String("counter", name), slog.Any("err", err))
	}
}
