package distributed

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type messageType string

const (
	msgHello   messageType = "hello"
	msgReady   messageType = "ready"
	msgBarrier messageType = "barrier"
	msgRelease messageType = "release"
)

type message struct {
	Type messageType `json:"type"`
	Rank int         `json:"rank"`
}

// DialRetryInterval is the pause between attempts to reach rank 0.
var DialRetryInterval = 100 * time.Millisecond

type peer struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func newPeer(conn net.Conn) *peer {
	return &peer{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(bufio.NewReader(conn)),
	}
}

func (p *peer) send(ctx context.Context, m message) error {
	d, _ := ctx.Deadline()
	_ = p.conn.SetWriteDeadline(d)
	return p.enc.Encode(m)
}

func (p *peer) expect(ctx context.Context, want messageType) (message, error) {
	d, _ := ctx.Deadline()
	_ = p.conn.SetReadDeadline(d)
	stop := context.AfterFunc(ctx, func() { _ = p.conn.SetReadDeadline(time.Now()) })
	defer stop()

	var m message
	if err := p.dec.Decode(&m); err != nil {
		if ctx.Err() != nil {
			return m, ctx.Err()
		}
		return m, errors.Wrapf(ErrGroup, "failed to read %s: %v", want, err)
	}
	if m.Type != want {
		return m, errors.Wrapf(ErrGroup, "expected %s, got %s", want, m.Type)
	}
	return m, nil
}

// TCPGroup is a process group that meets at a TCP address hosted by rank 0.
// Rank 0 accepts one connection per other rank; ranks never talk to each
// other directly.
type TCPGroup struct {
	addr  string
	rank  int
	world int

	mu       sync.Mutex
	listener net.Listener
	peers    []*peer // indexed by rank on rank 0, only peers[0] elsewhere
}

// NewTCPGroup creates the group member of one rank.
//
// Arguments:
//   - addr: The host:port rank 0 listens on.
//   - rank: The rank of this process.
//   - world: The number of processes.
//
// Returns:
//   - *TCPGroup: The member, not yet initialized.
//   - error: ErrGroup if rank or world is out of range.
func NewTCPGroup(addr string, rank, world int) (*TCPGroup, error) {
	if world <= 0 || rank < 0 || rank >= world {
		return nil, errors.Wrapf(ErrGroup, "rank %d is outside a world of %d", rank, world)
	}
	return &TCPGroup{addr: addr, rank: rank, world: world}, nil
}

// Rank returns the rank of this process.
func (g *TCPGroup) Rank() int { return g.rank }

// WorldSize returns the number of processes.
func (g *TCPGroup) WorldSize() int { return g.world }

// Init forms the group. Rank 0 waits for every other rank to connect and
// then releases them together; other ranks retry until rank 0 is reachable.
func (g *TCPGroup) Init(ctx context.Context) error {
	if g.rank == 0 {
		return g.host(ctx)
	}
	return g.join(ctx)
}

func (g *TCPGroup) host(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.addr)
	if err != nil {
		return errors.Wrapf(ErrGroup, "failed to listen on %s: %v", g.addr, err)
	}
	g.mu.Lock()
	g.listener = ln
	g.peers = make([]*peer, g.world)
	g.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for joined := 1; joined < g.world; {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(ErrGroup, "accept failed: %v", err)
		}
		p := newPeer(conn)
		hello, err := p.expect(ctx, msgHello)
		if err != nil {
			conn.Close()
			return err
		}
		if hello.Rank <= 0 || hello.Rank >= g.world || g.peers[hello.Rank] != nil {
			conn.Close()
			return errors.Wrapf(ErrGroup, "unexpected hello from rank %d", hello.Rank)
		}
		g.peers[hello.Rank] = p
		joined++
	}
	return g.broadcast(ctx, msgReady)
}

func (g *TCPGroup) join(ctx context.Context) error {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", g.addr)
		if err == nil {
			p := newPeer(conn)
			g.mu.Lock()
			g.peers = []*peer{p}
			g.mu.Unlock()
			if err := p.send(ctx, message{Type: msgHello, Rank: g.rank}); err != nil {
				return errors.Wrapf(ErrGroup, "failed to greet rank 0: %v", err)
			}
			_, err = p.expect(ctx, msgReady)
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "rank 0 at %s unreachable", g.addr)
		case <-time.After(DialRetryInterval):
		}
	}
}

func (g *TCPGroup) broadcast(ctx context.Context, t messageType) error {
	for r := 1; r < g.world; r++ {
		if err := g.peers[r].send(ctx, message{Type: t, Rank: 0}); err != nil {
			return errors.Wrapf(ErrGroup, "failed to send %s to rank %d: %v", t, r, err)
		}
	}
	return nil
}

// Barrier blocks until every rank has called Barrier.
func (g *TCPGroup) Barrier(ctx context.Context) error {
	if len(g.peers) == 0 {
		return errors.Wrap(ErrGroup, "barrier before init")
	}
	if g.rank != 0 {
		if err := g.peers[0].send(ctx, message{Type: msgBarrier, Rank: g.rank}); err != nil {
			return errors.Wrapf(ErrGroup, "failed to reach barrier: %v", err)
		}
		_, err := g.peers[0].expect(ctx, msgRelease)
		return err
	}
	for r := 1; r < g.world; r++ {
		if _, err := g.peers[r].expect(ctx, msgBarrier); err != nil {
			return errors.WithMessagef(err, "rank %d", r)
		}
	}
	return g.broadcast(ctx, msgRelease)
}

// Close closes every connection and the listener.
func (g *TCPGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for _, p := range g.peers {
		if p == nil {
			continue
		}
		if err := p.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	g.peers = nil
	if g.listener != nil {
		if err := g.listener.Close(); err != nil && first == nil && !errors.Is(err, net.ErrClosed) {
			first = err
		}
		g.listener = nil
	}
	return first
}
