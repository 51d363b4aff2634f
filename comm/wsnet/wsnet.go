// Package wsnet is a comm.Comm transport for one process per rank.
//
// Every rank serves a websocket endpoint and dials one outgoing connection
// to every other rank. Each binary frame is a 16 byte little endian header
// (source rank, tag) followed by the raw payload. Incoming frames are handed
// to a comm.Mailbox, so matching semantics equal those of comm.LocalWorld.
package wsnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/notargets/LatticeHalo/comm"
	"github.com/rs/zerolog"
)

const (
	path       = "/halo"
	headerSize = 16
)

// Comm is one rank's websocket endpoint
type Comm struct {
	rank     int
	size     int
	mailbox  *comm.Mailbox
	listener net.Listener
	server   *http.Server
	peers    []*peer
	log      zerolog.Logger

	mu       sync.Mutex
	inbound  []*websocket.Conn
	closed   bool
	serveErr chan error
}

type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Option configures a Comm
type Option func(*Comm)

// WithLogger attaches a logger; the default discards output
func WithLogger(l zerolog.Logger) Option {
	return func(c *Comm) {
		c.log = l.With().Int("rank", c.rank).Logger()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
}

// Listen starts serving rank's endpoint on addr (host:port, port 0 picks a
// free port). The Comm is not usable until Connect succeeds.
func Listen(rank int, addr string, opts ...Option) (*Comm, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rank %d listen on %s: %w", rank, addr, err)
	}
	c := &Comm{
		rank:     rank,
		mailbox:  comm.NewMailbox(),
		listener: ln,
		log:      zerolog.Nop(),
		serveErr: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, c.handle)
	c.server = &http.Server{Handler: mux}
	go func() {
		err := c.server.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			c.serveErr <- err
		}
		close(c.serveErr)
	}()
	c.log.Debug().Str("addr", c.Addr()).Msg("listening")
	return c, nil
}

// Addr is the address actually bound by Listen
func (c *Comm) Addr() string {
	return c.listener.Addr().String()
}

// Connect dials every other rank; addrs[r] is the endpoint of rank r.
// Peers that are not up yet are retried until ctx expires.
func (c *Comm) Connect(ctx context.Context, addrs []string) error {
	if c.rank < 0 || c.rank >= len(addrs) {
		return fmt.Errorf("rank %d outside address list of %d ranks", c.rank, len(addrs))
	}
	c.size = len(addrs)
	c.peers = make([]*peer, len(addrs))
	for r, addr := range addrs {
		if r == c.rank {
			continue
		}
		conn, err := dial(ctx, addr)
		if err != nil {
			return fmt.Errorf("rank %d connect to rank %d at %s: %w", c.rank, r, addr, err)
		}
		c.peers[r] = &peer{conn: conn}
	}
	c.log.Info().Int("size", c.size).Msg("connected")
	return nil
}

// Open is Listen followed by Connect, for launchers that know every address
func Open(ctx context.Context, rank int, addrs []string, opts ...Option) (*Comm, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("rank %d outside address list of %d ranks", rank, len(addrs))
	}
	c, err := Listen(rank, addrs[rank], opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx, addrs); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	url := "ws://" + addr + path
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (c *Comm) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("upgrade")
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.inbound = append(c.inbound, conn)
	c.mu.Unlock()
	go c.readLoop(conn)
}

func (c *Comm) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !c.isClosed() {
				c.log.Error().Err(err).Msg("read")
				c.mailbox.Close(fmt.Errorf("rank %d inbound connection: %w", c.rank, err))
			}
			return
		}
		if mt != websocket.BinaryMessage || len(data) < headerSize {
			c.log.Warn().Int("type", mt).Int("len", len(data)).Msg("dropping malformed frame")
			continue
		}
		source := int(int64(binary.LittleEndian.Uint64(data[0:8])))
		tag := int(int64(binary.LittleEndian.Uint64(data[8:16])))
		c.mailbox.Deliver(source, tag, data[headerSize:])
	}
}

func (c *Comm) Rank() int {
	return c.rank
}

func (c *Comm) Size() int {
	return c.size
}

func (c *Comm) Isend(dst, tag int, data []byte) *comm.Request {
	if dst < 0 || dst >= c.size {
		return failed(fmt.Errorf("rank %d: peer %d out of range [0, %d)", c.rank, dst, c.size))
	}
	if dst == c.rank {
		payload := make([]byte, len(data))
		copy(payload, data)
		c.mailbox.Deliver(c.rank, tag, payload)
		return succeeded(c.rank, tag, len(data))
	}
	frame := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint64(frame[0:8], uint64(int64(c.rank)))
	binary.LittleEndian.PutUint64(frame[8:16], uint64(int64(tag)))
	copy(frame[headerSize:], data)

	p := c.peers[dst]
	p.mu.Lock()
	err := p.conn.WriteMessage(websocket.BinaryMessage, frame)
	p.mu.Unlock()
	if err != nil {
		return failed(fmt.Errorf("rank %d send to %d tag %d: %w", c.rank, dst, tag, err))
	}
	return succeeded(c.rank, tag, len(data))
}

func (c *Comm) Irecv(src, tag int, buf []byte) *comm.Request {
	if src != comm.AnySource && (src < 0 || src >= c.size) {
		return failed(fmt.Errorf("rank %d: peer %d out of range [0, %d)", c.rank, src, c.size))
	}
	return c.mailbox.Post(src, tag, buf)
}

func (c *Comm) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down every connection and the listener. Pending receives
// fail with comm.ErrClosed.
func (c *Comm) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	inbound := c.inbound
	c.mu.Unlock()

	for _, p := range c.peers {
		if p == nil {
			continue
		}
		p.mu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.conn.Close()
		p.mu.Unlock()
	}
	for _, conn := range inbound {
		conn.Close()
	}
	c.mailbox.Close(comm.ErrClosed)
	err := c.server.Close()
	if serr := <-c.serveErr; serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

// Requests in this transport complete synchronously; the websocket write has
// already buffered or sent the frame when Isend returns.
func succeeded(rank, tag, n int) *comm.Request {
	return comm.Completed(comm.Status{Source: rank, Tag: tag, Count: n}, nil)
}

func failed(err error) *comm.Request {
	return comm.Completed(comm.Status{}, err)
}
