package tftp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/netbootd/netbootd/errs"
)

// Server is the main RRQ dispatcher. It owns the well-known
// port; every transfer it accepts is handed off to a sub-server bound to an
// ephemeral port, so that a single slow or malicious client can never
// monopolize port 69.
type Server struct {
	Resolver Resolver
	Log      *slog.Logger

	conn *net.UDPConn
	subs *subServers
}

// NewServer constructs a Server that resolves filenames via resolver. Call
// Serve to bind and run it.
func NewServer(resolver Resolver, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{Resolver: resolver, Log: log}
}

// Serve binds addr (typically ":69") and runs the dispatch loop until ctx
// is cancelled or a fatal socket error occurs.
func (s *Server) Serve(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errs.Wrap(errs.InvalidFormat, err, "resolve TFTP listen address")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errs.Wrap(errs.InternalError, err, "bind TFTP listen socket")
	}
	s.conn = conn
	s.subs = newSubServers(s.Log)
	go s.subs.run(ctx)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65507)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errs.Wrap(errs.InternalError, err, "TFTP read loop")
			}
		}
		pkt := append([]byte(nil), buf[:n]...)
		go s.dispatch(ctx, pkt, from)
	}
}

// dispatch handles exactly one datagram on the main port. Only RRQ is
// meaningful here; everything else (stray ACK/ERROR from a transfer whose
// sub-server already took over, or an unsupported opcode) yields silence
// or a best-effort ERROR reply.
func (s *Server) dispatch(ctx context.Context, pkt []byte, from *net.UDPAddr) {
	op, err := ParseOpCode(pkt)
	if err != nil {
		s.Log.Warn("tftp: malformed packet", "from", from, "error", err)
		return
	}
	if op != OpRRQ {
		// ERROR packets arriving here mean a client aborted before its
		// sub-server took over; anything else is simply not our concern
		// on the main port.
		return
	}
	rrq, err := ParseRRQ(pkt[2:])
	if err != nil {
		s.replyError(from, NewError(ErrUndefined))
		return
	}
	s.Log.Info("tftp: RRQ", "from", from, "filename", rrq.Filename, "mode", rrq.Mode)

	src, err := s.Resolver.Resolve(rrq.Filename, from)
	if err != nil {
		s.Log.Info("tftp: RRQ failed", "from", from, "filename", rrq.Filename, "error", err)
		s.replyError(from, resolveErrorPacket(err))
		return
	}

	state := NewClientState(from, src, rrq.Mode)
	options, err := state.Negotiate(rrq.Options)
	if err != nil {
		src.Close()
		s.replyError(from, NewError(ErrInvalidOpt))
		return
	}

	sub, err := newSubServer(ctx, s.conn.LocalAddr(), state, s.Log)
	if err != nil {
		src.Close()
		s.Log.Error("tftp: failed to start sub-server", "error", err)
		s.replyError(from, NewError(ErrUndefined))
		return
	}

	var first interface{}
	if len(options) > 0 {
		first = OACK{Options: options}
	} else {
		block, err := state.GetBlock(1)
		if err != nil {
			sub.close()
			s.replyError(from, NewError(ErrUndefined))
			return
		}
		first = DATA{Block: 1, Data: block}
	}

	raw, err := Marshal(first)
	if err != nil {
		sub.close()
		return
	}
	if _, err := sub.conn.WriteToUDP(raw, from); err != nil {
		sub.close()
		return
	}
	state.LastSend = time.Now()
	s.subs.add(sub)
}

func (s *Server) replyError(to *net.UDPAddr, pkt ERRORPacket) {
	raw, err := Marshal(pkt)
	if err != nil {
		return
	}
	s.conn.WriteToUDP(raw, to)
}

func resolveErrorPacket(err error) ERRORPacket {
	switch {
	case errs.IsKind(err, errs.NotFound):
		return NewError(ErrNotFound)
	case errs.IsKind(err, errs.PermissionDenied):
		return NewError(ErrNotAuth)
	default:
		return NewError(ErrUndefined)
	}
}

// subServer owns the ephemeral socket for one transfer after its initial
// RRQ. It re-transmits the last unacknowledged DATA packet after timeout
// and abandons the transfer after five consecutive timeouts without any
// client traffic.
type subServer struct {
	conn    *net.UDPConn
	state   *ClientState
	log     *slog.Logger
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

func newSubServer(ctx context.Context, local net.Addr, state *ClientState, log *slog.Logger) (*subServer, error) {
	host, _, err := net.SplitHostPort(local.String())
	if err != nil {
		host = ""
	}
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &subServer{conn: conn, state: state, log: log, done: make(chan struct{})}, nil
}

func (sub *subServer) close() {
	sub.closeMu.Lock()
	defer sub.closeMu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.done)
	sub.conn.Close()
	sub.state.Close()
}

type subServerDatagram struct {
	data []byte
	from *net.UDPAddr
}

// run services this transfer's socket until the transfer finishes, errors,
// or times out, alternating between incoming datagrams and the retransmit
// ticker.
func (sub *subServer) run() {
	defer sub.close()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	incoming := make(chan subServerDatagram, 4)
	go func() {
		buf := make([]byte, MaxBlockSize+4)
		for {
			sub.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, from, err := sub.conn.ReadFromUDP(buf)
			select {
			case <-sub.done:
				return
			default:
			}
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return
			}
			pkt := append([]byte(nil), buf[:n]...)
			select {
			case incoming <- subServerDatagram{data: pkt, from: from}:
			case <-sub.done:
				return
			}
		}
	}()

	for {
		select {
		case <-sub.done:
			return
		case dg := <-incoming:
			sub.handlePacket(dg.data, dg.from)
		case <-ticker.C:
			if sub.retransmitOrAbandon() {
				return
			}
		}
	}
}

func (sub *subServer) handlePacket(raw []byte, from *net.UDPAddr) {
	if from.String() != sub.state.Address.String() {
		sub.log.Warn("tftp: ignoring packet from unexpected peer", "got", from, "want", sub.state.Address)
		return
	}
	sub.state.LastRecv = time.Now()

	op, err := ParseOpCode(raw)
	if err != nil {
		return
	}
	switch op {
	case OpACK:
		ack, err := ParseACK(raw[2:])
		if err != nil {
			return
		}
		sub.handleAck(ack)
	case OpERROR:
		errPkt, _ := ParseERROR(raw[2:])
		sub.log.Info("tftp: client aborted transfer", "peer", from, "message", errPkt.Message)
		sub.close()
	}
}

func (sub *subServer) handleAck(ack ACK) {
	st := sub.state
	st.Ack(ack.Block)

	next, err := st.GetBlock(ack.Block + 1)
	switch {
	case err == ErrAlreadyAcknowledged:
		return
	case err == ErrTransferDone:
		duration := time.Since(st.Started).Seconds()
		transferred := st.Transferred()
		rate := float64(transferred) / max(duration, 0.001) / 1024
		sub.log.Info("tftp: transfer complete",
			"peer", st.Address,
			"duration_s", duration,
			"bytes", humanize.Bytes(uint64(transferred)),
			"rate_kbps", rate)
		sub.close()
		return
	case err != nil:
		sub.sendError(NewError(ErrUndefined))
		sub.close()
		return
	}

	raw, err := Marshal(DATA{Block: ack.Block + 1, Data: next})
	if err != nil {
		return
	}
	sub.conn.WriteToUDP(raw, st.Address.(*net.UDPAddr))
	st.LastSend = time.Now()
}

func (sub *subServer) sendError(pkt ERRORPacket) {
	raw, err := Marshal(pkt)
	if err != nil {
		return
	}
	sub.conn.WriteToUDP(raw, sub.state.Address.(*net.UDPAddr))
}

// retransmitOrAbandon implements the transfer's timeout policy: re-send the
// unacknowledged blocks once the timeout has elapsed since the last send,
// and give up entirely once five timeouts pass without any client
// response at all. Returns true if the transfer was abandoned.
func (sub *subServer) retransmitOrAbandon() bool {
	st := sub.state
	now := time.Now()
	if now.Sub(st.LastRecv) <= st.Timeout {
		return false
	}
	if st.LastSend.Sub(st.LastRecv) > st.Timeout*5 {
		sub.log.Warn("tftp: transfer timed out", "peer", st.Address)
		sub.close()
		return true
	}
	if now.Sub(st.LastSend) > st.Timeout {
		st.mu.Lock()
		pending := make(map[uint16][]byte, len(st.blocks))
		for b, d := range st.blocks {
			pending[b] = d
		}
		st.mu.Unlock()
		for block, data := range pending {
			raw, err := Marshal(DATA{Block: block, Data: data})
			if err != nil {
				continue
			}
			sub.conn.WriteToUDP(raw, st.Address.(*net.UDPAddr))
		}
		st.LastSend = time.Now()
	}
	return false
}

// subServers is the supervisor goroutine that reaps sub-servers once their
// transfer completes or times out.
type subServers struct {
	log *slog.Logger
	mu  sync.Mutex
	set map[*subServer]struct{}
}

func newSubServers(log *slog.Logger) *subServers {
	return &subServers{log: log, set: make(map[*subServer]struct{})}
}

func (s *subServers) add(sub *subServer) {
	s.mu.Lock()
	s.set[sub] = struct{}{}
	s.mu.Unlock()
	go func() {
		sub.run()
		s.mu.Lock()
		delete(s.set, sub)
		s.mu.Unlock()
	}()
}

func (s *subServers) run(ctx context.Context) {
	<-ctx.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.set {
		sub.close()
	}
}
