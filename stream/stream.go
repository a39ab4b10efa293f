package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/dispatch"
	"github.com/katzenpost/dctransport/internal/worker"
	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/wire"
)

// Clock is the minimal time source Stream needs: now() and a
// cancelable sleep, matching transport.Clock's method set structurally
// so a transport.WallClock (or a test fake) satisfies it without this
// package importing transport.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) (time.Time, error)
}

// SendFunc transmits one fully sealed wire packet to the stream's
// peer. The endpoint layer supplies this, typically closing over a
// transport.Socket's PollSend or a shared per-endpoint outbound ring
// (spec §4.4's "send rings block the producer on acquire").
type SendFunc func(ctx context.Context, b []byte) error

// Config configures a Stream.
type Config struct {
	ID           ID
	CredentialID credential.ID
	Entry        *secret.Entry
	PeerAddr     net.Addr

	MTU         int
	MaxAckDelay time.Duration
	IdleTimeout time.Duration
	WindowWidth uint64 // replay-window / ack-range width (spec §4.3.2)
	CC          CongestionController

	// InitialRecvWindow is the number of unread bytes this stream
	// advertises credit for before the first max_stream_data update is
	// due (spec §3 "write(bytes) back-pressured by flow-control
	// credits"); half-window consumption schedules the next update.
	InitialRecvWindow uint64

	// TickInterval drives the periodic send-side housekeeping (seal
	// committed data, check PTO, send due ACKs/credit updates) in lieu
	// of a per-packet timer wheel.
	TickInterval time.Duration

	Clock   Clock
	Send    SendFunc
	Inbound *dispatch.Ring

	Log *log.Logger
}

// Stream is the full-duplex external interface of spec §6
// (`Stream::write`, `Stream::read`, `Stream::shutdown()`,
// `Stream::reset(code)`, `Stream::stop_sending(code)`), combining a
// Sender and a Receiver and driving both off Config.Inbound and a
// periodic tick. Grounded on stream/stream.go's reader()/writer()
// worker-pair idiom (xendarboh-katzenpost), generalized from its fixed
// secretbox/cbor frame format to the dc packet codec in wire/.
type Stream struct {
	worker.Worker

	cfg Config
	id  ID

	sender   *Sender
	receiver *Receiver

	mu                           sync.Mutex
	readDeadline, writeDeadline  time.Time
	peerSendLimit                uint64 // bytes we may send, granted by the peer's last max_stream_data
	haveSendLimit                bool   // false until the peer sends a credit update; unbounded until then
	localWindow                  uint64
	delivered                    uint64 // bytes handed to the application via Read
	lastGrantedLimit             uint64
	nextCtrlPN                   uint64
	resetSent                    bool
	stopSendingSent              bool
	stopSendingCode              *uint64
	fatal                        error
	peerReset                    *uint64

	notifyRead  chan struct{}
	notifyWrite chan struct{}
	notifyCtrl  chan struct{}

	closeOnce sync.Once
	log       *log.Logger
}

// New builds a Stream and starts its background send/receive workers.
func New(cfg Config) *Stream {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 20 * time.Millisecond
	}
	if cfg.InitialRecvWindow == 0 {
		cfg.InitialRecvWindow = 1 << 20
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}

	sealer, _ := cfg.Entry.Sealer()
	opener, _ := cfg.Entry.Opener()

	s := &Stream{
		cfg:         cfg,
		id:          cfg.ID,
		localWindow: cfg.InitialRecvWindow,
		notifyRead:  make(chan struct{}, 1),
		notifyWrite: make(chan struct{}, 1),
		notifyCtrl:  make(chan struct{}, 1),
		log:         cfg.Log.WithPrefix("stream"),
	}
	s.sender = NewSender(SenderConfig{
		ID:           cfg.ID,
		CredentialID: cfg.CredentialID,
		Sealer:       sealer,
		MTU:          cfg.MTU,
		MaxAckDelay:  cfg.MaxAckDelay,
		CC:           cfg.CC,
	}, NewSendBuffer())
	s.receiver = NewReceiver(ReceiverConfig{
		ID:           cfg.ID,
		CredentialID: cfg.CredentialID,
		Opener:       opener,
		WindowWidth:  cfg.WindowWidth,
		MaxAckDelay:  cfg.MaxAckDelay,
		IdleTimeout:  cfg.IdleTimeout,
	}, s.clockNow())

	s.Go(s.recvLoop)
	s.Go(s.sendLoop)
	return s
}

func (s *Stream) clockNow() time.Time {
	if s.cfg.Clock != nil {
		return s.cfg.Clock.Now()
	}
	return time.Now()
}

// Write hands p to the committed send sequence (spec §3 write()),
// back-pressured by the peer's last-granted flow-control credit.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.fatal != nil {
		err := s.fatal
		s.mu.Unlock()
		return 0, err
	}
	deadline := s.writeDeadline
	s.mu.Unlock()

	for {
		s.mu.Lock()
		_, _, committed := s.sender.buf.Offsets()
		// No credit signal received yet: treat as unbounded, per spec
		// §3's "initial credit" being implementation-defined until the
		// peer advertises one via max_stream_data.
		blocked := s.haveSendLimit && committed+uint64(len(p)) > s.peerSendLimit
		s.mu.Unlock()
		if !blocked {
			break
		}
		if !deadline.IsZero() && s.clockNow().After(deadline) {
			return 0, context.DeadlineExceeded
		}
		select {
		case <-s.notifyCtrl:
		case <-s.HaltCh():
			return 0, ErrClosed
		case <-time.After(s.cfg.TickInterval):
		}
	}

	n, err := s.sender.Write(p)
	s.prod(s.notifyWrite)
	return n, err
}

// Read drains reassembled bytes (spec §3 read()), blocking until data,
// FIN, or a fatal error is available.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		n, eof, err := s.receiver.Read(p)
		if err != nil {
			return n, err
		}
		if n > 0 {
			s.mu.Lock()
			s.delivered += uint64(n)
			s.mu.Unlock()
			s.prod(s.notifyCtrl) // may owe the peer a max_stream_data update
			return n, nil
		}
		if eof {
			return 0, io.EOF
		}
		s.mu.Lock()
		fatal := s.fatal
		deadline := s.readDeadline
		s.mu.Unlock()
		if fatal != nil {
			return 0, fatal
		}
		var timeoutCh <-chan time.Time
		if !deadline.IsZero() {
			if d := time.Until(deadline); d <= 0 {
				return 0, context.DeadlineExceeded
			} else {
				t := time.NewTimer(d)
				defer t.Stop()
				timeoutCh = t.C
			}
		}
		select {
		case <-s.notifyRead:
		case <-s.HaltCh():
			return 0, ErrClosed
		case <-timeoutCh:
			return 0, context.DeadlineExceeded
		}
	}
}

// Shutdown records the final offset; already-committed data still
// drains normally (spec §3 shutdown()).
func (s *Stream) Shutdown() {
	s.sender.Shutdown()
	s.prod(s.notifyWrite)
}

// Reset abortively closes the send side, emitting a reset control
// frame on the next tick (spec §3 reset(code)).
func (s *Stream) Reset(code uint64) {
	s.sender.Reset(code)
	s.prod(s.notifyCtrl)
}

// StopSending signals the peer to stop sending (spec §3
// stop_sending(code)); best-effort, does not itself stop delivering
// data already reassembled.
func (s *Stream) StopSending(code uint64) {
	s.mu.Lock()
	s.stopSendingCode = &code
	s.mu.Unlock()
	s.prod(s.notifyCtrl)
}

// SetReadDeadline/SetWriteDeadline mirror net.Conn's deadline API.
func (s *Stream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadline = t
	s.mu.Unlock()
	s.prod(s.notifyRead)
	return nil
}

func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	s.writeDeadline = t
	s.mu.Unlock()
	s.prod(s.notifyCtrl)
	return nil
}

// LastActivity reports when this stream last heard from its peer, for
// the endpoint's keep-alive timer (spec §4.4.1): "receipt of any
// packet resets the peer's idle timer implicitly," so the endpoint
// only needs to nudge streams that have gone quiet for a while.
func (s *Stream) LastActivity() time.Time {
	return s.receiver.LastActivity()
}

// Keepalive sends an empty ACK control packet so the peer's idle timer
// is reset even when neither side has application data to exchange
// (spec §4.4.1 "Keep-alive fires at min(3/4*max_idle_timeout, 30s)").
func (s *Stream) Keepalive(ctx context.Context) {
	s.sendControl(ctx, wire.ControlAck, 0, 0, 0, nil)
}

// Close tears down the stream's background workers (spec §3's
// destruction condition, driven externally by the endpoint once both
// halves are finished/closed).
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.Halt()
	})
	return nil
}

// Finished reports whether both halves have reached a terminal state:
// the send side has sealed its final packet and drained inflight, and
// the receive side has seen the peer's FIN, whether or not its bytes
// have been read yet (or a fatal
// error occurred).
func (s *Stream) Finished() bool {
	if s.sender.Finished() {
		if _, ok := s.receiver.FinalOffset(); ok {
			return true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal != nil
}

func (s *Stream) prod(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
	s.prod(s.notifyRead)
	s.prod(s.notifyWrite)
}

// recvLoop decodes and authenticates every packet the dispatcher
// routes onto this stream's ring, feeding stream packets to the
// Receiver and control packets into the local ACK/reset/credit state.
func (s *Stream) recvLoop() {
	for {
		select {
		case <-s.HaltCh():
			return
		case v, ok := <-s.cfg.Inbound.Out():
			if !ok {
				return
			}
			pkt := v.(*dispatch.Packet)
			s.handleInbound(pkt.Bytes)
		}
	}
}

func (s *Stream) handleInbound(buf []byte) {
	peeked, err := wire.Peek(buf)
	if err != nil {
		return
	}
	opener, err := s.cfg.Entry.Opener()
	if err != nil {
		s.fail(err)
		return
	}
	switch peeked.Kind {
	case wire.KindStream:
		h, consumed, _, err := wire.DecodeStreamHeader(buf, nil)
		if err != nil {
			return
		}
		s.openAndDeliver(opener, h.KeyID, h.PacketNumber, buf[:consumed], buf[consumed:], h)
	case wire.KindControl:
		h, consumed, err := wire.DecodeControlHeader(buf, nil)
		if err != nil {
			return
		}
		s.openAndHandleControl(opener, h, buf[:consumed], buf[consumed:])
	default:
		// Datagram and secret-control packets never reach a per-stream
		// ring; the dispatcher routes those elsewhere.
	}
}

func (s *Stream) openAndDeliver(opener *secret.Opener, keyID, pn uint64, header, ciphertext []byte, h *wire.StreamHeader) {
	aead, err := opener.Open(keyID)
	if err != nil {
		return
	}
	nonce := wire.DataNonce(wire.KindStream, opener.Direction(), keyID, pn)
	plaintext, err := wire.Open(nil, aead, nonce, header, ciphertext)
	if err != nil {
		return
	}
	if err := opener.CheckAndAccept(keyID, pn); err != nil {
		return
	}
	now := s.clockNow()
	if err := s.receiver.Deliver(now, h, plaintext); err != nil {
		s.fail(err)
		return
	}
	s.prod(s.notifyRead)
}

func (s *Stream) openAndHandleControl(opener *secret.Opener, h *wire.ControlHeader, header, ciphertext []byte) {
	aead, err := opener.Open(h.KeyID)
	if err != nil {
		return
	}
	nonce := wire.DataNonce(wire.KindControl, opener.Direction(), h.KeyID, h.PacketNumber)
	plaintext, err := wire.Open(nil, aead, nonce, header, ciphertext)
	if err != nil {
		return
	}
	if err := opener.CheckAndAccept(h.KeyID, h.PacketNumber); err != nil {
		return
	}
	if err := wire.DecodeControlBody(plaintext, h); err != nil {
		return
	}
	switch h.Type {
	case wire.ControlAck:
		s.sender.HandleAck(s.clockNow(), h.LargestAcked, h.AckRanges)
		s.prod(s.notifyWrite)
	case wire.ControlReset:
		code := h.ErrorCode
		s.mu.Lock()
		s.peerReset = &code
		s.mu.Unlock()
		s.fail(&StreamResetError{Code: code})
	case wire.ControlStopSending:
		// Best-effort: stop sealing further committed data. The
		// application still observes Write returning ErrClosed once
		// the sender's Shutdown/Reset follows.
		s.sender.Reset(h.ErrorCode)
		s.prod(s.notifyCtrl)
	case wire.ControlMaxStreamData:
		s.mu.Lock()
		if h.NewLimit > s.peerSendLimit {
			s.peerSendLimit = h.NewLimit
			s.haveSendLimit = true
		}
		s.mu.Unlock()
		s.prod(s.notifyCtrl)
	}
}

// sendLoop drives the Sender's tick, emits due ACKs and flow-control
// credit updates, and turns a Reset()/StopSending() call into the
// corresponding control packet (spec §4.3.1 steps 1-4, §4.3.2 ACK
// generation, §3 stop_sending/reset).
func (s *Stream) sendLoop() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.HaltCh():
			return
		case <-s.notifyWrite:
		case <-s.notifyCtrl:
		case <-ticker.C:
		}
		s.tick()
	}
}

func (s *Stream) tick() {
	now := s.clockNow()
	ctx := context.Background()

	if code, ok := s.sender.ResetCode(); ok {
		s.mu.Lock()
		already := s.resetSent
		s.resetSent = true
		s.mu.Unlock()
		if !already {
			s.sendControl(ctx, wire.ControlReset, code, 0, 0, nil)
		}
		return
	}

	out, err := s.sender.Tick(now, uint64(now.UnixNano()))
	if err != nil && !errors.Is(err, secret.ErrRetired) {
		s.fail(err)
	}
	for _, pkt := range out {
		if sendErr := s.cfg.Send(ctx, pkt.Bytes); sendErr != nil {
			s.fail(sendErr)
			return
		}
	}
	if ev := s.sender.CheckPTO(uint64(now.UnixNano())); ev != nil {
		s.prod(s.notifyWrite)
	}

	if s.receiver.ShouldSendAck(now) {
		largest, ranges := s.receiver.BuildAck()
		s.sendControl(ctx, wire.ControlAck, 0, largest, 0, ranges)
	}

	s.maybeSendCredit(ctx)

	if mcode := s.stopSendingCodeOnce(); mcode != nil {
		s.sendControl(ctx, wire.ControlStopSending, *mcode, 0, 0, nil)
	}

	if err := s.receiver.CheckIdle(now); err != nil {
		s.fail(err)
	}
}

func (s *Stream) stopSendingCodeOnce() *uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopSendingCode == nil || s.stopSendingSent {
		return nil
	}
	s.stopSendingSent = true
	return s.stopSendingCode
}

func (s *Stream) maybeSendCredit(ctx context.Context) {
	s.mu.Lock()
	delivered := s.delivered
	due := delivered-s.lastGrantedLimit >= s.localWindow/2
	var newLimit uint64
	if due {
		newLimit = delivered + s.localWindow
		s.lastGrantedLimit = newLimit
	}
	s.mu.Unlock()
	if due {
		s.sendControl(ctx, wire.ControlMaxStreamData, 0, 0, newLimit, nil)
	}
}

func (s *Stream) sendControl(ctx context.Context, typ wire.ControlFrameType, errorCode, largestAcked, newLimit uint64, ranges []wire.AckRange) {
	sealer, err := s.cfg.Entry.Sealer()
	if err != nil {
		s.fail(err)
		return
	}
	aead, keyID, dir, err := sealer.Current()
	if err != nil {
		s.fail(err)
		return
	}
	s.mu.Lock()
	pn := s.nextCtrlPN
	s.nextCtrlPN++
	s.mu.Unlock()

	h := &wire.ControlHeader{
		CredentialID: s.cfg.CredentialID,
		KeyID:        keyID,
		QueueID:      s.id.QueueID,
		PacketNumber: pn,
		Type:         typ,
		ErrorCode:    errorCode,
		LargestAcked: largestAcked,
		AckRanges:    ranges,
		NewLimit:     newLimit,
	}
	if fo, ok := s.sender.buf.Final(); ok && typ == wire.ControlReset {
		h.FinalOffset = fo
	}
	header := wire.EncodeControlHeader(nil, h)
	body := wire.EncodeControlBody(nil, h)
	nonce := wire.DataNonce(wire.KindControl, dir, keyID, pn)
	sealed := wire.Seal(header, aead, nonce, header, body)
	sealer.RecordSealed()

	if err := s.cfg.Send(ctx, sealed); err != nil {
		s.fail(err)
	}
}
