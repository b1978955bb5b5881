package uplink

// Resilient uplink session.
//
// A single worker goroutine owns the connection, the send queue and the
// pending table; every public method is a request into that worker's inbox.
// A reader goroutine per connection posts received frames back into the
// same inbox, and received messages are handed to the Processor on a
// separate dispatch goroutine so processing can send without deadlocking
// the worker.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/mailbox"
)

var (
	// ErrNotConnected is returned when sending while disconnected with
	// queueing disabled.
	ErrNotConnected = errors.New("uplink: not connected")
	// ErrQueueFull is returned when the disconnected send queue is at
	// capacity. The rejected message is not queued.
	ErrQueueFull = errors.New("uplink: send queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("uplink: session closed")
	// ErrConnectInProgress is returned when Connect is already dialing.
	ErrConnectInProgress = errors.New("uplink: connect already in progress")
	// ErrConnectCancelled is returned when Disconnect aborts a dial.
	ErrConnectCancelled = errors.New("uplink: connect cancelled")
	// ErrDisconnected is returned by Call when the connection drops before
	// the response arrives.
	ErrDisconnected = errors.New("uplink: disconnected before response")
)

// Activity is the liveness indicator derived from keepalive traffic.
type Activity int

const (
	ActivityActive Activity = iota
	ActivityIdle
	ActivityDead
)

func (a Activity) String() string {
	switch a {
	case ActivityActive:
		return "ACTIVE"
	case ActivityIdle:
		return "IDLE"
	case ActivityDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// SendResult tells whether a message went out or waits in the queue.
type SendResult int

const (
	SendResultSent SendResult = iota
	SendResultQueued
)

func (r SendResult) String() string {
	if r == SendResultQueued {
		return "queued"
	}
	return "sent"
}

// EventKind classifies session events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventActivity
)

// Event is a connectivity or liveness change.
type Event struct {
	Kind     EventKind
	Reason   string
	Activity Activity
}

// Processor handles received traffic. It runs on the dispatch goroutine.
type Processor interface {
	// HandleResponse receives a response matched to a request sent with Send.
	HandleResponse(resp *Message, req PendingRequest)
	// HandleMessage receives a server-originated message. A non-nil return
	// is sent back to the server.
	HandleMessage(msg *Message) (*Message, error)
}

// Options configures a Session.
type Options struct {
	Dialer            Dialer
	Processor         Processor
	Logger            *logging.Logger
	WriteTimeout      time.Duration
	KeepaliveInterval time.Duration
	IdleWarning       time.Duration
	IdleError         time.Duration
	QueueEnabled      bool
	QueueMax          int
	// HoldQueue keeps queued messages back after a connect until Flush is
	// called. Call still transmits while the queue is held.
	HoldQueue         bool
	Now               func() time.Time
}

// Stats is a snapshot of session counters. Keepalives are counted
// separately and never in Sent or Received.
type Stats struct {
	Connected          bool
	Activity           Activity
	Sent               int64
	Received           int64
	KeepalivesSent     int64
	KeepalivesReceived int64
	Unmatched          int64
	Connects           int64
	Disconnects        int64
	Queued             int
	Pending            int
	Completed          int64 // requests answered
	Dropped            int64 // requests lost to a disconnect
	AvgRTT             time.Duration
	Backlog            int // received messages not yet dispatched
	LastSent           time.Time
	LastReceived       time.Time
	LastKeepalive      time.Time
}

type outbound struct {
	msg    *Message
	origin string
	reply  chan *Message
}

type inbound struct {
	msg *Message
	req *PendingRequest
}

// Session is the logical connection to the fulfillment server.
type Session struct {
	opts   Options
	logger *logging.Logger

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	inbound *mailbox.Mailbox[inbound]
	events  *mailbox.Mailbox[Event]
	eventCh chan Event

	// Owned by the worker goroutine.
	conn       Conn
	gen        uint64
	dialCancel context.CancelFunc
	dialGen    uint64
	queue      []*outbound
	held       bool
	pending    *PendingTable
	activity   Activity
	stats      Stats

	final Stats // written once run exits
}

// NewSession starts the session workers. The session starts disconnected.
func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Session{
		opts:    opts,
		logger:  opts.Logger,
		ops:     make(chan func()),
		done:    make(chan struct{}),
		inbound: mailbox.New[inbound](),
		events:  mailbox.New[Event](),
		eventCh: make(chan Event),
		pending: NewPendingTable(),
	}
	s.wg.Add(3)
	go s.run()
	go s.dispatch()
	go s.pumpEvents()
	return s
}

// Close disconnects and stops all session goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Events delivers connectivity and liveness changes in order. The channel
// is closed by Close.
func (s *Session) Events() <-chan Event { return s.eventCh }

// Connect dials the server. It returns nil immediately when already
// connected. Disconnect aborts an in-flight dial.
func (s *Session) Connect(ctx context.Context) error {
	var (
		dialCtx context.Context
		gen     uint64
		already bool
	)
	err := s.do(func() error {
		if s.conn != nil {
			already = true
			return nil
		}
		if s.dialCancel != nil {
			return ErrConnectInProgress
		}
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithCancel(ctx)
		s.dialGen++
		gen = s.dialGen
		s.dialCancel = cancel
		return nil
	})
	if err != nil || already {
		return err
	}

	conn, dialErr := s.opts.Dialer.Dial(dialCtx)
	err = s.do(func() error {
		current := gen == s.dialGen && s.dialCancel != nil
		if current {
			s.dialCancel()
			s.dialCancel = nil
		}
		if dialErr != nil {
			return dialErr
		}
		if !current {
			conn.Close()
			return ErrConnectCancelled
		}
		s.attach(conn)
		return nil
	})
	if errors.Is(err, ErrClosed) && conn != nil {
		conn.Close()
	}
	return err
}

// Disconnect tears down the connection (or aborts a dial). Pending requests
// are dropped; queued messages stay for the next connection.
func (s *Session) Disconnect(reason string) {
	_ = s.do(func() error {
		if s.dialCancel != nil {
			s.dialCancel()
			s.dialCancel = nil
			s.dialGen++
		}
		s.teardown(reason)
		return nil
	})
}

// SendMessage sends msg now, or queues it while disconnected.
func (s *Session) SendMessage(msg *Message) (SendResult, error) {
	return s.Send(msg, "")
}

// Send is SendMessage with an origin tag that is handed back with the
// matched response.
func (s *Session) Send(msg *Message, origin string) (SendResult, error) {
	var result SendResult
	err := s.do(func() error {
		var err error
		result, err = s.send(&outbound{msg: msg, origin: origin})
		return err
	})
	return result, err
}

// Call sends a request and waits for its response. Calls are never queued.
func (s *Session) Call(ctx context.Context, msg *Message) (*Message, error) {
	reply := make(chan *Message, 1)
	err := s.do(func() error {
		if s.conn == nil {
			return ErrNotConnected
		}
		_, err := s.send(&outbound{msg: msg, reply: reply})
		return err
	})
	if err != nil {
		return nil, err
	}
	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, ErrDisconnected
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

// Flush releases a held queue and sends its messages in order. Messages
// sent while the queue was held went behind it.
func (s *Session) Flush() error {
	return s.do(func() error {
		if s.conn == nil {
			return ErrNotConnected
		}
		s.held = false
		s.drain()
		if s.conn == nil {
			return ErrNotConnected
		}
		return nil
	})
}

// Connected reports whether a connection is established.
func (s *Session) Connected() bool {
	var connected bool
	_ = s.do(func() error {
		connected = s.conn != nil
		return nil
	})
	return connected
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	var st Stats
	err := s.do(func() error {
		st = s.snapshot()
		return nil
	})
	if errors.Is(err, ErrClosed) {
		s.wg.Wait()
		return s.final
	}
	return st
}

func (s *Session) snapshot() Stats {
	st := s.stats
	st.Connected = s.conn != nil
	st.Activity = s.activity
	st.Queued = len(s.queue)
	ps := s.pending.Stats()
	st.Pending = ps.Outstanding
	st.Completed = ps.TotalCompleted
	st.Dropped = ps.TotalDropped
	st.AvgRTT = time.Duration(ps.AvgLatencyUs * float64(time.Microsecond))
	st.Backlog = s.inbound.Len()
	return st
}

// do runs fn on the worker goroutine and returns its result.
func (s *Session) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.ops <- func() { errc <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	return <-errc
}

func (s *Session) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

func (s *Session) run() {
	defer s.wg.Done()
	var tick <-chan time.Time
	if s.opts.KeepaliveInterval > 0 {
		ticker := time.NewTicker(s.opts.KeepaliveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-tick:
			s.tick()
		case <-s.done:
			if s.dialCancel != nil {
				s.dialCancel()
			}
			s.teardown("session closed")
			s.inbound.Close()
			s.events.Close()
			s.final = s.snapshot()
			return
		}
	}
}

func (s *Session) send(out *outbound) (SendResult, error) {
	if out.msg == nil || out.msg.Type == "" || out.msg.MessageID == "" {
		return SendResultSent, fmt.Errorf("uplink: message needs a type and id")
	}
	if s.pending.Contains(out.msg.MessageID) || s.isQueued(out.msg.MessageID) {
		return SendResultSent, fmt.Errorf("%w: %s", ErrDuplicateMessageID, out.msg.MessageID)
	}
	if s.conn != nil && (!s.held || out.reply != nil) {
		err := s.transmit(out)
		if err == nil {
			return SendResultSent, nil
		}
		if out.reply != nil {
			return SendResultSent, fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}
	return s.enqueue(out)
}

func (s *Session) enqueue(out *outbound) (SendResult, error) {
	if !s.opts.QueueEnabled || out.reply != nil {
		return SendResultSent, ErrNotConnected
	}
	if len(s.queue) >= s.opts.QueueMax {
		return SendResultSent, fmt.Errorf("%w: %d messages", ErrQueueFull, len(s.queue))
	}
	s.queue = append(s.queue, out)
	s.logger.Verbose("Queued %s %s (depth %d)", out.msg.Type, out.msg.MessageID, len(s.queue))
	return SendResultQueued, nil
}

func (s *Session) isQueued(id string) bool {
	for _, out := range s.queue {
		if out.msg.MessageID == id {
			return true
		}
	}
	return false
}

// transmit writes out and registers it as pending when it is a request.
// A write failure tears the connection down.
func (s *Session) transmit(out *outbound) error {
	if err := s.write(out.msg); err != nil {
		return err
	}
	s.stats.Sent++
	s.logger.LogMessage("sent", string(out.msg.Type), out.msg.MessageID)
	if out.msg.IsRequest() {
		req := &PendingRequest{
			MessageID: out.msg.MessageID,
			Type:      out.msg.Type,
			Origin:    out.origin,
			SentAt:    s.stats.LastSent,
			reply:     out.reply,
		}
		if err := s.pending.Register(req); err != nil {
			s.logger.Error("Pending registration failed: %v", err)
		}
	}
	return nil
}

func (s *Session) write(msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := s.conn.WriteMessage(data, s.opts.WriteTimeout); err != nil {
		s.teardown(fmt.Sprintf("write failed: %v", err))
		return err
	}
	s.stats.LastSent = s.opts.Now()
	return nil
}

// drain sends queued messages in order. A message leaves the queue only
// after it was written.
func (s *Session) drain() {
	for len(s.queue) > 0 && s.conn != nil {
		out := s.queue[0]
		if err := s.transmit(out); err != nil {
			s.logger.Error("Queue drain stopped with %d messages left: %v", len(s.queue), err)
			return
		}
		s.queue[0] = nil
		s.queue = s.queue[1:]
	}
}

func (s *Session) attach(conn Conn) {
	now := s.opts.Now()
	s.conn = conn
	s.gen++
	s.stats.Connects++
	s.stats.LastKeepalive = now
	s.activity = ActivityActive

	s.wg.Add(1)
	go s.readLoop(conn, s.gen)

	s.logger.Info("Uplink connected (%d queued)", len(s.queue))
	s.events.Put(Event{Kind: EventConnected})
	if s.opts.HoldQueue {
		s.held = true
		return
	}
	s.drain()
}

func (s *Session) teardown(reason string) {
	if s.conn == nil {
		return
	}
	s.conn.Close()
	s.conn = nil
	s.held = false
	s.gen++
	dropped := s.pending.DropAll()
	for _, req := range dropped {
		if req.reply != nil {
			close(req.reply)
		}
	}
	s.stats.Disconnects++
	s.activity = ActivityActive
	s.logger.Info("Uplink disconnected: %s (%d pending dropped, %d queued)", reason, len(dropped), len(s.queue))
	s.events.Put(Event{Kind: EventDisconnected, Reason: reason})
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	defer s.wg.Done()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.post(func() {
				if s.gen == gen {
					s.teardown(fmt.Sprintf("read failed: %v", err))
				}
			})
			return
		}
		s.post(func() {
			if s.gen == gen {
				s.receive(data)
			}
		})
	}
}

func (s *Session) receive(data []byte) {
	now := s.opts.Now()
	msg, err := Decode(data)
	if err != nil {
		s.logger.Error("Dropping malformed uplink message: %v", err)
		return
	}
	s.stats.LastReceived = now
	if msg.IsKeepAlive() {
		s.stats.LastKeepalive = now
		s.stats.KeepalivesReceived++
		s.updateActivity(now)
		return
	}

	s.stats.Received++
	s.logger.LogMessage("received", string(msg.Type), msg.MessageID)
	if msg.IsResponse() {
		req, rtt, err := s.pending.Complete(msg.RequestID)
		if err != nil {
			s.stats.Unmatched++
			s.logger.Info("Unmatched %s: %v", msg.Type, err)
			return
		}
		s.logger.Debug("%s matched %s in %v", msg.Type, req.Type, rtt)
		if req.reply != nil {
			req.reply <- msg
			return
		}
		s.inbound.Put(inbound{msg: msg, req: req})
		return
	}
	s.inbound.Put(inbound{msg: msg})
}

// tick sends a keepalive and re-evaluates liveness.
func (s *Session) tick() {
	if s.conn == nil {
		return
	}
	ka, err := NewMessage(TypeKeepAlive, nil)
	if err != nil {
		return
	}
	if err := s.write(ka); err != nil {
		return
	}
	s.stats.KeepalivesSent++
	s.updateActivity(s.opts.Now())
}

// updateActivity logs and emits only on a state change.
func (s *Session) updateActivity(now time.Time) {
	elapsed := now.Sub(s.stats.LastKeepalive)
	next := ActivityActive
	switch {
	case s.opts.IdleError > 0 && elapsed >= s.opts.IdleError:
		next = ActivityDead
	case s.opts.IdleWarning > 0 && elapsed >= s.opts.IdleWarning:
		next = ActivityIdle
	}
	if next == s.activity {
		return
	}
	s.activity = next
	switch next {
	case ActivityDead:
		s.logger.Error("Uplink DEAD: no keepalive for %v", elapsed.Round(time.Millisecond))
	case ActivityIdle:
		s.logger.Info("Uplink IDLE: no keepalive for %v", elapsed.Round(time.Millisecond))
	default:
		s.logger.Info("Uplink ACTIVE")
	}
	s.events.Put(Event{Kind: EventActivity, Activity: next})
}

func (s *Session) dispatch() {
	defer s.wg.Done()
	for {
		in, ok := s.inbound.Receive(s.done)
		if !ok {
			return
		}
		s.handleInbound(in)
	}
}

func (s *Session) handleInbound(in inbound) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Processor panic on %s %s: %v", in.msg.Type, in.msg.MessageID, r)
		}
	}()
	p := s.opts.Processor
	if p == nil {
		s.logger.Verbose("No processor for %s", in.msg.Type)
		return
	}
	if in.req != nil {
		p.HandleResponse(in.msg, *in.req)
		return
	}
	resp, err := p.HandleMessage(in.msg)
	if err != nil {
		s.logger.Error("Handling %s %s: %v", in.msg.Type, in.msg.MessageID, err)
		if resp == nil && in.msg.IsRequest() {
			resp, _ = NewResponse(in.msg, StatusFail, nil)
			if resp != nil {
				resp.StatusMessage = err.Error()
			}
		}
	}
	if resp == nil {
		return
	}
	if _, err := s.SendMessage(resp); err != nil {
		s.logger.Error("Reply %s for %s not sent: %v", resp.Type, in.msg.MessageID, err)
	}
}

func (s *Session) pumpEvents() {
	defer s.wg.Done()
	defer close(s.eventCh)
	for {
		ev, ok := s.events.Receive(s.done)
		if !ok {
			return
		}
		select {
		case s.eventCh <- ev:
		case <-s.done:
			return
		}
	}
}
