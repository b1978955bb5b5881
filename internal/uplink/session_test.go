package uplink

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

type fakeConn struct {
	in         chan []byte
	written    chan *Message
	closed     chan struct{}
	once       sync.Once
	failWrites atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		written: make(chan *Message, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte, _ time.Duration) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if c.failWrites.Load() {
		return errors.New("broken pipe")
	}
	msg, err := Decode(data)
	if err != nil {
		return err
	}
	c.written <- msg
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(t *testing.T, msg *Message) {
	t.Helper()
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	c.in <- data
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	block bool
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	block := d.block
	var c *fakeConn
	if len(d.conns) > 0 {
		c = d.conns[0]
		d.conns = d.conns[1:]
	} else {
		c = newFakeConn()
	}
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type handledResponse struct {
	resp *Message
	req  PendingRequest
}

type recordingProcessor struct {
	responses chan handledResponse
	handle    func(*Message) (*Message, error)
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{responses: make(chan handledResponse, 16)}
}

func (p *recordingProcessor) HandleResponse(resp *Message, req PendingRequest) {
	p.responses <- handledResponse{resp: resp, req: req}
}

func (p *recordingProcessor) HandleMessage(msg *Message) (*Message, error) {
	if p.handle == nil {
		return nil, nil
	}
	return p.handle(msg)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSession(t *testing.T, d Dialer, p Processor, mutate func(*Options)) *Session {
	t.Helper()
	opts := Options{
		Dialer:       d,
		QueueEnabled: true,
		QueueMax:     10,
	}
	if p != nil {
		opts.Processor = p
	}
	if mutate != nil {
		mutate(&opts)
	}
	s := NewSession(opts)
	t.Cleanup(s.Close)
	return s
}

func request(t *testing.T, typ MessageType) *Message {
	t.Helper()
	msg, err := NewMessage(typ, EchoRequest{Payload: "x"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func nextWritten(t *testing.T, c *fakeConn) *Message {
	t.Helper()
	select {
	case msg := <-c.written:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a written message")
		return nil
	}
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session event")
		return Event{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueuedMessagesDrainInOrderOnce(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, nil, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		msg := request(t, TypeComputeWorkRequest)
		res, err := s.SendMessage(msg)
		if err != nil {
			t.Fatalf("SendMessage %d: %v", i, err)
		}
		if res != SendResultQueued {
			t.Fatalf("SendMessage %d = %s, want queued", i, res)
		}
		ids = append(ids, msg.MessageID)
	}
	if st := s.Stats(); st.Queued != 3 || st.Sent != 0 {
		t.Fatalf("before connect: queued=%d sent=%d", st.Queued, st.Sent)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for i, want := range ids {
		if got := nextWritten(t, conn); got.MessageID != want {
			t.Errorf("message %d = %s, want %s", i, got.MessageID, want)
		}
	}
	select {
	case extra := <-conn.written:
		t.Errorf("unexpected extra message %s", extra.MessageID)
	default:
	}

	st := s.Stats()
	if st.Queued != 0 || st.Sent != 3 || st.Pending != 3 || !st.Connected {
		t.Errorf("after connect: %+v", st)
	}
}

func TestHeldQueueWaitsForFlush(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, nil, func(o *Options) { o.HoldQueue = true })

	early := request(t, TypeComputeWorkRequest)
	if res, err := s.SendMessage(early); err != nil || res != SendResultQueued {
		t.Fatalf("SendMessage = %s, %v; want queued", res, err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	go func() {
		req := <-conn.written
		resp, _ := NewResponse(req, StatusSuccess, LoginResponse{})
		data, _ := Encode(resp)
		conn.in <- data
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	login := request(t, TypeLoginRequest)
	if _, err := s.Call(ctx, login); err != nil {
		t.Fatalf("Call while held: %v", err)
	}

	late := request(t, TypeGetWorkRequest)
	if res, err := s.SendMessage(late); err != nil || res != SendResultQueued {
		t.Fatalf("SendMessage while held = %s, %v; want queued", res, err)
	}
	if st := s.Stats(); st.Queued != 2 || st.Sent != 1 {
		t.Fatalf("before flush: queued=%d sent=%d", st.Queued, st.Sent)
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for i, want := range []string{early.MessageID, late.MessageID} {
		if got := nextWritten(t, conn); got.MessageID != want {
			t.Errorf("message %d = %s, want %s", i, got.MessageID, want)
		}
	}

	after := request(t, TypeGetWorkRequest)
	if res, err := s.SendMessage(after); err != nil || res != SendResultSent {
		t.Errorf("SendMessage after flush = %s, %v; want sent", res, err)
	}
	if got := nextWritten(t, conn); got.MessageID != after.MessageID {
		t.Errorf("after flush wrote %s, want %s", got.MessageID, after.MessageID)
	}
}

func TestFlushRequiresConnection(t *testing.T) {
	s := newTestSession(t, &fakeDialer{}, nil, nil)
	if err := s.Flush(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Flush = %v, want ErrNotConnected", err)
	}
}

func TestQueueLimits(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		s := newTestSession(t, &fakeDialer{}, nil, func(o *Options) { o.QueueMax = 2 })
		for i := 0; i < 2; i++ {
			if _, err := s.SendMessage(request(t, TypeEchoRequest)); err != nil {
				t.Fatalf("SendMessage %d: %v", i, err)
			}
		}
		_, err := s.SendMessage(request(t, TypeEchoRequest))
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("third SendMessage err = %v, want ErrQueueFull", err)
		}
		if st := s.Stats(); st.Queued != 2 {
			t.Errorf("Queued = %d, want 2", st.Queued)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s := newTestSession(t, &fakeDialer{}, nil, func(o *Options) { o.QueueEnabled = false })
		if _, err := s.SendMessage(request(t, TypeEchoRequest)); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("err = %v, want ErrNotConnected", err)
		}
	})

	t.Run("call never queues", func(t *testing.T) {
		s := newTestSession(t, &fakeDialer{}, nil, nil)
		if _, err := s.Call(context.Background(), request(t, TypeEchoRequest)); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("err = %v, want ErrNotConnected", err)
		}
		if st := s.Stats(); st.Queued != 0 {
			t.Errorf("Queued = %d", st.Queued)
		}
	})
}

func TestDuplicateMessageID(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		conn := newFakeConn()
		proc := newRecordingProcessor()
		s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, proc, nil)
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect: %v", err)
		}

		first := request(t, TypeGetWorkRequest)
		if _, err := s.Send(first, "CHE1"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		dup := &Message{Type: TypeEchoRequest, MessageID: first.MessageID}
		if _, err := s.Send(dup, "other"); !errors.Is(err, ErrDuplicateMessageID) {
			t.Fatalf("duplicate err = %v", err)
		}
		nextWritten(t, conn)

		resp, _ := NewResponse(first, StatusSuccess, GetWorkResponse{})
		conn.push(t, resp)
		select {
		case got := <-proc.responses:
			if got.req.Type != TypeGetWorkRequest || got.req.Origin != "CHE1" {
				t.Errorf("original pending entry lost: %+v", got.req)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("response not delivered")
		}
	})

	t.Run("queued", func(t *testing.T) {
		s := newTestSession(t, &fakeDialer{}, nil, nil)
		msg := request(t, TypeEchoRequest)
		if _, err := s.SendMessage(msg); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		if _, err := s.SendMessage(msg); !errors.Is(err, ErrDuplicateMessageID) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestUnmatchedResponseIsCounted(t *testing.T) {
	conn := newFakeConn()
	proc := newRecordingProcessor()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, proc, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.push(t, &Message{Type: TypeGetWorkResponse, MessageID: "r1", RequestID: "never-sent", Status: StatusSuccess})
	waitFor(t, "unmatched count", func() bool { return s.Stats().Unmatched == 1 })

	if st := s.Stats(); !st.Connected || st.Received != 1 {
		t.Errorf("stats = %+v", st)
	}
	select {
	case got := <-proc.responses:
		t.Errorf("unmatched response dispatched: %+v", got)
	default:
	}
}

func TestServerRequestsAreAnswered(t *testing.T) {
	conn := newFakeConn()
	proc := newRecordingProcessor()
	proc.handle = func(msg *Message) (*Message, error) {
		if msg.Type != TypeEchoRequest {
			return nil, errors.New("unsupported")
		}
		var body EchoRequest
		if err := msg.DecodeBody(&body); err != nil {
			return nil, err
		}
		return NewResponse(msg, StatusSuccess, EchoResponse{Payload: body.Payload})
	}
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, proc, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	echo, _ := NewMessage(TypeEchoRequest, EchoRequest{Payload: "hello"})
	conn.push(t, echo)
	got := nextWritten(t, conn)
	if got.Type != TypeEchoResponse || got.RequestID != echo.MessageID {
		t.Fatalf("reply = %+v", got)
	}
	var body EchoResponse
	if err := got.DecodeBody(&body); err != nil || body.Payload != "hello" {
		t.Errorf("body = %+v, err %v", body, err)
	}

	light, _ := NewMessage(TypeLightLocationsRequest, LightLocationsRequest{DeviceGUID: "x"})
	conn.push(t, light)
	got = nextWritten(t, conn)
	if got.Type != TypeLightLocationsResponse || got.Status != StatusFail || got.StatusMessage != "unsupported" {
		t.Errorf("failure reply = %+v", got)
	}
}

func TestKeepalivesAndActivity(t *testing.T) {
	conn := newFakeConn()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, nil, func(o *Options) {
		o.IdleWarning = 5 * time.Second
		o.IdleError = 10 * time.Second
		o.Now = clock.Now
	})
	tick := func() {
		_ = s.do(func() error {
			s.tick()
			return nil
		})
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ev := nextEvent(t, s); ev.Kind != EventConnected {
		t.Fatalf("first event = %+v", ev)
	}

	clock.Advance(6 * time.Second)
	tick()
	if ev := nextEvent(t, s); ev.Kind != EventActivity || ev.Activity != ActivityIdle {
		t.Fatalf("event = %+v, want IDLE", ev)
	}
	tick()
	clock.Advance(5 * time.Second)
	tick()
	if ev := nextEvent(t, s); ev.Kind != EventActivity || ev.Activity != ActivityDead {
		t.Fatalf("event = %+v, want DEAD", ev)
	}

	ka, _ := NewMessage(TypeKeepAlive, nil)
	conn.push(t, ka)
	if ev := nextEvent(t, s); ev.Kind != EventActivity || ev.Activity != ActivityActive {
		t.Fatalf("event = %+v, want ACTIVE", ev)
	}

	st := s.Stats()
	if st.KeepalivesSent != 3 || st.KeepalivesReceived != 1 {
		t.Errorf("keepalives sent=%d received=%d", st.KeepalivesSent, st.KeepalivesReceived)
	}
	if st.Received != 0 || st.Sent != 0 {
		t.Errorf("keepalives counted as traffic: sent=%d received=%d", st.Sent, st.Received)
	}
	if !st.LastKeepalive.Equal(clock.Now()) {
		t.Errorf("LastKeepalive = %v, want %v", st.LastKeepalive, clock.Now())
	}
	for i := 0; i < 3; i++ {
		if got := nextWritten(t, conn); got.Type != TypeKeepAlive {
			t.Errorf("written %d = %s", i, got.Type)
		}
	}
}

func TestWriteFailureDisconnectsAndRequeues(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{first, second}}, nil, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	nextEvent(t, s)

	first.failWrites.Store(true)
	msg := request(t, TypeCompleteWorkInstructionRequest)
	res, err := s.SendMessage(msg)
	if err != nil || res != SendResultQueued {
		t.Fatalf("SendMessage = %s, %v; want queued", res, err)
	}
	if ev := nextEvent(t, s); ev.Kind != EventDisconnected || !strings.Contains(ev.Reason, "write failed") {
		t.Fatalf("event = %+v", ev)
	}
	if s.Connected() {
		t.Fatal("still connected after write failure")
	}
	if !first.isClosed() {
		t.Error("failed connection not closed")
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := nextWritten(t, second); got.MessageID != msg.MessageID {
		t.Errorf("requeued message = %s, want %s", got.MessageID, msg.MessageID)
	}
}

func TestDisconnectDropsPending(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, nil, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	login := request(t, TypeLoginRequest)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Call(context.Background(), login)
		errc <- err
	}()
	waitFor(t, "pending call", func() bool { return s.Stats().Pending == 1 })

	s.Disconnect("operator")
	select {
	case err := <-errc:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("Call err = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return after Disconnect")
	}
	if st := s.Stats(); st.Pending != 0 || st.Dropped != 1 || st.Disconnects != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCallReturnsResponse(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, nil, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	go func() {
		req := <-conn.written
		resp, _ := NewResponse(req, StatusSuccess, LoginResponse{})
		data, _ := Encode(resp)
		conn.in <- data
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := request(t, TypeLoginRequest)
	resp, err := s.Call(ctx, req)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.RequestID != req.MessageID || !resp.Succeeded() {
		t.Errorf("resp = %+v", resp)
	}
	if st := s.Stats(); st.Completed != 1 || st.Pending != 0 || st.AvgRTT < 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStatsSurviveClose(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(Options{Dialer: &fakeDialer{conns: []*fakeConn{conn}}, QueueEnabled: true, QueueMax: 4})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := s.SendMessage(request(t, TypeComputeWorkRequest)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	nextWritten(t, conn)
	s.Close()

	st := s.Stats()
	if st.Connected || st.Sent != 1 || st.Dropped != 1 || st.Connects != 1 || st.Disconnects != 1 {
		t.Errorf("stats after close = %+v", st)
	}
}

func TestDisconnectCancelsConnect(t *testing.T) {
	d := &fakeDialer{block: true}
	s := newTestSession(t, d, nil, nil)

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(context.Background()) }()
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })

	if err := s.Connect(context.Background()); !errors.Is(err, ErrConnectInProgress) {
		t.Errorf("second Connect err = %v", err)
	}

	s.Disconnect("shutdown")
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Connect err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect not unblocked by Disconnect")
	}
	if s.Connected() {
		t.Error("connected after cancelled dial")
	}
}

func TestRemoteCloseDisconnects(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, nil, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	nextEvent(t, s)

	conn.Close()
	ev := nextEvent(t, s)
	if ev.Kind != EventDisconnected || !strings.Contains(ev.Reason, "read failed") {
		t.Fatalf("event = %+v", ev)
	}
}

func TestClosedSession(t *testing.T) {
	s := NewSession(Options{Dialer: &fakeDialer{}, QueueEnabled: true, QueueMax: 1})
	s.Close()
	s.Close()

	if _, err := s.SendMessage(request(t, TypeEchoRequest)); !errors.Is(err, ErrClosed) {
		t.Errorf("SendMessage err = %v", err)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect err = %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events channel still open")
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		for {
			var data []byte
			if err := websocket.Message.Receive(ws, &data); err != nil {
				return
			}
			msg, err := Decode(data)
			if err != nil || !msg.IsRequest() {
				continue
			}
			resp, _ := NewResponse(msg, StatusSuccess, LoginResponse{Network: &NetworkLayout{
				NetworkID: 1,
				Devices:   []DeviceSpec{{ID: "CHE1", GUID: "00000101", Kind: "che", Positions: 6}},
			}})
			out, _ := Encode(resp)
			if err := websocket.Message.Send(ws, string(out)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dialer := WebSocketDialer{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Origin:  "http://localhost/",
		Timeout: 2 * time.Second,
	}
	s := newTestSession(t, dialer, nil, func(o *Options) { o.WriteTimeout = time.Second })
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	login, _ := NewMessage(TypeLoginRequest, LoginRequest{Organization: "acme", Site: "DC-01"})
	resp, err := s.Call(ctx, login)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var body LoginResponse
	if err := resp.DecodeBody(&body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.Network == nil || len(body.Network.Devices) != 1 || body.Network.Devices[0].GUID != "00000101" {
		t.Errorf("login body = %+v", body)
	}
}
