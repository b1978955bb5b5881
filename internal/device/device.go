// Package device holds the per-device workflow logic. Each device runs on
// its own worker goroutine and sees radio commands, uplink responses and
// connectivity changes strictly in arrival order through one inbox.
package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/mailbox"
	"github.com/tonylturner/sitecon/internal/uplink"
)

// Sender transmits radio commands. radio.Controller implements it.
type Sender interface {
	SendCommand(netAddr uint8, cmd command.Command) error
}

// Uplink sends messages to the server. uplink.Session implements it.
type Uplink interface {
	Send(msg *uplink.Message, origin string) (uplink.SendResult, error)
}

// Info identifies a device in the site network.
type Info struct {
	ID        string
	GUID      string
	Kind      command.DeviceKind
	Positions int
}

func (i Info) String() string {
	return fmt.Sprintf("%s(%s %s)", i.ID, i.Kind, i.GUID)
}

// Env is what device logic needs from the rest of the controller.
type Env struct {
	Radio  Sender
	Uplink Uplink
	Logger *logging.Logger
}

// EventKind classifies inbox events.
type EventKind int

const (
	// EventStarted: the device associated and has a net address.
	EventStarted EventKind = iota
	// EventCommand: the device sent a radio command (Scan, Button).
	EventCommand
	// EventResponse: the server answered a request this device sent.
	EventResponse
	// EventLights: the server pushed location lights.
	EventLights
	// EventConnected: the uplink is available.
	EventConnected
	// EventDisconnected: the uplink was lost.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventCommand:
		return "command"
	case EventResponse:
		return "response"
	case EventLights:
		return "lights"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one inbox item.
type Event struct {
	Kind     EventKind
	NetAddr  uint8
	Command  command.Command
	Response *uplink.Message
	Request  uplink.PendingRequest
	Lights   []uplink.LocationLight
	Reason   string
}

// Logic is the capability set every device kind exposes to the fleet.
type Logic interface {
	Info() Info
	Kind() command.DeviceKind
	// Receive queues ev for the worker. It reports false once stopped.
	Receive(ev Event) bool
	Start()
	Stop()
	// State names the current workflow state.
	State() string
}

// machine is the kind-specific state machine driven by a worker.
type machine interface {
	handle(ev Event)
	stateName() string
}

// New builds the logic for info.Kind.
func New(info Info, env Env) (Logic, error) {
	if env.Logger == nil {
		env.Logger = logging.Discard()
	}
	var m machine
	switch info.Kind {
	case command.KindCHE:
		m = newCHE(info, env)
	case command.KindAisle:
		m = newAisle(info, env)
	default:
		return nil, fmt.Errorf("device %s: unsupported kind %s", info.ID, info.Kind)
	}
	return newWorker(info, m, env.Logger), nil
}

type worker struct {
	info   Info
	m      machine
	logger *logging.Logger
	inbox  *mailbox.Mailbox[Event]
	state  atomic.Value

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup
}

func newWorker(info Info, m machine, logger *logging.Logger) *worker {
	w := &worker{
		info:   info,
		m:      m,
		logger: logger,
		inbox:  mailbox.New[Event](),
	}
	w.state.Store(m.stateName())
	return w
}

func (w *worker) Info() Info               { return w.info }
func (w *worker) Kind() command.DeviceKind { return w.info.Kind }
func (w *worker) Receive(ev Event) bool    { return w.inbox.Put(ev) }
func (w *worker) State() string            { return w.state.Load().(string) }

func (w *worker) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		w.wg.Add(1)
		go w.run()
	})
}

// Stop rejects new events, lets the worker drain its inbox and waits.
func (w *worker) Stop() {
	w.stopOnce.Do(func() {
		w.inbox.Close()
		if w.started.Load() {
			w.wg.Wait()
		}
	})
}

func (w *worker) run() {
	defer w.wg.Done()
	for {
		ev, ok := w.inbox.Receive(nil)
		if !ok {
			return
		}
		w.dispatch(ev)
	}
}

func (w *worker) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Device %s: %s event panicked: %v", w.info.ID, ev.Kind, r)
		}
		w.state.Store(w.m.stateName())
	}()
	w.m.handle(ev)
}
