// Package fleet owns the device logic instances of one radio network.
//
// The manager's lock is the single synchronization point between network
// attach/detach, radio association and uplink connectivity broadcasts.
// Events are posted to device inboxes while the lock is held; posting never
// blocks, so a broadcast reaches exactly the device set present at the time
// of the call and a device added later starts from the current connectivity.
package fleet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/device"
	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/uplink"
)

// Errors returned by the manager.
var (
	ErrUnknownDevice  = errors.New("fleet: unknown device")
	ErrKindMismatch   = errors.New("fleet: device kind mismatch")
	ErrNoFreeAddress  = errors.New("fleet: no free network address")
	ErrDeviceStopped  = errors.New("fleet: device stopped")
	ErrNotAisle       = errors.New("fleet: device is not an aisle controller")
	ErrNotAttached    = errors.New("fleet: no network attached")
	errDuplicateGUIDs = errors.New("fleet: duplicate guid in layout")
)

// Network addresses handed to devices. 0 is the controller, 0xFF broadcast.
const (
	firstNetAddr = 1
	lastNetAddr  = 254
)

// NetworkState is a device's radio lifecycle state.
type NetworkState int

const (
	Unassociated NetworkState = iota
	Associating
	Started
)

func (s NetworkState) String() string {
	switch s {
	case Unassociated:
		return "UNASSOCIATED"
	case Associating:
		return "ASSOCIATING"
	case Started:
		return "STARTED"
	default:
		return "UNKNOWN"
	}
}

// DeviceStatus is a snapshot of one managed device.
type DeviceStatus struct {
	Info     device.Info
	State    NetworkState
	NetAddr  uint8
	Workflow string
}

type member struct {
	info    device.Info
	logic   device.Logic
	state   NetworkState
	netAddr uint8
}

// Manager maps hardware GUIDs and network addresses to device logic.
type Manager struct {
	mu        sync.Mutex
	env       device.Env
	logger    *logging.Logger
	newLogic  func(device.Info, device.Env) (device.Logic, error)
	attached  bool
	connected bool
	byGUID    map[string]*member
	byAddr    map[uint8]*member
}

// NewManager creates an empty, unattached manager.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		logger:   logger,
		newLogic: device.New,
		byGUID:   make(map[string]*member),
		byAddr:   make(map[uint8]*member),
	}
}

// Bind sets the radio and uplink used by devices created afterwards. Call it
// before Attach.
func (m *Manager) Bind(radio device.Sender, up device.Uplink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.env = device.Env{Radio: radio, Uplink: up, Logger: m.logger}
}

func key(guid string) string { return strings.ToUpper(strings.TrimSpace(guid)) }

// Attach creates and starts logic for every device in layout that is not
// managed yet. It is idempotent. A device that cannot be created is logged
// and reported; the rest are still attached.
func (m *Manager) Attach(layout []device.Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	seen := make(map[string]bool, len(layout))
	for _, info := range layout {
		k := key(info.GUID)
		if seen[k] {
			errs = append(errs, fmt.Errorf("%w: %s", errDuplicateGUIDs, info.GUID))
			continue
		}
		seen[k] = true
		if existing, ok := m.byGUID[k]; ok {
			if existing.info.Kind != info.Kind {
				m.logger.Error("Device %s changed kind from %s to %s; keeping %s", info.ID, existing.info.Kind, info.Kind, existing.info.Kind)
			}
			continue
		}
		if err := m.addLocked(info); err != nil {
			m.logger.Error("Attach %s: %v", info, err)
			errs = append(errs, err)
		}
	}
	if !m.attached {
		m.logger.Info("Fleet attached with %d devices", len(m.byGUID))
	}
	m.attached = true
	return errors.Join(errs...)
}

// addLocked creates the device logic and seeds its inbox with the current
// connectivity so it never misses a broadcast.
func (m *Manager) addLocked(info device.Info) error {
	logic, err := m.newLogic(info, m.env)
	if err != nil {
		return err
	}
	ev := device.Event{Kind: device.EventDisconnected}
	if m.connected {
		ev.Kind = device.EventConnected
	}
	logic.Receive(ev)
	logic.Start()
	m.byGUID[key(info.GUID)] = &member{info: info, logic: logic}
	m.logger.Verbose("Device %s added", info)
	return nil
}

// Update applies a network change pushed by the server. Additions need an
// attached network; removals are applied either way.
func (m *Manager) Update(added []device.Info, removed []string) error {
	var errs []error
	for _, guid := range removed {
		if err := m.Remove(guid); err != nil {
			errs = append(errs, err)
		}
	}
	if len(added) > 0 {
		m.mu.Lock()
		if !m.attached {
			m.mu.Unlock()
			return errors.Join(append(errs, ErrNotAttached)...)
		}
		for _, info := range added {
			if _, ok := m.byGUID[key(info.GUID)]; ok {
				continue
			}
			if err := m.addLocked(info); err != nil {
				m.logger.Error("Add %s: %v", info, err)
				errs = append(errs, err)
			}
		}
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Remove stops and forgets one device.
func (m *Manager) Remove(guid string) error {
	m.mu.Lock()
	mem, ok := m.byGUID[key(guid)]
	if ok {
		delete(m.byGUID, key(guid))
		if mem.state != Unassociated {
			delete(m.byAddr, mem.netAddr)
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, guid)
	}
	mem.logic.Stop()
	m.logger.Info("Device %s removed", mem.info)
	return nil
}

// Unattached stops every device and releases the network.
func (m *Manager) Unattached() {
	m.mu.Lock()
	members := make([]*member, 0, len(m.byGUID))
	for _, mem := range m.byGUID {
		members = append(members, mem)
	}
	m.byGUID = make(map[string]*member)
	m.byAddr = make(map[uint8]*member)
	m.attached = false
	m.mu.Unlock()

	for _, mem := range members {
		mem.logic.Stop()
	}
	m.logger.Info("Fleet unattached, %d devices stopped", len(members))
}

// Connected tells every device the uplink is available.
func (m *Manager) Connected() { m.broadcast(true) }

// Disconnected tells every device the uplink was lost.
func (m *Manager) Disconnected() { m.broadcast(false) }

func (m *Manager) broadcast(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = connected
	ev := device.Event{Kind: device.EventDisconnected}
	if connected {
		ev.Kind = device.EventConnected
	}
	for _, mem := range m.byGUID {
		if !mem.logic.Receive(ev) {
			m.logger.Error("Device %s did not take %s: %v", mem.info, ev.Kind, ErrDeviceStopped)
		}
	}
	m.logger.Verbose("Broadcast %s to %d devices", ev.Kind, len(m.byGUID))
}

// Associate assigns a network address to guid, reusing the one it already
// has. The device starts on its first association check or command.
func (m *Manager) Associate(guid string, kind command.DeviceKind) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.byGUID[key(guid)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDevice, guid)
	}
	if kind != mem.info.Kind {
		return 0, fmt.Errorf("%w: %s is %s, announced %s", ErrKindMismatch, mem.info.ID, mem.info.Kind, kind)
	}
	if mem.state == Unassociated {
		addr, err := m.freeAddrLocked()
		if err != nil {
			return 0, err
		}
		mem.netAddr = addr
		m.byAddr[addr] = mem
	}
	// A device that re-associates has reset; it starts again from its check.
	mem.state = Associating
	return mem.netAddr, nil
}

func (m *Manager) freeAddrLocked() (uint8, error) {
	for a := firstNetAddr; a <= lastNetAddr; a++ {
		if _, used := m.byAddr[uint8(a)]; !used {
			return uint8(a), nil
		}
	}
	return 0, ErrNoFreeAddress
}

// AssociationState answers a device's association check, starting the
// device if it was associating.
func (m *Manager) AssociationState(guid string) command.AssocState {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.byGUID[key(guid)]
	if !ok {
		return command.AssocRejected
	}
	switch mem.state {
	case Associating:
		m.startLocked(mem)
		return command.AssocAssociated
	case Started:
		return command.AssocAssociated
	default:
		return command.AssocUnknown
	}
}

// startLocked marks mem started, but only while its last known state shows
// it is still on the network.
func (m *Manager) startLocked(mem *member) {
	if mem.state != Associating {
		return
	}
	if !mem.logic.Receive(device.Event{Kind: device.EventStarted, NetAddr: mem.netAddr}) {
		m.logger.Error("Device %s: %v", mem.info, ErrDeviceStopped)
		return
	}
	mem.state = Started
	m.logger.Info("Device %s started at net address %d", mem.info, mem.netAddr)
}

// Deliver hands a command received from netAddr to its device.
func (m *Manager) Deliver(netAddr uint8, cmd command.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.byAddr[netAddr]
	if !ok {
		return fmt.Errorf("%w: net address %d", ErrUnknownDevice, netAddr)
	}
	m.startLocked(mem)
	if !mem.logic.Receive(device.Event{Kind: device.EventCommand, Command: cmd}) {
		return fmt.Errorf("%w: %s", ErrDeviceStopped, mem.info.ID)
	}
	return nil
}

// DeliverResponse routes a server response to the device that sent the
// request.
func (m *Manager) DeliverResponse(resp *uplink.Message, req uplink.PendingRequest) error {
	return m.post(req.Origin, device.Event{Kind: device.EventResponse, Response: resp, Request: req})
}

// LightLocations forwards lights pushed by the server to an aisle device.
func (m *Manager) LightLocations(guid string, lights []uplink.LocationLight) error {
	m.mu.Lock()
	mem, ok := m.byGUID[key(guid)]
	m.mu.Unlock()
	if ok && mem.info.Kind != command.KindAisle {
		return fmt.Errorf("%w: %s", ErrNotAisle, mem.info.ID)
	}
	return m.post(guid, device.Event{Kind: device.EventLights, Lights: lights})
}

func (m *Manager) post(guid string, ev device.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.byGUID[key(guid)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, guid)
	}
	if !mem.logic.Receive(ev) {
		return fmt.Errorf("%w: %s", ErrDeviceStopped, mem.info.ID)
	}
	return nil
}

// IsAttached reports whether a network is attached.
func (m *Manager) IsAttached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached
}

// IsConnected reports the last broadcast connectivity.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Devices returns a snapshot sorted by device id.
func (m *Manager) Devices() []DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DeviceStatus, 0, len(m.byGUID))
	for _, mem := range m.byGUID {
		out = append(out, DeviceStatus{
			Info:     mem.info,
			State:    mem.state,
			NetAddr:  mem.netAddr,
			Workflow: mem.logic.State(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.ID < out[j].Info.ID })
	return out
}
