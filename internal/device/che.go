package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/uplink"
)

type cheState int

const (
	cheIdle cheState = iota
	cheScanUser
	cheScanContainer
	cheScanPosition
	cheComputeWork
	cheNoWork
	cheLocationReview
	cheGetWork
	cheDoPick
	cheShortPickConfirm
	chePickComplete
)

var cheStateNames = [...]string{
	cheIdle:             "Idle",
	cheScanUser:         "ScanUser",
	cheScanContainer:    "ScanContainer",
	cheScanPosition:     "ScanPosition",
	cheComputeWork:      "ComputeWork",
	cheNoWork:           "NoWork",
	cheLocationReview:   "LocationReview",
	cheGetWork:          "GetWork",
	cheDoPick:           "DoPick",
	cheShortPickConfirm: "ShortPickConfirm",
	chePickComplete:     "PickComplete",
}

func (s cheState) String() string {
	if int(s) < len(cheStateNames) {
		return cheStateNames[s]
	}
	return "Unknown"
}

// Scan prefixes, "<code>%<value>".
const (
	scanUser      = "U"
	scanContainer = "C"
	scanPosition  = "P"
	scanLocation  = "L"
	scanControl   = "X"
)

// Control scans, "X%<command>".
const (
	ctlStart  = "START"
	ctlLogout = "LOGOUT"
	ctlSetup  = "SETUP"
	ctlYes    = "YES"
	ctlNo     = "NO"
	ctlClear  = "CLEAR"
)

// che drives a pick cart: badge login, container setup, work review and
// pick confirmation on the position controllers.
type che struct {
	info    Info
	env     Env
	log     *logging.Logger
	poscons *posConDisplay

	state      cheState
	online     bool
	associated bool
	netAddr    uint8

	user             string
	containers       map[uint8]string // position -> container id
	pendingContainer string
	counts           map[string]int
	total            int
	startLocation    string
	work             []uplink.WorkInstruction
	current          int
	shortQty         int

	// awaiting is the message id of the outstanding ComputeWork or GetWork
	// request. Responses to anything else are stale. awaitingQueued is set
	// while that request sits in the offline queue; the session sends it on
	// reconnect, so it must not be issued again.
	awaiting       string
	awaitingQueued bool
	lastError      string
}

func newCHE(info Info, env Env) *che {
	return &che{
		info:       info,
		env:        env,
		log:        env.Logger,
		poscons:    newPosConDisplay(info.Positions),
		containers: make(map[uint8]string),
	}
}

func (c *che) stateName() string { return c.state.String() }

func (c *che) handle(ev Event) {
	switch ev.Kind {
	case EventStarted:
		c.associated = true
		c.netAddr = ev.NetAddr
		c.log.Info("CHE %s started at net address %d", c.info.ID, ev.NetAddr)
		c.render()
	case EventConnected:
		c.online = true
		c.resume()
	case EventDisconnected:
		c.online = false
		c.render()
	case EventCommand:
		switch cmd := ev.Command.(type) {
		case command.Scan:
			c.onScan(cmd.Value)
		case command.Button:
			c.onButton(cmd)
		default:
			c.log.Verbose("CHE %s: ignoring %s", c.info.ID, ev.Command.Type())
		}
	case EventResponse:
		c.onResponse(ev.Response, ev.Request)
	default:
		c.log.Verbose("CHE %s: ignoring %s event", c.info.ID, ev.Kind)
	}
}

// resume re-issues a request lost with the previous connection, or
// re-renders the frozen state.
func (c *che) resume() {
	if c.awaiting != "" && c.awaitingQueued {
		c.awaitingQueued = false
		c.render()
		return
	}
	switch c.state {
	case cheComputeWork:
		c.computeWork()
	case cheGetWork:
		c.getWork()
	default:
		c.render()
	}
}

func (c *che) onScan(value string) {
	if !c.online {
		c.log.Verbose("CHE %s: scan %q held while uplink is unavailable", c.info.ID, value)
		c.render()
		return
	}
	code, arg, ok := strings.Cut(value, "%")
	if !ok || code == "" || arg == "" {
		c.showError("INVALID SCAN")
		return
	}
	switch strings.ToUpper(code) {
	case scanUser:
		c.onBadge(arg)
	case scanContainer:
		c.onContainer(arg)
	case scanPosition:
		c.onPosition(arg)
	case scanLocation:
		c.onLocation(arg)
	case scanControl:
		c.onControl(strings.ToUpper(arg))
	default:
		c.showError("UNKNOWN SCAN " + code)
	}
}

func (c *che) onBadge(badge string) {
	switch {
	case c.state == cheIdle || c.state == cheScanUser:
		c.user = badge
		c.log.Info("CHE %s: user %s logged in", c.info.ID, badge)
		c.enter(cheScanContainer)
	case badge == c.user:
		c.render()
	default:
		c.log.Info("CHE %s: user %s replaces %s", c.info.ID, badge, c.user)
		c.logout()
		c.user = badge
		c.enter(cheScanContainer)
	}
}

func (c *che) onContainer(id string) {
	if c.state != cheScanContainer && c.state != cheScanPosition {
		c.showError("NOT EXPECTED")
		return
	}
	if pos, ok := c.positionOf(id); ok {
		c.showError(fmt.Sprintf("ON CART AT %d", pos))
		return
	}
	c.pendingContainer = id
	c.enter(cheScanPosition)
}

func (c *che) onPosition(arg string) {
	if c.state != cheScanPosition {
		c.showError("NOT EXPECTED")
		return
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > c.info.Positions || n > 255 {
		c.showError("INVALID POSITION")
		return
	}
	if _, taken := c.containers[uint8(n)]; taken {
		c.showError("POSITION IN USE")
		return
	}
	c.containers[uint8(n)] = c.pendingContainer
	c.pendingContainer = ""
	c.enter(cheScanContainer)
}

func (c *che) onLocation(loc string) {
	if c.state != cheLocationReview {
		c.showError("NOT EXPECTED")
		return
	}
	c.startLocation = loc
	c.getWork()
}

func (c *che) onControl(ctl string) {
	switch ctl {
	case ctlStart:
		switch c.state {
		case cheScanContainer:
			if len(c.containers) == 0 {
				c.showError("NO CONTAINERS")
				return
			}
			c.computeWork()
		case cheNoWork, chePickComplete:
			c.computeWork()
		case cheLocationReview:
			c.startLocation = ""
			c.getWork()
		default:
			c.showError("NOT EXPECTED")
		}
	case ctlLogout:
		if c.state == cheIdle || c.state == cheScanUser {
			c.render()
			return
		}
		c.log.Info("CHE %s: user %s logged out", c.info.ID, c.user)
		c.logout()
		c.enter(cheScanUser)
	case ctlSetup:
		switch c.state {
		case cheScanPosition, cheNoWork, cheLocationReview, cheDoPick:
			c.resetWork()
			c.enter(cheScanContainer)
		case chePickComplete:
			c.resetWork()
			c.containers = make(map[uint8]string)
			c.enter(cheScanContainer)
		default:
			c.showError("NOT EXPECTED")
		}
	case ctlClear:
		if c.state != cheScanContainer && c.state != cheScanPosition {
			c.showError("NOT EXPECTED")
			return
		}
		c.containers = make(map[uint8]string)
		c.pendingContainer = ""
		c.enter(cheScanContainer)
	case ctlYes:
		if c.state != cheShortPickConfirm {
			c.showError("NOT EXPECTED")
			return
		}
		c.completeCurrent(uplink.WorkStatusShort, c.shortQty)
	case ctlNo:
		if c.state != cheShortPickConfirm {
			c.showError("NOT EXPECTED")
			return
		}
		c.shortQty = 0
		c.enter(cheDoPick)
	default:
		c.showError("UNKNOWN COMMAND")
	}
}

func (c *che) onButton(b command.Button) {
	if !c.online {
		c.render()
		return
	}
	if c.state != cheDoPick {
		c.log.Verbose("CHE %s: button %d ignored in %s", c.info.ID, b.Position, c.state)
		return
	}
	wi := c.work[c.current]
	pos, _ := c.positionOf(wi.ContainerID)
	if b.Position != pos {
		c.showError("WRONG POSITION")
		return
	}
	qty := int(b.Value)
	switch {
	case qty > wi.PlanQty:
		c.showError("QTY TOO HIGH")
	case qty == wi.PlanQty:
		c.completeCurrent(uplink.WorkStatusComplete, qty)
	default:
		c.shortQty = qty
		c.enter(cheShortPickConfirm)
	}
}

func (c *che) onResponse(resp *uplink.Message, req uplink.PendingRequest) {
	if resp == nil {
		return
	}
	if req.Type == uplink.TypeCompleteWorkInstructionRequest {
		if !resp.Succeeded() {
			c.log.Error("CHE %s: instruction report %s rejected: %s", c.info.ID, resp.RequestID, resp.StatusMessage)
		}
		return
	}
	if c.awaiting == "" || resp.RequestID != c.awaiting {
		c.log.Verbose("CHE %s: ignoring stale %s for %s", c.info.ID, resp.Type, resp.RequestID)
		return
	}
	c.awaiting = ""

	switch {
	case c.state == cheComputeWork && resp.Type == uplink.TypeComputeWorkResponse:
		c.onComputeWork(resp)
	case c.state == cheGetWork && resp.Type == uplink.TypeGetWorkResponse:
		c.onGetWork(resp)
	default:
		c.log.Verbose("CHE %s: unexpected %s in %s", c.info.ID, resp.Type, c.state)
	}
}

func (c *che) onComputeWork(resp *uplink.Message) {
	var body uplink.ComputeWorkResponse
	if err := c.decode(resp, &body); err != nil {
		c.enter(cheScanContainer)
		c.showError("SERVER ERROR")
		return
	}
	c.counts = body.Counts
	c.total = body.Total
	if body.Total == 0 {
		c.enter(cheNoWork)
		return
	}
	c.enter(cheLocationReview)
}

func (c *che) onGetWork(resp *uplink.Message) {
	var body uplink.GetWorkResponse
	if err := c.decode(resp, &body); err != nil {
		c.enter(cheLocationReview)
		c.showError("SERVER ERROR")
		return
	}
	c.work = c.work[:0]
	for _, wi := range body.Instructions {
		if wi.Status != "" && wi.Status != uplink.WorkStatusNew {
			continue
		}
		if _, ok := c.positionOf(wi.ContainerID); !ok {
			c.log.Error("CHE %s: instruction %s for container %s not on cart", c.info.ID, wi.ID, wi.ContainerID)
			continue
		}
		c.work = append(c.work, wi)
	}
	c.current = 0
	if len(c.work) == 0 {
		c.enter(chePickComplete)
		return
	}
	c.enter(cheDoPick)
}

func (c *che) decode(resp *uplink.Message, v any) error {
	if !resp.Succeeded() {
		c.log.Error("CHE %s: %s failed: %s", c.info.ID, resp.Type, resp.StatusMessage)
		return fmt.Errorf("%s: status %s", resp.Type, resp.Status)
	}
	if err := resp.DecodeBody(v); err != nil {
		c.log.Error("CHE %s: %v", c.info.ID, err)
		return err
	}
	return nil
}

func (c *che) computeWork() {
	body := uplink.ComputeWorkRequest{
		DeviceGUID: c.info.GUID,
		UserID:     c.user,
		Containers: c.containerMap(),
	}
	if err := c.request(uplink.TypeComputeWorkRequest, body); err != nil {
		c.enter(cheScanContainer)
		c.showError("SERVER ERROR")
		return
	}
	c.enter(cheComputeWork)
}

func (c *che) getWork() {
	body := uplink.GetWorkRequest{
		DeviceGUID:    c.info.GUID,
		UserID:        c.user,
		Containers:    c.containerMap(),
		StartLocation: c.startLocation,
	}
	if err := c.request(uplink.TypeGetWorkRequest, body); err != nil {
		c.enter(cheLocationReview)
		c.showError("SERVER ERROR")
		return
	}
	c.enter(cheGetWork)
}

func (c *che) request(t uplink.MessageType, body any) error {
	c.awaiting = ""
	c.awaitingQueued = false
	msg, err := uplink.NewMessage(t, body)
	if err != nil {
		c.log.Error("CHE %s: %v", c.info.ID, err)
		return err
	}
	res, err := c.env.Uplink.Send(msg, c.info.GUID)
	if err != nil {
		c.log.Error("CHE %s: %s not sent: %v", c.info.ID, t, err)
		return err
	}
	c.awaiting = msg.MessageID
	c.awaitingQueued = res == uplink.SendResultQueued
	return nil
}

func (c *che) completeCurrent(status string, qty int) {
	wi := c.work[c.current]
	wi.Status = status
	wi.ActualQty = qty
	wi.PickerID = c.user

	msg, err := uplink.NewMessage(uplink.TypeCompleteWorkInstructionRequest, uplink.CompleteWorkInstructionRequest{
		DeviceGUID:  c.info.GUID,
		Instruction: wi,
	})
	if err == nil {
		var res uplink.SendResult
		res, err = c.env.Uplink.Send(msg, c.info.GUID)
		if err == nil && res == uplink.SendResultQueued {
			c.log.Verbose("CHE %s: instruction %s report queued", c.info.ID, wi.ID)
		}
	}
	if err != nil {
		c.log.Error("CHE %s: instruction %s (%s %d) not reported: %v", c.info.ID, wi.ID, status, qty, err)
	}

	c.current++
	c.shortQty = 0
	if c.current >= len(c.work) {
		c.work = nil
		c.current = 0
		c.enter(chePickComplete)
		return
	}
	c.enter(cheDoPick)
}

func (c *che) logout() {
	c.resetWork()
	c.user = ""
	c.containers = make(map[uint8]string)
	c.state = cheScanUser
}

func (c *che) resetWork() {
	c.pendingContainer = ""
	c.counts = nil
	c.total = 0
	c.startLocation = ""
	c.work = nil
	c.current = 0
	c.shortQty = 0
	c.awaiting = ""
	c.awaitingQueued = false
}

func (c *che) enter(s cheState) {
	if s != c.state {
		c.log.Debug("CHE %s: %s -> %s", c.info.ID, c.state, s)
	}
	c.state = s
	c.lastError = ""
	c.render()
}

// render shows the current state, or the unavailable overlay while the
// uplink is down.
func (c *che) render() {
	if !c.associated {
		return
	}
	if !c.online {
		c.display("PLEASE WAIT", "SERVER", "UNAVAILABLE", "")
		c.send(c.poscons.replace(nil))
		return
	}
	p := c.prompt()
	c.display(p[0], p[1], p[2], p[3])
	c.send(c.poscons.replace(c.posConsForState()))
}

func (c *che) showError(reason string) {
	c.lastError = reason
	c.log.Verbose("CHE %s: %s in %s", c.info.ID, reason, c.state)
	p := c.prompt()
	c.display(reason, p[0], p[1], p[2])
}

func (c *che) prompt() [command.DisplayLines]string {
	switch c.state {
	case cheIdle:
		return [4]string{"SCAN BADGE"}
	case cheScanUser:
		return [4]string{"LOGGED OUT", "SCAN BADGE"}
	case cheScanContainer:
		return [4]string{"SCAN CONTAINER", fmt.Sprintf("%d ON CART", len(c.containers)), "X%START TO BEGIN"}
	case cheScanPosition:
		return [4]string{"SCAN POSITION", "FOR " + c.pendingContainer}
	case cheComputeWork:
		return [4]string{"COMPUTING WORK", "PLEASE WAIT"}
	case cheNoWork:
		return [4]string{"NO WORK", "X%START TO RETRY", "X%SETUP TO CHANGE"}
	case cheLocationReview:
		return [4]string{fmt.Sprintf("%d JOBS", c.total), "SCAN START LOCATION", "OR X%START"}
	case cheGetWork:
		return [4]string{"GETTING WORK", "PLEASE WAIT"}
	case cheDoPick:
		if wi, ok := c.active(); ok {
			return [4]string{wi.Location, wi.ItemID, fmt.Sprintf("QTY %d", wi.PlanQty), wi.Description}
		}
	case cheShortPickConfirm:
		if wi, ok := c.active(); ok {
			return [4]string{"CONFIRM SHORT", fmt.Sprintf("PICKED %d OF %d", c.shortQty, wi.PlanQty), "X%YES OR X%NO"}
		}
	case chePickComplete:
		return [4]string{"ALL WORK COMPLETE", "X%START TO RECHECK", "X%SETUP NEW CART"}
	}
	return [4]string{}
}

func (c *che) posConsForState() []command.PosControllerInstr {
	var out []command.PosControllerInstr
	switch c.state {
	case cheScanContainer, cheScanPosition, cheComputeWork, cheGetWork:
		for pos := range c.containers {
			out = append(out, command.PosControllerInstr{
				Position:   pos,
				ReqQty:     command.QtyDashes,
				MinQty:     command.QtyDashes,
				MaxQty:     command.QtyDashes,
				Color:      command.ColorBlue,
				Frequency:  command.FreqSolid,
				Brightness: command.BrightnessDim,
			})
		}
	case cheLocationReview:
		for pos, id := range c.containers {
			out = append(out, command.PosControllerInstr{
				Position:   pos,
				ReqQty:     clampQty(c.counts[id]),
				MaxQty:     clampQty(c.counts[id]),
				Color:      command.ColorBlue,
				Frequency:  command.FreqSolid,
				Brightness: command.BrightnessDim,
			})
		}
	case cheDoPick:
		if wi, ok := c.active(); ok {
			out = append(out, c.pickInstr(wi, wi.PlanQty, command.FreqSolid))
		}
	case cheShortPickConfirm:
		if wi, ok := c.active(); ok {
			out = append(out, c.pickInstr(wi, c.shortQty, command.FreqBlink))
		}
	}
	return out
}

func (c *che) pickInstr(wi uplink.WorkInstruction, qty int, freq command.Frequency) command.PosControllerInstr {
	pos, _ := c.positionOf(wi.ContainerID)
	return command.PosControllerInstr{
		Position:   pos,
		ReqQty:     clampQty(qty),
		MinQty:     0,
		MaxQty:     clampQty(wi.PlanQty),
		Color:      command.ColorGreen,
		Frequency:  freq,
		Brightness: command.BrightnessFull,
	}
}

func (c *che) active() (uplink.WorkInstruction, bool) {
	if c.current < 0 || c.current >= len(c.work) {
		return uplink.WorkInstruction{}, false
	}
	return c.work[c.current], true
}

func (c *che) positionOf(container string) (uint8, bool) {
	for pos, id := range c.containers {
		if id == container {
			return pos, true
		}
	}
	return 0, false
}

func (c *che) containerMap() map[string]string {
	out := make(map[string]string, len(c.containers))
	for pos, id := range c.containers {
		out[strconv.Itoa(int(pos))] = id
	}
	return out
}

func (c *che) display(lines ...string) {
	var msg command.DisplayMessage
	copy(msg.Lines[:], lines)
	c.send(msg)
}

func (c *che) send(cmd command.Command) {
	if !c.associated {
		return
	}
	if err := c.env.Radio.SendCommand(c.netAddr, cmd); err != nil {
		c.log.Error("CHE %s: send %s: %v", c.info.ID, cmd.Type(), err)
	}
}
