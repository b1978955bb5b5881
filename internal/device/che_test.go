package device

import (
	"errors"
	"testing"

	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/uplink"
)

func newTestCHE(t *testing.T) (*che, *fakeRadio, *fakeUplink) {
	t.Helper()
	env, radio, up := testEnv()
	c := newCHE(Info{ID: "CHE1", GUID: "00000101", Kind: command.KindCHE, Positions: 6}, env)
	c.handle(Event{Kind: EventStarted, NetAddr: 3})
	c.handle(Event{Kind: EventConnected})
	return c, radio, up
}

func scan(c *che, values ...string) {
	for _, v := range values {
		c.handle(Event{Kind: EventCommand, Command: command.Scan{Value: v}})
	}
}

func press(c *che, pos uint8, value uint16) {
	c.handle(Event{Kind: EventCommand, Command: command.Button{Position: pos, Value: value}})
}

func respond(t *testing.T, c *che, req *uplink.Message, status uplink.Status, body any) {
	t.Helper()
	resp, err := uplink.NewResponse(req, status, body)
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	c.handle(Event{
		Kind:     EventResponse,
		Response: resp,
		Request:  uplink.PendingRequest{MessageID: req.MessageID, Type: req.Type, Origin: c.info.GUID},
	})
}

func expectState(t *testing.T, c *che, want cheState) {
	t.Helper()
	if c.state != want {
		t.Fatalf("state = %s, want %s", c.state, want)
	}
}

func TestCHEScanWorkflowWithoutWork(t *testing.T) {
	c, radio, up := newTestCHE(t)
	expectState(t, c, cheIdle)
	if got := radio.lastDisplay(t).Lines[0]; got != "SCAN BADGE" {
		t.Fatalf("idle prompt = %q", got)
	}

	scan(c, "U%PICKER1")
	expectState(t, c, cheScanContainer)
	scan(c, "C%123")
	expectState(t, c, cheScanPosition)
	scan(c, "P%1")
	expectState(t, c, cheScanContainer)
	if c.containers[1] != "123" {
		t.Fatalf("containers = %v", c.containers)
	}
	scan(c, "X%START")
	expectState(t, c, cheComputeWork)

	req := up.last(t)
	if req.Type != uplink.TypeComputeWorkRequest {
		t.Fatalf("sent %s, want ComputeWorkRequest", req.Type)
	}
	var body uplink.ComputeWorkRequest
	if err := req.DecodeBody(&body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.UserID != "PICKER1" || body.DeviceGUID != "00000101" || body.Containers["1"] != "123" {
		t.Errorf("request body = %+v", body)
	}

	respond(t, c, req, uplink.StatusSuccess, uplink.ComputeWorkResponse{Total: 0})
	expectState(t, c, cheNoWork)
	if got := radio.lastDisplay(t).Lines[0]; got != "NO WORK" {
		t.Errorf("display = %q, want NO WORK", got)
	}
}

func TestCHEPickWorkflow(t *testing.T) {
	c, radio, up := newTestCHE(t)
	scan(c, "U%PICKER1", "C%123", "P%1", "C%456", "P%4", "X%START")

	respond(t, c, up.last(t), uplink.StatusSuccess, uplink.ComputeWorkResponse{
		Total:  3,
		Counts: map[string]int{"123": 2, "456": 1},
	})
	expectState(t, c, cheLocationReview)
	if got := radio.lastDisplay(t).Lines[0]; got != "3 JOBS" {
		t.Errorf("review display = %q", got)
	}
	set, ok := radio.lastPosCons(t).(command.SetPosController)
	if !ok || len(set.Instructions) != 6 {
		t.Fatalf("review position controllers = %#v", radio.lastPosCons(t))
	}
	if set.Instructions[0].ReqQty != 2 || set.Instructions[3].ReqQty != 1 || set.Instructions[1].Color != command.ColorOff {
		t.Errorf("review counts = %+v", set.Instructions)
	}

	scan(c, "L%A-01")
	expectState(t, c, cheGetWork)
	getWork := up.last(t)
	var gw uplink.GetWorkRequest
	if err := getWork.DecodeBody(&gw); err != nil || gw.StartLocation != "A-01" {
		t.Fatalf("GetWorkRequest = %+v, err %v", gw, err)
	}

	respond(t, c, getWork, uplink.StatusSuccess, uplink.GetWorkResponse{Instructions: []uplink.WorkInstruction{
		{ID: "w1", ContainerID: "123", Location: "A-01", ItemID: "SKU1", PlanQty: 2, Status: uplink.WorkStatusNew},
		{ID: "w2", ContainerID: "456", Location: "A-02", ItemID: "SKU2", PlanQty: 1, Status: uplink.WorkStatusNew},
		{ID: "w3", ContainerID: "123", Location: "A-03", PlanQty: 1, Status: uplink.WorkStatusComplete},
		{ID: "w4", ContainerID: "999", Location: "A-04", PlanQty: 1},
	}})
	expectState(t, c, cheDoPick)
	if len(c.work) != 2 {
		t.Fatalf("work = %+v", c.work)
	}
	if d := radio.lastDisplay(t); d.Lines[0] != "A-01" || d.Lines[2] != "QTY 2" {
		t.Errorf("pick display = %q", d.Lines)
	}

	press(c, 4, 2)
	expectState(t, c, cheDoPick)
	if c.lastError != "WRONG POSITION" {
		t.Errorf("lastError = %q", c.lastError)
	}
	press(c, 1, 3)
	if c.lastError != "QTY TOO HIGH" || c.current != 0 {
		t.Errorf("over pick: lastError=%q current=%d", c.lastError, c.current)
	}

	press(c, 1, 2)
	expectState(t, c, cheDoPick)
	done := up.last(t)
	var cw uplink.CompleteWorkInstructionRequest
	if err := done.DecodeBody(&cw); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if cw.Instruction.ID != "w1" || cw.Instruction.Status != uplink.WorkStatusComplete || cw.Instruction.ActualQty != 2 || cw.Instruction.PickerID != "PICKER1" {
		t.Errorf("completion = %+v", cw.Instruction)
	}

	press(c, 4, 0)
	expectState(t, c, cheShortPickConfirm)
	scan(c, "X%NO")
	expectState(t, c, cheDoPick)
	press(c, 4, 0)
	scan(c, "X%YES")
	expectState(t, c, chePickComplete)
	if err := up.last(t).DecodeBody(&cw); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if cw.Instruction.ID != "w2" || cw.Instruction.Status != uplink.WorkStatusShort || cw.Instruction.ActualQty != 0 {
		t.Errorf("short completion = %+v", cw.Instruction)
	}
	if _, ok := radio.lastPosCons(t).(command.ClearPosController); !ok {
		t.Error("position controllers not cleared after the last pick")
	}
}

func TestCHEDisconnectFreezesWorkflow(t *testing.T) {
	c, radio, _ := newTestCHE(t)
	scan(c, "U%PICKER1", "C%123", "P%2")
	before := radio.lastDisplay(t)

	c.handle(Event{Kind: EventDisconnected})
	if d := radio.lastDisplay(t); d.Lines[2] != "UNAVAILABLE" {
		t.Fatalf("overlay = %q", d.Lines)
	}
	scan(c, "C%999", "X%START")
	expectState(t, c, cheScanContainer)
	if len(c.containers) != 1 {
		t.Errorf("containers changed while offline: %v", c.containers)
	}
	if d := radio.lastDisplay(t); d.Lines[2] != "UNAVAILABLE" {
		t.Errorf("offline scan display = %q", d.Lines)
	}

	c.handle(Event{Kind: EventConnected})
	radio.reset()
	scan(c, "U%PICKER1")
	expectState(t, c, cheScanContainer)
	if got := radio.lastDisplay(t); got != before {
		t.Errorf("prompt after reconnect = %q, want %q", got.Lines, before.Lines)
	}
	if c.containers[2] != "123" {
		t.Errorf("context lost: %v", c.containers)
	}
}

func TestCHEDifferentBadgeStartsOver(t *testing.T) {
	c, _, _ := newTestCHE(t)
	scan(c, "U%PICKER1", "C%123", "P%1", "U%PICKER2")
	expectState(t, c, cheScanContainer)
	if c.user != "PICKER2" || len(c.containers) != 0 {
		t.Errorf("user=%s containers=%v", c.user, c.containers)
	}

	scan(c, "X%LOGOUT")
	expectState(t, c, cheScanUser)
	if c.user != "" {
		t.Errorf("user = %q after logout", c.user)
	}
}

func TestCHEReissuesRequestAfterReconnect(t *testing.T) {
	c, _, up := newTestCHE(t)
	scan(c, "U%PICKER1", "C%123", "P%1", "X%START")
	first := up.last(t)

	c.handle(Event{Kind: EventDisconnected})
	c.handle(Event{Kind: EventConnected})
	expectState(t, c, cheComputeWork)
	second := up.last(t)
	if second.Type != uplink.TypeComputeWorkRequest || second.MessageID == first.MessageID {
		t.Fatalf("reissued request = %s %s", second.Type, second.MessageID)
	}

	respond(t, c, first, uplink.StatusSuccess, uplink.ComputeWorkResponse{Total: 5})
	expectState(t, c, cheComputeWork)
	respond(t, c, second, uplink.StatusSuccess, uplink.ComputeWorkResponse{Total: 0})
	expectState(t, c, cheNoWork)
}

func TestCHEQueuedRequestNotReissued(t *testing.T) {
	c, _, up := newTestCHE(t)
	scan(c, "U%PICKER1", "C%123", "P%1")
	up.result = uplink.SendResultQueued
	scan(c, "X%START")
	queued := up.last(t)
	sent := up.count()

	c.handle(Event{Kind: EventDisconnected})
	c.handle(Event{Kind: EventConnected})
	expectState(t, c, cheComputeWork)
	if up.count() != sent {
		t.Fatalf("sent %d messages after reconnect, want %d", up.count(), sent)
	}

	// Once drained, the request is in flight and a later drop loses it.
	up.result = uplink.SendResultSent
	c.handle(Event{Kind: EventDisconnected})
	c.handle(Event{Kind: EventConnected})
	if up.count() != sent+1 {
		t.Fatalf("sent %d messages after second reconnect, want %d", up.count(), sent+1)
	}
	reissued := up.last(t)
	if reissued.Type != uplink.TypeComputeWorkRequest || reissued.MessageID == queued.MessageID {
		t.Fatalf("reissued request = %s %s", reissued.Type, reissued.MessageID)
	}
	respond(t, c, reissued, uplink.StatusSuccess, uplink.ComputeWorkResponse{Total: 0})
	expectState(t, c, cheNoWork)
}

func TestCHEScanErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   []string
		scan    string
		state   cheState
		wantErr string
	}{
		{"no prefix", nil, "garbage", cheIdle, "INVALID SCAN"},
		{"empty value", nil, "U%", cheIdle, "INVALID SCAN"},
		{"unknown code", nil, "Q%1", cheIdle, "UNKNOWN SCAN Q"},
		{"container before login", nil, "C%1", cheIdle, "NOT EXPECTED"},
		{"position out of range", []string{"U%A", "C%1"}, "P%9", cheScanPosition, "INVALID POSITION"},
		{"position not a number", []string{"U%A", "C%1"}, "P%x", cheScanPosition, "INVALID POSITION"},
		{"position in use", []string{"U%A", "C%1", "P%1", "C%2"}, "P%1", cheScanPosition, "POSITION IN USE"},
		{"container on cart", []string{"U%A", "C%1", "P%1"}, "C%1", cheScanContainer, "ON CART AT 1"},
		{"start without containers", []string{"U%A"}, "X%START", cheScanContainer, "NO CONTAINERS"},
		{"unknown command", []string{"U%A"}, "X%JUMP", cheScanContainer, "UNKNOWN COMMAND"},
		{"yes out of context", []string{"U%A"}, "X%YES", cheScanContainer, "NOT EXPECTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, radio, _ := newTestCHE(t)
			scan(c, tt.setup...)
			scan(c, tt.scan)
			expectState(t, c, tt.state)
			if c.lastError != tt.wantErr {
				t.Errorf("lastError = %q, want %q", c.lastError, tt.wantErr)
			}
			if got := radio.lastDisplay(t).Lines[0]; got != tt.wantErr {
				t.Errorf("display line 0 = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestCHEClearAndSetup(t *testing.T) {
	c, _, up := newTestCHE(t)
	scan(c, "U%A", "C%1", "P%1", "C%2", "P%2", "X%CLEAR")
	expectState(t, c, cheScanContainer)
	if len(c.containers) != 0 {
		t.Fatalf("containers after clear = %v", c.containers)
	}

	scan(c, "C%1", "P%1", "X%START")
	respond(t, c, up.last(t), uplink.StatusSuccess, uplink.ComputeWorkResponse{Total: 1, Counts: map[string]int{"1": 1}})
	expectState(t, c, cheLocationReview)
	scan(c, "X%SETUP")
	expectState(t, c, cheScanContainer)
	if c.containers[1] != "1" {
		t.Errorf("setup dropped containers: %v", c.containers)
	}
}

func TestCHEUplinkFailures(t *testing.T) {
	t.Run("send rejected", func(t *testing.T) {
		c, _, up := newTestCHE(t)
		up.err = uplink.ErrNotConnected
		scan(c, "U%A", "C%1", "P%1", "X%START")
		expectState(t, c, cheScanContainer)
		if c.lastError != "SERVER ERROR" || c.awaiting != "" {
			t.Errorf("lastError=%q awaiting=%q", c.lastError, c.awaiting)
		}
	})

	t.Run("failed status", func(t *testing.T) {
		c, _, up := newTestCHE(t)
		scan(c, "U%A", "C%1", "P%1", "X%START")
		respond(t, c, up.last(t), uplink.StatusFail, nil)
		expectState(t, c, cheScanContainer)
		if c.lastError != "SERVER ERROR" {
			t.Errorf("lastError = %q", c.lastError)
		}
	})

	t.Run("radio errors are contained", func(t *testing.T) {
		c, radio, _ := newTestCHE(t)
		radio.err = errors.New("gateway gone")
		scan(c, "U%A")
		expectState(t, c, cheScanContainer)
	})
}

func TestCHEButtonOutsidePick(t *testing.T) {
	c, _, up := newTestCHE(t)
	scan(c, "U%A")
	press(c, 1, 1)
	expectState(t, c, cheScanContainer)
	if up.count() != 0 {
		t.Errorf("button outside pick sent %d messages", up.count())
	}
}
