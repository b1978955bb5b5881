package uplink

// Uplink wire format: JSON envelopes, one per WebSocket text frame.
//
//   {"type": "...", "messageId": "...", "requestId": "...", "status": "...", "statusMessage": "...", "body": {...}}

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MessageType tags the envelope body.
type MessageType string

const (
	TypeLoginRequest                    MessageType = "LoginRequest"
	TypeLoginResponse                   MessageType = "LoginResponse"
	TypeComputeWorkRequest              MessageType = "ComputeWorkRequest"
	TypeComputeWorkResponse             MessageType = "ComputeWorkResponse"
	TypeGetWorkRequest                  MessageType = "GetWorkRequest"
	TypeGetWorkResponse                 MessageType = "GetWorkResponse"
	TypeCompleteWorkInstructionRequest  MessageType = "CompleteWorkInstructionRequest"
	TypeCompleteWorkInstructionResponse MessageType = "CompleteWorkInstructionResponse"
	TypeLightLocationsRequest           MessageType = "LightLocationsRequest"
	TypeLightLocationsResponse          MessageType = "LightLocationsResponse"
	TypeNetworkUpdateMessage            MessageType = "NetworkUpdateMessage"
	TypeEchoRequest                     MessageType = "EchoRequest"
	TypeEchoResponse                    MessageType = "EchoResponse"
	TypeKeepAlive                       MessageType = "KeepAlive"
)

// IsRequest reports whether the type expects a response.
func (t MessageType) IsRequest() bool { return strings.HasSuffix(string(t), "Request") }

// IsResponse reports whether the type answers a request.
func (t MessageType) IsResponse() bool { return strings.HasSuffix(string(t), "Response") }

// ResponseType returns the response type paired with a request type.
func (t MessageType) ResponseType() MessageType {
	if !t.IsRequest() {
		return ""
	}
	return MessageType(strings.TrimSuffix(string(t), "Request") + "Response")
}

// Status is the outcome carried by responses.
type Status string

const (
	StatusSuccess   Status = "Success"
	StatusFail      Status = "Fail"
	StatusUndefined Status = "Undefined"
)

// Message is the uplink envelope.
type Message struct {
	Type          MessageType     `json:"type"`
	MessageID     string          `json:"messageId"`
	RequestID     string          `json:"requestId,omitempty"`
	Status        Status          `json:"status,omitempty"`
	StatusMessage string          `json:"statusMessage,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
}

// NewMessage builds a message with a fresh id. body may be nil.
func NewMessage(t MessageType, body any) (*Message, error) {
	m := &Message{Type: t, MessageID: uuid.NewString()}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", t, err)
		}
		m.Body = raw
	}
	return m, nil
}

// NewResponse builds the response to req.
func NewResponse(req *Message, status Status, body any) (*Message, error) {
	m, err := NewMessage(req.Type.ResponseType(), body)
	if err != nil {
		return nil, err
	}
	m.RequestID = req.MessageID
	m.Status = status
	return m, nil
}

// IsKeepAlive reports whether m is a keepalive.
func (m *Message) IsKeepAlive() bool { return m.Type == TypeKeepAlive }

// IsResponse reports whether m answers an earlier request.
func (m *Message) IsResponse() bool { return m.RequestID != "" && m.Type.IsResponse() }

// IsRequest reports whether m expects a response.
func (m *Message) IsRequest() bool { return m.Type.IsRequest() }

// Succeeded reports a Success status.
func (m *Message) Succeeded() bool { return m.Status == StatusSuccess }

// DecodeBody unmarshals the body into v.
func (m *Message) DecodeBody(v any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("%s %s: empty body", m.Type, m.MessageID)
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("%s %s: decode body: %w", m.Type, m.MessageID, err)
	}
	return nil
}

// Encode serializes m.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and checks an envelope.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	if m.MessageID == "" {
		return nil, fmt.Errorf("decode %s: missing messageId", m.Type)
	}
	return &m, nil
}

// Work instruction status values.
const (
	WorkStatusNew      = "NEW"
	WorkStatusComplete = "COMPLETE"
	WorkStatusShort    = "SHORT"
)

// WorkInstruction is one pick assigned by the server.
type WorkInstruction struct {
	ID          string `json:"id"`
	ContainerID string `json:"containerId"`
	Location    string `json:"location"`
	ItemID      string `json:"itemId"`
	Description string `json:"description,omitempty"`
	PlanQty     int    `json:"planQty"`
	ActualQty   int    `json:"actualQty"`
	Status      string `json:"status"`
	PickerID    string `json:"pickerId,omitempty"`
}

// DeviceSpec describes one device in the site network layout.
type DeviceSpec struct {
	ID        string `json:"id"`
	GUID      string `json:"guid"`
	Kind      string `json:"kind"`
	Positions int    `json:"positions,omitempty"`
}

// NetworkLayout is the device set of the site radio network.
type NetworkLayout struct {
	NetworkID int          `json:"networkId"`
	Channel   *int         `json:"channel,omitempty"`
	Devices   []DeviceSpec `json:"devices"`
}

// LoginRequest authenticates the site controller.
type LoginRequest struct {
	Organization string `json:"organization"`
	Site         string `json:"site"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Version      string `json:"version"`
}

// LoginResponse returns the network layout on success.
type LoginResponse struct {
	Network *NetworkLayout `json:"network,omitempty"`
}

// ComputeWorkRequest asks how much work the containers on a cart have.
type ComputeWorkRequest struct {
	DeviceGUID string            `json:"deviceGuid"`
	UserID     string            `json:"userId"`
	Containers map[string]string `json:"containers"` // position -> container id
}

// ComputeWorkResponse carries per-container instruction counts.
type ComputeWorkResponse struct {
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"` // container id -> instruction count
}

// GetWorkRequest fetches the instruction list, optionally from a start location.
type GetWorkRequest struct {
	DeviceGUID    string            `json:"deviceGuid"`
	UserID        string            `json:"userId"`
	Containers    map[string]string `json:"containers"`
	StartLocation string            `json:"startLocation,omitempty"`
}

// GetWorkResponse lists the instructions in pick order.
type GetWorkResponse struct {
	Instructions []WorkInstruction `json:"instructions"`
}

// CompleteWorkInstructionRequest reports a finished or short instruction.
type CompleteWorkInstructionRequest struct {
	DeviceGUID  string          `json:"deviceGuid"`
	Instruction WorkInstruction `json:"instruction"`
}

// LocationLight is one LED span on an aisle controller.
type LocationLight struct {
	Location string `json:"location"`
	Channel  int    `json:"channel"`
	FirstLED int    `json:"firstLed"`
	Count    int    `json:"count"`
	Color    string `json:"color"`
}

// LightLocationsRequest asks an aisle controller to light spans. An empty
// list clears the aisle.
type LightLocationsRequest struct {
	DeviceGUID string          `json:"deviceGuid"`
	Lights     []LocationLight `json:"lights"`
}

// NetworkUpdateMessage adds devices to or removes them from the network.
type NetworkUpdateMessage struct {
	Added   []DeviceSpec `json:"added,omitempty"`
	Removed []string     `json:"removed,omitempty"` // guids
}

// EchoRequest is a server round-trip probe.
type EchoRequest struct {
	Payload string `json:"payload"`
}

// EchoResponse returns the probe payload.
type EchoResponse struct {
	Payload string `json:"payload"`
}
