package uplink

// Pending request table.
//
// Every request written to the server is registered here under its message
// id until the matching response arrives or the connection is torn down.
// At most one request per id may be in flight.

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDuplicateMessageID is returned when an id is already pending or queued.
var ErrDuplicateMessageID = errors.New("uplink: duplicate message id")

// PendingRequest is an in-flight request.
type PendingRequest struct {
	MessageID string
	Type      MessageType
	Origin    string // device guid or component that sent the request
	SentAt    time.Time

	reply chan *Message
}

// PendingStats contains correlation metrics.
type PendingStats struct {
	Outstanding    int
	TotalSent      int64
	TotalCompleted int64
	TotalDropped   int64
	AvgLatencyUs   float64
}

// PendingTable tracks outstanding requests by message id.
type PendingTable struct {
	mu      sync.Mutex
	pending map[string]*PendingRequest

	totalSent      int64
	totalCompleted int64
	totalDropped   int64
	totalLatencyUs int64
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{pending: make(map[string]*PendingRequest)}
}

// Register records a sent request. An id that is already pending is
// rejected and the original entry is kept.
func (pt *PendingTable) Register(req *PendingRequest) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, ok := pt.pending[req.MessageID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMessageID, req.MessageID)
	}
	if req.SentAt.IsZero() {
		req.SentAt = time.Now()
	}
	pt.pending[req.MessageID] = req
	pt.totalSent++
	return nil
}

// Contains reports whether id is pending.
func (pt *PendingTable) Contains(id string) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	_, ok := pt.pending[id]
	return ok
}

// Complete removes the request answered by requestID and returns it with the
// round-trip time.
func (pt *PendingTable) Complete(requestID string) (*PendingRequest, time.Duration, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	req, ok := pt.pending[requestID]
	if !ok {
		return nil, 0, fmt.Errorf("unknown request id: %s", requestID)
	}
	delete(pt.pending, requestID)

	rtt := time.Since(req.SentAt)
	pt.totalCompleted++
	pt.totalLatencyUs += rtt.Microseconds()
	return req, rtt, nil
}

// Stats returns a snapshot of correlation metrics.
func (pt *PendingTable) Stats() PendingStats {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var avgUs float64
	if pt.totalCompleted > 0 {
		avgUs = float64(pt.totalLatencyUs) / float64(pt.totalCompleted)
	}
	return PendingStats{
		Outstanding:    len(pt.pending),
		TotalSent:      pt.totalSent,
		TotalCompleted: pt.totalCompleted,
		TotalDropped:   pt.totalDropped,
		AvgLatencyUs:   avgUs,
	}
}

// DropAll forgets every pending request, as on session teardown, and
// returns what was dropped.
func (pt *PendingTable) DropAll() []*PendingRequest {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	dropped := make([]*PendingRequest, 0, len(pt.pending))
	for _, req := range pt.pending {
		dropped = append(dropped, req)
	}
	pt.totalDropped += int64(len(dropped))
	pt.pending = make(map[string]*PendingRequest)
	return dropped
}
