package reliability

import (
	"sort"
	"sync"

	"github.com/corvidnet/reliant/internal/constants"
	"github.com/corvidnet/reliant/pkg/wire"
)

// ReorderBuffer reassembles the in-order stream of reliable messages from
// a peer, buffering anything that arrives ahead of the next expected
// sequence number and tracking duplicates for idempotent delivery.
type ReorderBuffer struct {
	mu            sync.Mutex
	lastDelivered uint32
	buffered      map[uint32][]byte
}

// NewReorderBuffer creates an empty reorder buffer. The sequence space
// starts at 1, so lastDelivered of 0 means nothing has been delivered yet.
func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{
		buffered: make(map[uint32][]byte),
	}
}

// Receive records an incoming reliable message and returns the run of
// payloads now ready for in-order delivery, in sequence order. A message
// at or below the already-delivered watermark is reported as a duplicate
// and otherwise ignored.
func (r *ReorderBuffer) Receive(seq uint32, payload []byte) (deliverable [][]byte, duplicate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq <= r.lastDelivered {
		return nil, true
	}
	if _, exists := r.buffered[seq]; exists {
		return nil, true
	}

	r.buffered[seq] = append([]byte(nil), payload...)

	for {
		next := r.lastDelivered + 1
		msg, ok := r.buffered[next]
		if !ok {
			break
		}
		deliverable = append(deliverable, msg)
		delete(r.buffered, next)
		r.lastDelivered = next
	}
	return deliverable, false
}

// BuildAck constructs the acknowledgement for the current reassembly
// state: a cumulative watermark plus up to MaxSelectiveAckEntries isolated
// out-of-order sequence numbers, lowest first.
func (r *ReorderBuffer) BuildAck() wire.Ack {
	r.mu.Lock()
	defer r.mu.Unlock()

	selective := make([]uint32, 0, len(r.buffered))
	for seq := range r.buffered {
		selective = append(selective, seq)
	}
	sort.Slice(selective, func(i, j int) bool { return selective[i] < selective[j] })

	if len(selective) > constants.MaxSelectiveAckEntries {
		selective = selective[:constants.MaxSelectiveAckEntries]
	}

	return wire.Ack{UpTo: r.lastDelivered, Selective: selective}
}

// LastDelivered returns the highest sequence number delivered in order.
func (r *ReorderBuffer) LastDelivered() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastDelivered
}

// BufferedCount returns the number of out-of-order messages currently held.
func (r *ReorderBuffer) BufferedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffered)
}
