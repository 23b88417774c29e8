// Package reliability implements the reliable-delivery lane for session
// traffic: sequence assignment, retransmission with exponential backoff,
// and out-of-order reassembly on the receive side. Unreliable messages
// never enter this package; they are delivered best-effort with seq 0.
package reliability

import (
	"sort"
	"sync"
	"time"

	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// baseRetransmitInterval is the delay before the first retransmit attempt.
const baseRetransmitInterval = 100 * time.Millisecond

// maxRetransmitInterval caps the exponential backoff between attempts.
const maxRetransmitInterval = 1600 * time.Millisecond

// PendingMessage is a reliable message awaiting acknowledgement.
type PendingMessage struct {
	Seq         uint32
	Payload     []byte
	FirstSentAt time.Time
	LastSentAt  time.Time
	Attempts    int
}

// backoffInterval returns the wait before the next retransmit attempt,
// doubling per prior attempt and capped at maxRetransmitInterval.
func backoffInterval(attempts int) time.Duration {
	interval := baseRetransmitInterval
	for i := 1; i < attempts; i++ {
		interval *= 2
		if interval >= maxRetransmitInterval {
			return maxRetransmitInterval
		}
	}
	return interval
}

// SendTracker assigns sequence numbers to reliable messages and tracks
// them until acknowledged or abandoned after too many retransmit attempts.
type SendTracker struct {
	mu           sync.Mutex
	nextSeq      uint32
	pending      map[uint32]*PendingMessage
	maxQueueSize int
	maxAttempts  int
}

// NewSendTracker creates a tracker bounded to maxQueueSize in-flight
// messages, each retried at most maxAttempts times.
func NewSendTracker(maxQueueSize, maxAttempts int) *SendTracker {
	return &SendTracker{
		nextSeq:      1,
		pending:      make(map[uint32]*PendingMessage),
		maxQueueSize: maxQueueSize,
		maxAttempts:  maxAttempts,
	}
}

// Track assigns the next sequence number to payload and records it as
// pending first transmission. Returns ErrQueueOverflow if the tracker is
// already holding maxQueueSize unacknowledged messages.
func (t *SendTracker) Track(payload []byte, now time.Time) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) >= t.maxQueueSize {
		return 0, qerrors.ErrQueueOverflow
	}

	seq := t.nextSeq
	t.nextSeq++

	t.pending[seq] = &PendingMessage{
		Seq:         seq,
		Payload:     append([]byte(nil), payload...),
		FirstSentAt: now,
		LastSentAt:  now,
		Attempts:    1,
	}
	return seq, nil
}

// Ack removes every pending message covered by a cumulative-plus-selective
// acknowledgement: everything up to and including upTo, plus any entries
// named individually in selective.
func (t *SendTracker) Ack(upTo uint32, selective []uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for seq := range t.pending {
		if seq <= upTo {
			delete(t.pending, seq)
		}
	}
	for _, seq := range selective {
		delete(t.pending, seq)
	}
}

// DueForRetransmit returns pending messages whose backoff interval has
// elapsed, and separately the messages that have exhausted maxAttempts
// and should be treated as a delivery failure by the caller. Messages
// returned in retransmit have NOT yet had their attempt counters bumped;
// call MarkSent after the caller actually resends them.
func (t *SendTracker) DueForRetransmit(now time.Time) (retransmit, expired []*PendingMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range t.pending {
		if msg.Attempts >= t.maxAttempts {
			expired = append(expired, msg)
			continue
		}
		if now.Sub(msg.LastSentAt) >= backoffInterval(msg.Attempts) {
			retransmit = append(retransmit, msg)
		}
	}

	sort.Slice(retransmit, func(i, j int) bool { return retransmit[i].Seq < retransmit[j].Seq })
	sort.Slice(expired, func(i, j int) bool { return expired[i].Seq < expired[j].Seq })
	return retransmit, expired
}

// MarkSent records that a pending message was just retransmitted.
func (t *SendTracker) MarkSent(seq uint32, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg, ok := t.pending[seq]; ok {
		msg.LastSentAt = now
		msg.Attempts++
	}
}

// Drop removes a pending message unconditionally, used when the caller
// gives up on it (e.g. it was reported expired).
func (t *SendTracker) Drop(seq uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, seq)
}

// PendingCount returns the number of unacknowledged messages.
func (t *SendTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
