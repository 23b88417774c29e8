package network

import (
	"math/rand"
	"net"
	"sync"
	"time"

	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// addr is a trivial net.Addr for simulated endpoints, identified by name
// rather than an IP:port pair.
type addr string

func (a addr) Network() string { return "sim" }
func (a addr) String() string  { return string(a) }

// FaultProfile configures the failure modes a Simulated network injects
// on every Send. Each probability is independent and evaluated in order:
// loss, then duplication, then reordering via delay jitter.
type FaultProfile struct {
	// LossProbability is the chance a datagram is silently dropped.
	LossProbability float64

	// DuplicateProbability is the chance a datagram is delivered twice.
	DuplicateProbability float64

	// MinDelay and MaxDelay bound a random delivery delay, which is what
	// produces reordering between packets sent close together.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// NoFaults is a FaultProfile with every fault disabled: reliable,
// immediate, in-order delivery.
var NoFaults = FaultProfile{}

type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []datagram
	closed bool
}

type datagram struct {
	from net.Addr
	data []byte
}

func newInbox() *inbox {
	b := &inbox{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *inbox) push(d datagram) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, d)
	b.cond.Signal()
}

func (b *inbox) pop() (datagram, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.closed && len(b.queue) == 0 {
		return datagram{}, qerrors.ErrIoFailure
	}
	d := b.queue[0]
	b.queue = b.queue[1:]
	return d, nil
}

func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Fabric is a shared in-memory medium that a set of Simulated networks
// register on, keyed by the address each was created with.
type Fabric struct {
	profile FaultProfile
	rng     *rand.Rand
	rngMu   sync.Mutex

	mu    sync.Mutex
	peers map[string]*inbox
}

// NewFabric creates a fabric applying profile to every datagram sent
// across it. seed makes delay/loss/duplication decisions reproducible.
func NewFabric(profile FaultProfile, seed int64) *Fabric {
	return &Fabric{
		profile: profile,
		rng:     rand.New(rand.NewSource(seed)),
		peers:   make(map[string]*inbox),
	}
}

// NewEndpoint creates a Simulated network bound to name on this fabric.
func (f *Fabric) NewEndpoint(name string) *Simulated {
	box := newInbox()
	f.mu.Lock()
	f.peers[name] = box
	f.mu.Unlock()

	return &Simulated{
		fabric: f,
		self:   addr(name),
		inbox:  box,
	}
}

func (f *Fabric) deliver(to string, from net.Addr, data []byte) {
	f.mu.Lock()
	box, ok := f.peers[to]
	f.mu.Unlock()
	if !ok {
		return
	}
	box.push(datagram{from: from, data: data})
}

func (f *Fabric) roll() float64 {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return f.rng.Float64()
}

func (f *Fabric) delay() time.Duration {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	if f.profile.MaxDelay <= f.profile.MinDelay {
		return f.profile.MinDelay
	}
	span := f.profile.MaxDelay - f.profile.MinDelay
	return f.profile.MinDelay + time.Duration(f.rng.Int63n(int64(span)))
}

// Simulated is a Network endpoint on a shared Fabric, subject to the
// fabric's FaultProfile on every send.
type Simulated struct {
	fabric *Fabric
	self   net.Addr
	inbox  *inbox
}

// Send schedules data for delivery to addr, subject to the fabric's loss,
// duplication, and delay profile.
func (s *Simulated) Send(to net.Addr, data []byte) error {
	payload := append([]byte(nil), data...)

	if s.fabric.roll() < s.fabric.profile.LossProbability {
		return nil
	}

	copies := 1
	if s.fabric.roll() < s.fabric.profile.DuplicateProbability {
		copies = 2
	}

	for i := 0; i < copies; i++ {
		d := s.fabric.delay()
		if d <= 0 {
			s.fabric.deliver(to.String(), s.self, payload)
			continue
		}
		time.AfterFunc(d, func() {
			s.fabric.deliver(to.String(), s.self, payload)
		})
	}
	return nil
}

// Receive blocks until the next datagram arrives for this endpoint.
func (s *Simulated) Receive() (net.Addr, []byte, error) {
	d, err := s.inbox.pop()
	if err != nil {
		return nil, nil, err
	}
	return d.from, d.data, nil
}

// LocalAddr returns this endpoint's simulated address.
func (s *Simulated) LocalAddr() net.Addr {
	return s.self
}

// Close unblocks any pending Receive with an error.
func (s *Simulated) Close() error {
	s.inbox.close()
	return nil
}
