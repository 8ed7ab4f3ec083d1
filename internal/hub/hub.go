// Package hub implements the server-side registry of connected provers
// and the non-blocking job fan-out to them. It generalizes the fused
// session-table-plus-broadcast design of a Stratum server into a
// standalone component Connection and Accounting both depend on without
// depending on socket I/O themselves.
package hub

import (
	"sync"
	"time"

	"github.com/aleo-pool/zkpool/internal/speedometer"
	"github.com/aleo-pool/zkpool/internal/stratum"
	"github.com/aleo-pool/zkpool/internal/util"
)

// outboundBuffer bounds each prover's outbound job queue. A slow or
// stalled connection that can't keep up has its job notifications
// dropped rather than blocking the broadcaster.
const outboundBuffer = 8

const speedWindow = 5 * time.Minute

// Registration is a connected prover's entry in the hub's registry.
type Registration struct {
	Peer         string
	Address      util.AccountAddress
	Outbound     chan *stratum.Message
	Version      string
	UserAgent    string
	connectedAt  time.Time
	lastReceived atomic64

	speed *speedometer.Speedometer
}

// Hub owns the set of connected provers and fans job notifications out
// to them. All methods are safe for concurrent use.
type Hub struct {
	mu        sync.RWMutex
	provers   map[string]*Registration
	byAddress map[util.AccountAddress]map[string]*Registration

	poolSpeed *speedometer.Speedometer

	epochMu  sync.RWMutex
	epoch    uint32
	epochSet bool

	jobMu      sync.RWMutex
	currentJob *stratum.Message
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{
		provers:   make(map[string]*Registration),
		byAddress: make(map[util.AccountAddress]map[string]*Registration),
		poolSpeed: speedometer.New(speedWindow),
	}
}

// ProverAuthenticated registers a newly authorized connection under peer,
// returning the Registration the connection should keep for sending it
// job notifications and recording submits.
func (h *Hub) ProverAuthenticated(peer string, address util.AccountAddress, version, userAgent string) *Registration {
	reg := &Registration{
		Peer:        peer,
		Address:     address,
		Outbound:    make(chan *stratum.Message, outboundBuffer),
		Version:     version,
		UserAgent:   userAgent,
		connectedAt: time.Now(),
		speed:       speedometer.New(speedWindow),
	}
	reg.lastReceived.store(time.Now())

	h.mu.Lock()
	h.provers[peer] = reg
	if h.byAddress[address] == nil {
		h.byAddress[address] = make(map[string]*Registration)
	}
	h.byAddress[address][peer] = reg
	h.mu.Unlock()

	// Welcome the new prover with whatever job is currently in flight,
	// so it doesn't sit idle until the next broadcast.
	h.jobMu.RLock()
	job := h.currentJob
	h.jobMu.RUnlock()
	if job != nil {
		select {
		case reg.Outbound <- job:
		default:
		}
	}

	return reg
}

// ProverDisconnected removes peer from the registry. It is safe to call
// more than once for the same peer; later calls are no-ops.
func (h *Hub) ProverDisconnected(peer string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	reg, ok := h.provers[peer]
	if !ok {
		return
	}
	delete(h.provers, peer)
	if addrSet, ok := h.byAddress[reg.Address]; ok {
		delete(addrSet, peer)
		if len(addrSet) == 0 {
			delete(h.byAddress, reg.Address)
		}
	}
}

// ProverSubmit records a share's weight against both the pool-wide and
// the prover's own speedometer, and refreshes its last-activity stamp.
func (h *Hub) ProverSubmit(peer string, value uint64) {
	h.mu.RLock()
	reg, ok := h.provers[peer]
	h.mu.RUnlock()
	if !ok {
		return
	}
	reg.lastReceived.store(time.Now())
	reg.speed.Event(value)
	h.poolSpeed.Event(value)
}

// SetEpoch records the epoch number of the job currently being handed
// out. Submits naming any other epoch are considered stale. Called by
// whatever issues mining.notify alongside NewJob.
func (h *Hub) SetEpoch(epoch uint32) {
	h.epochMu.Lock()
	h.epoch = epoch
	h.epochSet = true
	h.epochMu.Unlock()
}

// CurrentEpoch returns the epoch last recorded via SetEpoch, and whether
// any epoch has been set yet. Before the first job is announced, ok is
// false and submits against any epoch are accepted.
func (h *Hub) CurrentEpoch() (epoch uint32, ok bool) {
	h.epochMu.RLock()
	defer h.epochMu.RUnlock()
	return h.epoch, h.epochSet
}

// NewJob fans msg out to every registered prover's outbound channel
// without blocking. A prover whose channel is full is skipped for this
// job; it will pick up the next one instead of stalling the broadcast.
func (h *Hub) NewJob(msg *stratum.Message) (sent, dropped int) {
	h.jobMu.Lock()
	h.currentJob = msg
	h.jobMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, reg := range h.provers {
		select {
		case reg.Outbound <- msg:
			sent++
		default:
			dropped++
		}
	}
	return sent, dropped
}

// OnlineAddresses returns the number of distinct authorized addresses
// currently connected.
func (h *Hub) OnlineAddresses() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byAddress)
}

// OnlineProvers returns the number of currently connected prover sockets.
func (h *Hub) OnlineProvers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.provers)
}

// PoolSpeed returns the pool-wide rolling share-value rate.
func (h *Hub) PoolSpeed() float64 {
	return h.poolSpeed.Speed()
}

// AddressSpeed returns the rolling share-value rate across all of an
// address's connected provers, and how many provers it has online.
func (h *Hub) AddressSpeed(addr util.AccountAddress) (speed float64, proverCount int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	regs, ok := h.byAddress[addr]
	if !ok {
		return 0, 0
	}
	for _, reg := range regs {
		speed += reg.speed.Speed()
	}
	return speed, len(regs)
}

// LastReceived returns the timestamp a registration last had activity
// recorded against it.
func (r *Registration) LastReceived() time.Time {
	return r.lastReceived.load()
}

// Touch refreshes a registration's last-activity stamp without
// recording a share. Connection calls it for every inbound frame.
func (r *Registration) Touch() {
	r.lastReceived.store(time.Now())
}
