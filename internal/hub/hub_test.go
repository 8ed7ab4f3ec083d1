package hub

import (
	"testing"

	"github.com/aleo-pool/zkpool/internal/stratum"
	"github.com/aleo-pool/zkpool/internal/util"
)

func TestProverAuthenticatedAndDisconnected(t *testing.T) {
	h := New()

	reg := h.ProverAuthenticated("1.2.3.4:1000", util.AccountAddress("addr-a"), "2.0.0", "miner/1")
	if h.OnlineProvers() != 1 || h.OnlineAddresses() != 1 {
		t.Fatalf("online provers=%d addresses=%d, want 1/1", h.OnlineProvers(), h.OnlineAddresses())
	}

	h.ProverDisconnected("1.2.3.4:1000")
	if h.OnlineProvers() != 0 || h.OnlineAddresses() != 0 {
		t.Fatalf("after disconnect: provers=%d addresses=%d, want 0/0", h.OnlineProvers(), h.OnlineAddresses())
	}

	// Disconnecting again is a no-op, not a panic.
	h.ProverDisconnected("1.2.3.4:1000")
	_ = reg
}

func TestMultipleProversSameAddress(t *testing.T) {
	h := New()
	addr := util.AccountAddress("addr-a")

	h.ProverAuthenticated("peer1", addr, "2.0.0", "a")
	h.ProverAuthenticated("peer2", addr, "2.0.0", "b")

	if h.OnlineProvers() != 2 {
		t.Fatalf("OnlineProvers() = %d, want 2", h.OnlineProvers())
	}
	if h.OnlineAddresses() != 1 {
		t.Fatalf("OnlineAddresses() = %d, want 1", h.OnlineAddresses())
	}

	h.ProverDisconnected("peer1")
	if h.OnlineAddresses() != 1 {
		t.Fatalf("OnlineAddresses() after one disconnect = %d, want 1", h.OnlineAddresses())
	}
}

func TestNewJobFanOutAndDrop(t *testing.T) {
	h := New()
	h.ProverAuthenticated("peer1", util.AccountAddress("addr-a"), "2.0.0", "a")

	msg := stratum.NewRequest(nil, stratum.MethodNotify)

	// Fill the prover's outbound buffer beyond capacity.
	sent := 0
	dropped := 0
	for i := 0; i < outboundBuffer+2; i++ {
		s, d := h.NewJob(msg)
		sent += s
		dropped += d
	}

	if dropped == 0 {
		t.Fatal("expected some jobs to be dropped once the outbound buffer filled")
	}
	if sent == 0 {
		t.Fatal("expected at least some jobs to be sent before the buffer filled")
	}
}

func TestProverSubmitUpdatesSpeed(t *testing.T) {
	h := New()
	h.ProverAuthenticated("peer1", util.AccountAddress("addr-a"), "2.0.0", "a")

	h.ProverSubmit("peer1", 100)

	speed, count := h.AddressSpeed(util.AccountAddress("addr-a"))
	if count != 1 {
		t.Fatalf("prover count = %d, want 1", count)
	}
	if speed <= 0 {
		t.Fatalf("AddressSpeed() = %v, want > 0", speed)
	}
	if h.PoolSpeed() <= 0 {
		t.Fatalf("PoolSpeed() = %v, want > 0", h.PoolSpeed())
	}
}

func TestAddressSpeedUnknownAddress(t *testing.T) {
	h := New()
	speed, count := h.AddressSpeed(util.AccountAddress("nobody"))
	if speed != 0 || count != 0 {
		t.Fatalf("AddressSpeed() for unknown address = (%v, %v), want (0, 0)", speed, count)
	}
}

func TestCurrentEpochBeforeSetEpoch(t *testing.T) {
	h := New()
	if _, ok := h.CurrentEpoch(); ok {
		t.Fatal("CurrentEpoch() ok = true before any SetEpoch call, want false")
	}
}

func TestSetEpochThenCurrentEpoch(t *testing.T) {
	h := New()
	h.SetEpoch(7)

	epoch, ok := h.CurrentEpoch()
	if !ok {
		t.Fatal("CurrentEpoch() ok = false after SetEpoch, want true")
	}
	if epoch != 7 {
		t.Fatalf("CurrentEpoch() epoch = %d, want 7", epoch)
	}

	h.SetEpoch(8)
	epoch, ok = h.CurrentEpoch()
	if !ok || epoch != 8 {
		t.Fatalf("CurrentEpoch() after second SetEpoch = (%d, %v), want (8, true)", epoch, ok)
	}
}
