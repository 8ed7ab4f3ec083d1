// Package connection implements the per-connection prover state machine:
// handshake, authorize, then an active loop that validates submits and
// forwards everything else (job notifications, disconnects) between the
// socket and the rest of the pool.
package connection

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aleo-pool/zkpool/internal/hub"
	"github.com/aleo-pool/zkpool/internal/noncecache"
	"github.com/aleo-pool/zkpool/internal/stratum"
	"github.com/aleo-pool/zkpool/internal/util"
	"github.com/aleo-pool/zkpool/internal/verifier"
)

// Timeouts match the pool's long-standing protocol tolerances: a prover
// gets 10s to subscribe, 10s more to authorize, and must then produce at
// least some traffic every 180s or it's considered dead.
const (
	HandshakeTimeout = 10 * time.Second
	AuthorizeTimeout = 10 * time.Second
	InactivityTimeout = 180 * time.Second

	protocolName = "AleoStratum"
)

var (
	minSupportedVersion = semver{2, 0, 0}
	maxSupportedVersion = semver{2, 0, 0}
)

// AccountingSink is the subset of Accounting's API a Connection needs:
// recording an accepted share's value against its owner, and recording a
// share that also clears the on-chain solution target.
type AccountingSink interface {
	NewShare(owner util.AccountAddress, value uint64)
	NewSolution(id string)
}

// Conn drives one prover socket through the handshake/authorize/active
// state machine described above. A Conn is used once and discarded.
type Conn struct {
	PoolAddress util.AccountAddress
	Hub         *hub.Hub
	Verifier    verifier.SolutionVerifier
	Nonces      *noncecache.Set
	Accounting  AccountingSink

	// SolutionTarget is the minimum share value that also counts as an
	// on-chain solution forwarded to NewSolution. Zero disables solution
	// detection entirely (every accepted submit is credited as a share
	// only).
	SolutionTarget uint64

	// ProtocolName, MinVersion and MaxVersion override the protocol name
	// and supported semver range a prover must present at subscribe.
	// Left empty, they fall back to this package's built-in defaults, so
	// a zero-value Conn behaves exactly as before config-driven protocol
	// selection was added.
	ProtocolName string
	MinVersion   string
	MaxVersion   string
}

func (c *Conn) protocolName() string {
	if c.ProtocolName != "" {
		return c.ProtocolName
	}
	return protocolName
}

func (c *Conn) versionRange() (min, max semver, err error) {
	min, max = minSupportedVersion, maxSupportedVersion
	if c.MinVersion != "" {
		if min, err = parseSemver(c.MinVersion); err != nil {
			return semver{}, semver{}, fmt.Errorf("connection: invalid configured min_version %q: %w", c.MinVersion, err)
		}
	}
	if c.MaxVersion != "" {
		if max, err = parseSemver(c.MaxVersion); err != nil {
			return semver{}, semver{}, fmt.Errorf("connection: invalid configured max_version %q: %w", c.MaxVersion, err)
		}
	}
	return min, max, nil
}

// Serve runs the full connection lifecycle over conn until it closes or
// a protocol violation occurs. It always returns after unregistering the
// connection from the Hub, even on error.
func (c *Conn) Serve(ctx context.Context, conn net.Conn) error {
	peer := conn.RemoteAddr().String()
	dec := stratum.NewDecoder(conn)
	enc := stratum.NewEncoder(conn)

	userAgent, version, err := c.handshake(conn, dec, enc, peer)
	if err != nil {
		return err
	}

	address, err := c.authorize(conn, dec, enc, peer)
	if err != nil {
		return err
	}

	reg := c.Hub.ProverAuthenticated(peer, address, version.String(), userAgent)
	defer c.Hub.ProverDisconnected(peer)

	return c.activeLoop(ctx, conn, dec, enc, peer, reg)
}

func (c *Conn) handshake(conn net.Conn, dec *stratum.Decoder, enc *stratum.Encoder, peer string) (userAgent string, version semver, err error) {
	conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	msg, err := dec.Decode()
	if err != nil {
		return "", semver{}, fmt.Errorf("connection: handshake read from %s: %w", peer, err)
	}
	if msg.Method != stratum.MethodSubscribe {
		return "", semver{}, fmt.Errorf("connection: %s sent %q before handshake", peer, msg.Method)
	}

	userAgent, _ = msg.Params[0].(string)
	protocolVersion, _ := msg.Params[1].(string)

	name, versionStr, ok := splitProtocolVersion(protocolVersion)
	if !ok {
		return "", semver{}, fmt.Errorf("connection: %s sent malformed protocol version %q", peer, protocolVersion)
	}
	if name != c.protocolName() {
		return "", semver{}, fmt.Errorf("connection: %s sent unknown protocol %q", peer, name)
	}
	v, err := parseSemver(versionStr)
	if err != nil {
		return "", semver{}, fmt.Errorf("connection: %s: %w", peer, err)
	}
	minVersion, maxVersion, err := c.versionRange()
	if err != nil {
		return "", semver{}, err
	}
	if v.compare(minVersion) < 0 || v.compare(maxVersion) > 0 {
		return "", semver{}, fmt.Errorf("connection: %s sent unsupported version %s", peer, v)
	}

	resp := stratum.NewResponse(msg.ID, stratum.ArrayResult(
		stratum.NullValue(),
		stratum.NullValue(),
		stratum.StrValue(c.PoolAddress.String()),
	))
	if err := enc.Encode(resp); err != nil {
		return "", semver{}, fmt.Errorf("connection: %s: writing handshake response: %w", peer, err)
	}

	return userAgent, v, nil
}

func (c *Conn) authorize(conn net.Conn, dec *stratum.Decoder, enc *stratum.Encoder, peer string) (util.AccountAddress, error) {
	conn.SetReadDeadline(time.Now().Add(AuthorizeTimeout))
	msg, err := dec.Decode()
	if err != nil {
		return "", fmt.Errorf("connection: authorize read from %s: %w", peer, err)
	}
	if msg.Method != stratum.MethodAuthorize {
		return "", fmt.Errorf("connection: %s sent %q before authorizing", peer, msg.Method)
	}

	addrStr, _ := msg.Params[0].(string)
	addr, ok := util.ParseAccountAddress(addrStr)
	if !ok {
		return "", fmt.Errorf("connection: %s sent invalid address %q", peer, addrStr)
	}

	resp := stratum.NewResponse(msg.ID, stratum.BoolResult(true))
	if err := enc.Encode(resp); err != nil {
		return "", fmt.Errorf("connection: %s: writing authorize response: %w", peer, err)
	}

	return addr, nil
}

func (c *Conn) activeLoop(ctx context.Context, conn net.Conn, dec *stratum.Decoder, enc *stratum.Encoder, peer string, reg *hub.Registration) error {
	type readResult struct {
		msg *stratum.Message
		err error
	}
	inbound := make(chan readResult, 1)

	readNext := func() {
		conn.SetReadDeadline(time.Now().Add(InactivityTimeout))
		msg, err := dec.Decode()
		inbound <- readResult{msg: msg, err: err}
	}
	go readNext()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out := <-reg.Outbound:
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("connection: %s: writing to peer: %w", peer, err)
			}

		case res := <-inbound:
			if res.err != nil {
				var netErr net.Error
				if errors.As(res.err, &netErr) && netErr.Timeout() {
					return fmt.Errorf("connection: %s: inactivity timeout", peer)
				}
				return fmt.Errorf("connection: %s: read: %w", peer, res.err)
			}

			reg.Touch()
			reply, err := c.handleMessage(ctx, res.msg, peer, reg)
			if err != nil {
				return err
			}
			if reply != nil {
				if err := enc.Encode(reply); err != nil {
					return fmt.Errorf("connection: %s: writing submit response: %w", peer, err)
				}
			}
			go readNext()
		}
	}
}

// handleMessage processes one inbound frame. Its error return is
// reserved for abuse/protocol violations that must close the
// connection (§7 "Content" and "Protocol" error kinds), including a
// commitment/proof the verifier can't even parse; a stale or duplicate
// submit, or one that parses fine but fails puzzle verification, is
// reported back to the peer as Response(id, false) without touching
// err, so the connection stays open per §4.F/§7 ("Stale/Duplicate
// submit").
func (c *Conn) handleMessage(ctx context.Context, msg *stratum.Message, peer string, reg *hub.Registration) (*stratum.Message, error) {
	if msg.Method != stratum.MethodSubmit {
		return nil, fmt.Errorf("connection: %s sent unexpected message %q", peer, msg.Method)
	}

	sol, err := decodeSubmit(msg)
	if err != nil {
		return nil, fmt.Errorf("connection: %s: %w", peer, err)
	}

	reject := stratum.NewResponse(msg.ID, stratum.BoolResult(false))

	if epoch, ok := c.Hub.CurrentEpoch(); ok && sol.JobID != epoch {
		return reject, nil
	}

	dedupKey := fmt.Sprintf("%d:%x", sol.JobID, sol.Nonce)
	if !c.Nonces.Insert(dedupKey) {
		return reject, nil
	}

	value, err := c.Verifier.Verify(ctx, sol)
	if err != nil {
		var malformed *verifier.ErrMalformedSolution
		if errors.As(err, &malformed) {
			// An undeserializable commitment/proof is abuse, not a miss:
			// §4.B/§7 require ejecting the connection rather than just
			// replying false.
			return nil, fmt.Errorf("connection: %s sent malformed commitment/proof: %w", peer, err)
		}
		var invalid *verifier.ErrInvalidSolution
		if errors.As(err, &invalid) {
			return reject, nil
		}
		// Verification itself failed (e.g. an unknown job): don't
		// penalize the prover as if it submitted garbage, but there is
		// nothing to credit either.
		return reject, nil
	}

	c.Hub.ProverSubmit(peer, value)
	c.Accounting.NewShare(reg.Address, value)
	if c.SolutionTarget > 0 && value >= c.SolutionTarget {
		c.Accounting.NewSolution(hex.EncodeToString(sol.Commitment))
	}

	return stratum.NewResponse(msg.ID, stratum.BoolResult(true)), nil
}

func decodeSubmit(msg *stratum.Message) (verifier.Solution, error) {
	if len(msg.Params) != 5 {
		return verifier.Solution{}, fmt.Errorf("submit wants 5 params, got %d", len(msg.Params))
	}

	jobIDHex, _ := msg.Params[1].(string)
	nonceHex, _ := msg.Params[2].(string)
	commitmentHex, _ := msg.Params[3].(string)
	proofHex, _ := msg.Params[4].(string)

	jobBytes, err := hex.DecodeString(jobIDHex)
	if err != nil || len(jobBytes) != 4 {
		return verifier.Solution{}, fmt.Errorf("invalid job_id %q", jobIDHex)
	}
	nonceBytes, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonceBytes) != 8 {
		return verifier.Solution{}, fmt.Errorf("invalid nonce %q", nonceHex)
	}
	commitment, err := hex.DecodeString(commitmentHex)
	if err != nil {
		return verifier.Solution{}, fmt.Errorf("invalid commitment %q", commitmentHex)
	}
	proof, err := hex.DecodeString(proofHex)
	if err != nil {
		return verifier.Solution{}, fmt.Errorf("invalid proof %q", proofHex)
	}

	return verifier.Solution{
		JobID:      le32(jobBytes),
		Nonce:      le64(nonceBytes),
		Commitment: commitment,
		Proof:      proof,
	}, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func splitProtocolVersion(s string) (name, version string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
