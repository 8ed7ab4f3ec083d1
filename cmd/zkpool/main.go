// zkpool is a Stratum-compatible mining pool server for a ZK-proof
// blockchain: connection handling, share accounting and PPLNS payout
// bookkeeping. Puzzle verification and on-chain payout are external
// collaborators plugged in at startup.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aleo-pool/zkpool/internal/accounting"
	"github.com/aleo-pool/zkpool/internal/api"
	"github.com/aleo-pool/zkpool/internal/config"
	"github.com/aleo-pool/zkpool/internal/connection"
	"github.com/aleo-pool/zkpool/internal/hub"
	"github.com/aleo-pool/zkpool/internal/noncecache"
	"github.com/aleo-pool/zkpool/internal/notify"
	"github.com/aleo-pool/zkpool/internal/profiling"
	"github.com/aleo-pool/zkpool/internal/rpc"
	"github.com/aleo-pool/zkpool/internal/storage"
	"github.com/aleo-pool/zkpool/internal/stratum"
	"github.com/aleo-pool/zkpool/internal/util"
	"github.com/aleo-pool/zkpool/internal/verifier"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("zkpool v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	util.Infof("zkpool v%s starting", version)

	var payoutStore *storage.RedisPayoutStore
	if cfg.Redis.Addr != "" {
		payoutStore, err = storage.NewRedisPayoutStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			util.Fatalf("redis: %v", err)
		}
		defer payoutStore.Close()
	}

	// payoutStore is typed nil when Redis isn't configured; passed
	// through an explicit interface variable so Accounting sees a true
	// nil PayoutStore rather than a non-nil interface wrapping a nil
	// pointer.
	var store accounting.PayoutStore
	if payoutStore != nil {
		store = payoutStore
	}

	acct, err := accounting.New(cfg.Pool.StatePath(), store)
	if err != nil {
		util.Fatalf("accounting: %v", err)
	}
	if cfg.PPLNS.WindowN > 0 {
		acct.SetN(cfg.PPLNS.WindowN)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go acct.Run(ctx)

	h := hub.New()

	// Puzzle verification is outside this pool's scope (see
	// internal/verifier); a deployment plugs in a real
	// verifier.SolutionVerifier before this binary can credit shares.
	// The placeholder below rejects every submit so the server is safe
	// to boot without one wired in.
	var solutionVerifier verifier.SolutionVerifier = placeholderVerifier{}

	stratumListener, err := net.Listen("tcp", cfg.Stratum.Bind)
	if err != nil {
		util.Fatalf("stratum: listen %s: %v", cfg.Stratum.Bind, err)
	}
	util.Infof("stratum: listening on %s", cfg.Stratum.Bind)

	nonces := noncecache.New(cfg.NonceCache.Capacity)

	go acceptLoop(ctx, stratumListener, cfg, h, solutionVerifier, acct, nonces)

	// Epoch challenges come from the chain node; generating them is
	// puzzle-cryptography territory this pool doesn't implement (see
	// internal/verifier). The placeholder below advances the epoch on a
	// timer and fans a synthetic job out through the Hub so the
	// mining.notify broadcast path and stale-epoch rejection are
	// actually exercised end to end; a deployment replaces it with
	// whatever polls the node for new epochs.
	go placeholderJobSource(ctx, h, cfg.Pool.Address, cfg.Stratum.EpochInterval)

	apiServer := api.NewServer(&cfg.API, acct, h)
	if err := apiServer.Start(); err != nil {
		util.Errorf("api: failed to start: %v", err)
	}

	var profilingServer *profiling.Server
	if cfg.Profiling.Enabled {
		profilingServer = profiling.NewServer(&cfg.Profiling)
		if err := profilingServer.Start(); err != nil {
			util.Errorf("profiling: failed to start: %v", err)
		}
	}

	if payoutStore != nil {
		oracleClient, err := rpc.NewOracleClient(cfg.Oracle.URLs, cfg.Oracle.Timeout)
		if err != nil {
			util.Fatalf("oracle: %v", err)
		}

		var confirmNotifier accounting.ConfirmNotifier
		if cfg.Webhook.Enabled {
			confirmNotifier = notify.NewNotifier(&cfg.Webhook)
		}

		go accounting.RunPayoutLoop(ctx, payoutStore, oracleClient, confirmNotifier)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("zkpool started successfully. Press Ctrl+C to stop.")
	<-sigChan
	util.Info("shutting down...")

	stratumListener.Close()
	if profilingServer != nil {
		profilingServer.Stop()
	}
	apiServer.Stop()
	acct.Exit()
	cancel()

	util.Info("zkpool stopped")
}

// acceptLoop accepts prover connections until ctx is canceled, spawning a
// Conn.Serve goroutine per connection.
func acceptLoop(ctx context.Context, ln net.Listener, cfg *config.Config, h *hub.Hub, v verifier.SolutionVerifier, acct *accounting.Accounting, nonces *noncecache.Set) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				util.Errorf("stratum: accept: %v", err)
				continue
			}
		}

		c := &connection.Conn{
			PoolAddress:    util.AccountAddress(cfg.Pool.Address),
			Hub:            h,
			Verifier:       v,
			Nonces:         nonces,
			Accounting:     acct,
			SolutionTarget: cfg.Stratum.SolutionTarget,
			ProtocolName:   cfg.Protocol.Name,
			MinVersion:     cfg.Protocol.MinVersion,
			MaxVersion:     cfg.Protocol.MaxVersion,
		}

		go func() {
			if err := c.Serve(ctx, conn); err != nil {
				util.Debugf("stratum: connection closed: %v", err)
			}
		}()
	}
}

// placeholderVerifier rejects every solution. It lets the server boot and
// exercise the full connection/hub/accounting path in development without
// a real puzzle verifier wired in; production deployments replace it.
type placeholderVerifier struct{}

func (placeholderVerifier) Verify(ctx context.Context, sol verifier.Solution) (uint64, error) {
	return 0, &verifier.ErrInvalidSolution{Reason: "no verifier configured"}
}

// placeholderJobSource increments the epoch every interval and fans a
// freshly-challenged mining.notify out through h, standing in for the
// chain-backed job source a real deployment would drive this from.
func placeholderJobSource(ctx context.Context, h *hub.Hub, poolAddress string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var epoch uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			epoch++
			h.SetEpoch(epoch)

			jobID := make([]byte, 4)
			binary.LittleEndian.PutUint32(jobID, epoch)

			challenge := make([]byte, 32)
			if _, err := rand.Read(challenge); err != nil {
				util.Errorf("jobsource: generating epoch challenge: %v", err)
				continue
			}

			msg := stratum.NewRequest(nil, stratum.MethodNotify,
				hex.EncodeToString(jobID),
				hex.EncodeToString(challenge),
				poolAddress,
				true,
			)
			sent, dropped := h.NewJob(msg)
			util.Debugf("jobsource: epoch %d notified (sent=%d dropped=%d)", epoch, sent, dropped)
		}
	}
}
