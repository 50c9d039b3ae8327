package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/api"
	"github.com/taskmesh-network/taskmesh/internal/app/channel"
	"github.com/taskmesh-network/taskmesh/internal/app/dispute"
	"github.com/taskmesh-network/taskmesh/internal/app/lifecycle"
	"github.com/taskmesh-network/taskmesh/internal/app/worker"
	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/health"
	"github.com/taskmesh-network/taskmesh/internal/infra/metrics"
	"github.com/taskmesh-network/taskmesh/internal/infra/proof"
	"github.com/taskmesh-network/taskmesh/internal/infra/registry"
	"github.com/taskmesh-network/taskmesh/internal/infra/reputation"
	"github.com/taskmesh-network/taskmesh/internal/infra/settlement"
	"github.com/taskmesh-network/taskmesh/internal/infra/sqlite"
	"github.com/taskmesh-network/taskmesh/internal/infra/transport"
	"github.com/taskmesh-network/taskmesh/internal/security"
)

// Daemon is the marketplace node runtime. It wires together all
// services.
type Daemon struct {
	Config  Config
	DB      *sqlite.DB
	Keypair *security.Keypair

	Ledger   *settlement.Ledger
	Workers  *reputation.Ledger
	Registry *registry.Registry
	Tasks    *lifecycle.Manager
	Channels *channel.Manager
	Disputes *dispute.Resolver
	Bus      *transport.Bus
	Server   *api.Server
	Health   *health.Checker
	Agent    *worker.Agent // nil unless worker mode is enabled

	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := sqlite.Open(taskmeshHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Crypto identity (Ed25519). The address doubles as the settlement
	// account and the channel signing identity.
	kp, err := security.LoadOrCreateKeypair(taskmeshHome())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	address := kp.Address()
	if cfg.Node.ID != "" {
		address = cfg.Node.ID
	}
	if err := db.SetNodeInfo("address", address); err != nil {
		log.Printf("[daemon] persist node address: %v", err)
	}

	ledger := settlement.NewLedger(db)

	workers := reputation.NewLedger(reputation.Config{
		MinStake:  cfg.Market.MinStake,
		BanPeriod: parseDuration(cfg.Market.BanPeriod, 7*24*time.Hour),
	})

	reg := registry.New(registry.Config{
		TTL: parseDuration(cfg.Market.RegistryTTL, 10*time.Minute),
	})

	channels := channel.NewManager(channel.Config{
		CosignTimeout: parseDuration(cfg.Channel.CosignTimeout, 10*time.Second),
	}, ledger)

	tasks := lifecycle.NewManager(lifecycle.Config{
		ClaimWindow: parseDuration(cfg.Market.ClaimWindow, 5*time.Minute),
		AuditRate:   cfg.Market.AuditRate,
	}, workers, ledger, proof.HashBackend{}, channel.BountyPayer{Channels: channels, Ledger: ledger})
	tasks.SetArchiver(db)

	disputes := dispute.NewResolver(dispute.Config{
		Verifiers:             cfg.Dispute.Verifiers,
		MinVerifierReputation: cfg.Dispute.MinVerifierRep,
		VoteTimeout:           parseDuration(cfg.Dispute.VoteTimeout, 2*time.Minute),
		VerifierFeePct:        cfg.Dispute.VerifierFeePct,
	}, tasks, workers, ledger, dispute.HashSelector{})
	tasks.SetDisputer(disputes)

	bus := transport.NewBus()
	bus.Endpoint(address)

	var agent *worker.Agent
	if cfg.Worker.Enabled {
		caps := make([]domain.Capability, 0, len(cfg.Worker.Capabilities))
		for _, c := range cfg.Worker.Capabilities {
			caps = append(caps, domain.Capability{
				Type:            domain.TaskType(c.Type),
				SpeedMultiplier: c.SpeedMultiplier,
				CostPerUnit:     c.CostPerUnit,
			})
		}
		stake := cfg.Worker.Stake
		if stake <= 0 {
			stake = cfg.Market.MinStake
		}
		// No sandbox attached yet; the simulated runner keeps worker
		// mode usable in local clusters.
		log.Printf("[daemon] worker mode with simulated runner — attach a sandbox for real workloads")
		agent = worker.New(worker.Config{
			MaxConcurrent: cfg.Worker.MaxConcurrent,
			PollInterval:  parseDuration(cfg.Worker.PollInterval, 5*time.Second),
			Stake:         stake,
		}, address, caps, tasks, reg, workers, ledger, worker.SimRunner{})
	}

	checker := health.NewChecker(db, taskmeshHome())

	srv := api.NewServer(tasks, channels, disputes, workers, reg, ledger)
	srv.SetArchive(db)
	srv.SetHealth(checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:   cfg,
		DB:       db,
		Keypair:  kp,
		Ledger:   ledger,
		Workers:  workers,
		Registry: reg,
		Tasks:    tasks,
		Channels: channels,
		Disputes: disputes,
		Bus:      bus,
		Server:   srv,
		Health:   checker,
		Agent:    agent,
	}, nil
}

// Serve starts the HTTP server and the background sweeps, blocking
// until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.sweepLoop(ctx)
	go d.Health.Run(ctx)
	if d.Agent != nil {
		go d.Agent.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("taskmesh node %s serving on http://%s\n", shortAddr(d.Keypair.Address()), addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// sweepLoop runs the periodic maintenance passes: expired claims
// revert to Posted, accepted tasks settle, timed-out disputes resolve,
// and stale registry announcements fall out of discovery.
func (d *Daemon) sweepLoop(ctx context.Context) {
	interval := parseDuration(d.Config.Market.SweepInterval, 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.Tasks.SweepExpiredClaims(); n > 0 {
				log.Printf("[daemon] reverted %d expired claims", n)
			}
			if n := d.Tasks.SweepAccepted(ctx); n > 0 {
				log.Printf("[daemon] settled %d accepted tasks", n)
			}
			if n := d.Disputes.SweepTimeouts(); n > 0 {
				log.Printf("[daemon] resolved %d timed-out disputes", n)
			}
			if n := d.Registry.Prune(); n > 0 {
				log.Printf("[daemon] pruned %d stale announcements", n)
			}
			metrics.RegistrySize.Set(float64(d.Registry.Size()))
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// shortAddr truncates a hex address for log lines.
func shortAddr(addr string) string {
	if len(addr) > 16 {
		return addr[:16]
	}
	return addr
}
