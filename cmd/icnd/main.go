// Command icnd wires a single ICN node process together and exposes a
// thin cobra CLI over it. Like the teacher's cmd/synnergy/main.go, this
// is a demonstration surface, not a production daemon: it builds one
// in-memory node from config/default.yaml and either runs its background
// tasks until interrupted (run) or prints one health snapshot and exits
// (health).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/intercooperative/icn-core/internal/dag"
	"github.com/intercooperative/icn-core/internal/federation"
	"github.com/intercooperative/icn-core/internal/governance"
	"github.com/intercooperative/icn-core/internal/identity"
	"github.com/intercooperative/icn-core/internal/mana"
	"github.com/intercooperative/icn-core/internal/mesh"
	"github.com/intercooperative/icn-core/internal/reputation"
	"github.com/intercooperative/icn-core/internal/runtime"
	"github.com/intercooperative/icn-core/internal/selection"
	"github.com/intercooperative/icn-core/internal/trust"
	"github.com/intercooperative/icn-core/internal/wasmhost"
	"github.com/intercooperative/icn-core/pkg/config"
	"github.com/intercooperative/icn-core/pkg/utils"
)

func main() {
	var nodeDID string
	var listenAddr string

	rootCmd := &cobra.Command{Use: "icnd"}
	rootCmd.PersistentFlags().StringVar(&nodeDID, "node-did", "did:key:node", "this node's DID")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "overrides federation.listen_addr from config")

	rootCmd.AddCommand(runCmd(&nodeDID, &listenAddr))
	rootCmd.AddCommand(healthCmd(&nodeDID, &listenAddr))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd(nodeDID, listenAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start a node and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, sched, err := buildNode(*nodeDID, *listenAddr)
			if err != nil {
				return err
			}
			sched.Start(runtime.DefaultTasks(ctx, 5*time.Second, time.Minute, 30*time.Second)...)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			ctx.Shutdown()
			sched.Wait()
			return nil
		},
	}
}

func healthCmd(nodeDID, listenAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "build a node, print one health snapshot, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, sched, err := buildNode(*nodeDID, *listenAddr)
			if err != nil {
				return err
			}
			defer ctx.Shutdown()
			defer sched.Wait()

			snap := ctx.HealthSnapshot()
			fmt.Printf("mana_accounts=%d dag_blocks=%d goroutines=%d breakers=%v\n",
				snap.ManaAccounts, snap.DagBlocks, snap.NumGoroutines, snap.Breakers)
			return nil
		},
	}
}

// buildNode constructs every component from config/default.yaml (merged
// with ICN_ENV-specific overrides) and wires them into a runtime.Context.
func buildNode(nodeDID, listenAddrOverride string) (*runtime.Context, *runtime.Scheduler, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("icnd: load config: %w", err)
	}

	// A handful of deployment-time knobs take an env override on top of
	// whatever config/default.yaml (or an env-specific overlay) set, for
	// operators who want to bump a single node's limits without editing
	// YAML.
	cfg.DAG.MaxTotalSize = utils.EnvOrDefaultUint64("ICN_DAG_MAX_TOTAL_SIZE", cfg.DAG.MaxTotalSize)
	cfg.WasmHost.MaxMemoryPages = utils.EnvOrDefaultInt("ICN_WASM_MAX_MEMORY_PAGES", cfg.WasmHost.MaxMemoryPages)
	meshBidWindow := utils.EnvOrDefaultDuration("ICN_MESH_BID_WINDOW", parseDurationOr(cfg.Mesh.BidWindow, 30*time.Second))
	meshExecTimeout := utils.EnvOrDefaultDuration("ICN_MESH_EXECUTION_TIMEOUT", parseDurationOr(cfg.Mesh.ExecutionTimeout, 5*time.Minute))

	log := logrus.New()
	if lvl, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
		log.SetLevel(lvl)
	}

	resolver, err := identity.NewResolver(cfg.Identity.ResolverCache, parseDurationOr(cfg.Identity.ResolverTTL, 10*time.Minute), cfg.Identity.AllowFallback, log)
	if err != nil {
		return nil, nil, fmt.Errorf("icnd: identity resolver: %w", err)
	}
	resolver.Register(identity.KeyMethodResolver{})
	resolver.Register(identity.PeerMethodResolver{})

	store := dag.NewMemoryStore(nil)

	manaPolicy := mana.Policy{
		BaseCapacity:        cfg.Mana.BaseCapacity,
		MinCapacity:         cfg.Mana.MinCapacity,
		MaxCapacityLimit:    cfg.Mana.MaxCapacityLimit,
		NetworkHealth:       cfg.Mana.NetworkHealth,
		EmergencyModulation: cfg.Mana.EmergencyModulation,
	}
	ledger := mana.NewLedger(manaPolicy, mana.NetworkAverage{CPU: 1, RAM: 1, Storage: 1, Bandwidth: 1, GPU: 1, Uptime: 1, Success: 1}, log)
	ledger.OpenAccount(nodeDID, mana.HardwareMetrics{CPU: 1, RAM: 1, Storage: 1, Bandwidth: 1, GPU: 1, Uptime: 1, Success: 1}, mana.OrgCooperative, 1, 1, 1, 0, time.Now())

	rep := reputation.NewStore(reputation.NewMemoryBackend())
	trustGraph := trust.NewGraph()

	listenAddr := cfg.Federation.ListenAddr
	if listenAddrOverride != "" {
		listenAddr = listenAddrOverride
	}
	overlay, err := federation.NewLibP2POverlay(listenAddr, cfg.Federation.BootstrapPeers, log)
	if err != nil {
		return nil, nil, fmt.Errorf("icnd: federation overlay: %w", err)
	}

	gov := governance.NewEngine(governance.Policy{
		Quorum:            cfg.Governance.Quorum,
		ApprovalThreshold: cfg.Governance.ApprovalThresh,
		VotingDuration:    parseDurationOr(cfg.Governance.VotingDuration, 72*time.Hour),
	}, []string{nodeDID})

	meshMgr := mesh.NewManager(ledger, rep, store, mesh.Policy{
		BidWindow:        meshBidWindow,
		ExecutionTimeout: meshExecTimeout,
		AnnounceCost:     5,
	})

	wasmHost := wasmhost.NewHost(ledger, meshMgr, store, rep, nodeDID, wasmhost.ResourceLimits{
		MaxMemoryPages:  uint32(cfg.WasmHost.MaxMemoryPages),
		MaxInstructions: cfg.WasmHost.MaxInstructions,
	}, cfg.WasmHost.HostCallRateHz, cfg.WasmHost.HostCallBurst)

	selectionPolicy := selection.Policy{
		Weights: selection.Weights{
			Price:          cfg.Selection.WeightPrice,
			Reputation:     cfg.Selection.WeightReputation,
			Trust:          cfg.Selection.WeightTrust,
			Capability:     cfg.Selection.WeightCapability,
			FailurePenalty: cfg.Selection.WeightFailure,
		},
		ReputationFloor: cfg.Selection.ReputationFloor,
	}

	if cfg.DAG.PruneOnStart {
		if _, err := store.Prune(dag.PruneConfig{
			MaxAge:                   parseDurationOr(cfg.DAG.MaxAge, 0),
			MaxTotalSize:             cfg.DAG.MaxTotalSize,
			PreservePinnedReferences: true,
		}); err != nil {
			return nil, nil, fmt.Errorf("icnd: prune dag store on start: %w", err)
		}
	}

	rtCfg := runtime.Config{NodeDID: nodeDID, SelectionPolicy: selectionPolicy, Log: log}
	ctx := runtime.New(rtCfg, resolver, store, ledger, rep, trustGraph, overlay, gov, meshMgr, wasmHost)
	return ctx, runtime.NewScheduler(ctx), nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
