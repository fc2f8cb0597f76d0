// Command agentos runs missions: it boots the browser session, the vision
// client, the supervisor, and the gateway, then executes a mission plan or
// watches a directory for new ones.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentos/internal/agent"
	"agentos/internal/brain"
	"agentos/internal/browser"
	"agentos/internal/config"
	"agentos/internal/display"
	"agentos/internal/gateway"
	"agentos/internal/launcher"
	"agentos/internal/logging"
	"agentos/internal/memory"
	"agentos/internal/osinput"
	"agentos/internal/perception"
	"agentos/internal/supervisor"
	"agentos/internal/vision"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		verbose    bool
		configPath string
	)

	root := &cobra.Command{
		Use:           "agentos",
		Short:         "Vision-guided agent operating system",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(verbose)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&configPath, "config", "agentos.yaml", "config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newWatchCmd(&configPath))
	root.AddCommand(newDisplayCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var missionFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one mission plan to the end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if missionFile != "" {
				cfg.Mission.PlanFile = missionFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			rt, err := boot(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			// Mission outcomes live in the journaled plan; a failed step is
			// not a process failure.
			return rt.launcher.Run(ctx, cfg.Mission.PlanFile)
		},
	}
	cmd.Flags().StringVarP(&missionFile, "mission", "m", "", "mission plan file (overrides config)")
	return cmd
}

func newWatchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch a directory and run each mission plan dropped into it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			rt, err := boot(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.launcher.Watch(ctx, cfg.Mission.WatchDir); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func newDisplayCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "display",
		Short: "Probe and print the primary monitor context",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			log := logging.For("display")
			drv, err := browser.Launch(ctx, browserConfig(cfg), logging.For("browser"))
			if err != nil {
				return err
			}
			defer drv.Close()

			dc := display.Detect(ctx, drv.Page(), log)
			out, err := json.MarshalIndent(dc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentos version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("agentos", version)
		},
	}
}

// runtime is the booted collaborator graph for one process.
type runtime struct {
	launcher *launcher.Launcher
	browser  *browser.Driver
	journal  *supervisor.Journal
}

func (r *runtime) close() {
	if r.browser != nil {
		_ = r.browser.Close()
	}
	if r.journal != nil {
		_ = r.journal.Close()
	}
}

func browserConfig(cfg config.Config) browser.Config {
	return browser.Config{
		UserDataDir:     cfg.Browser.UserDataDir,
		Profile:         cfg.Browser.Profile,
		Bin:             cfg.Browser.Bin,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		ActionTimeout:   cfg.Browser.ActionTimeout,
		WaitTimeout:     cfg.Browser.WaitTimeout,
	}
}

// boot wires the full collaborator graph in dependency order.
func boot(ctx context.Context, cfg config.Config) (*runtime, error) {
	log := logging.For("boot")

	store, err := memory.Open(cfg.Memory.File)
	if err != nil {
		return nil, err
	}

	drv, err := browser.Launch(ctx, browserConfig(cfg), logging.For("browser"))
	if err != nil {
		return nil, err
	}
	rt := &runtime{browser: drv}

	dc := display.Detect(ctx, drv.Page(), logging.For("display"))
	if err := display.Cache(store, dc); err != nil {
		log.Warn("display context not cached: " + err.Error())
	}

	osDriver := osinput.NewCDPDriver(drv.Page(), dc, logging.For("osinput"))

	visionClient, err := vision.NewGeminiClient(ctx, cfg.Vision.APIKey, cfg.Vision.Models, cfg.Vision.Temperature, logging.For("vision"))
	if err != nil {
		rt.close()
		return nil, err
	}

	perceiver := perception.New(drv, cfg.Vision.JPEGQuality, cfg.Vision.DebugDump, logging.For("perception"))

	var journal *supervisor.Journal
	if cfg.Supervisor.JournalDB != "" {
		journal, err = supervisor.OpenJournal(cfg.Supervisor.JournalDB)
		if err != nil {
			log.Warn("decision journal unavailable: " + err.Error())
			journal = nil
		}
	}
	rt.journal = journal

	sup := supervisor.New(visionClient, dc, cfg.Supervisor.RiskKeywords, journal, logging.For("supervisor"))
	gw := gateway.New(drv, osDriver, sup, dc, logging.For("gateway"))

	br := brain.New(brain.Config{
		MaxSteps:        cfg.Brain.MaxSteps,
		StepPause:       cfg.Brain.StepPause,
		ForceClickHosts: cfg.Browser.ForceClickHosts,
		Models:          cfg.Vision.Models,
	}, visionClient, perceiver, gw, sup, drv, logging.For("brain"))

	registry := agent.NewRegistry(logging.For("agents"))
	registry.Register(agent.HandleWriter, []string{agent.NeedMemory}, agent.NewWriterFactory(visionClient, cfg.Mission.PromptsFile))
	registry.Register(agent.HandlePoster, []string{agent.NeedMemory, agent.NeedGateway, agent.NeedBrain}, agent.NewPoster)
	if err := registry.LoadMap(cfg.Mission.AgentsMap); err != nil {
		rt.close()
		return nil, err
	}

	deps := agent.Deps{
		Memory:  store,
		Gateway: gw,
		Brain:   br,
		Log:     logging.For("agents"),
	}
	rt.launcher = launcher.New(registry, deps, store, cfg.Mission.Timeout, logging.For("launcher"))
	return rt, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
