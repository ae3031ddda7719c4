//go:build linux

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ja7ad/energat/pkg/baseline"
	"github.com/ja7ad/energat/pkg/config"
	"github.com/ja7ad/energat/pkg/engine"
	"github.com/ja7ad/energat/pkg/numamem"
	"github.com/ja7ad/energat/pkg/procfs"
	"github.com/ja7ad/energat/pkg/rapl"
	"github.com/ja7ad/energat/pkg/sampler"
	"github.com/ja7ad/energat/pkg/sink"
	"github.com/ja7ad/energat/pkg/status"
)

// placeholderPID is __main__.py's stand-in root pid (the init process) for
// --check and --basepower. The check and basepower subcommands here attach
// to no target and do not read it.
const placeholderPID = 1

var programLevel = new(slog.LevelVar)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})))
}

func main() {
	cfg := config.Defaults()

	root := &cobra.Command{
		Use:   "energat",
		Short: "Per-process CPU-package and DRAM energy attribution",
		Long: `energat measures the share of a server's CPU-package and DRAM energy
consumption attributable to a target process tree, even when other
workloads run concurrently on the same machine, by reading Intel RAPL
counters and crediting them against per-task scheduling residency and
NUMA memory residence under a non-linear credit model.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.MergeYAML(&cfg, cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			programLevel.Set(cfg.SlogLevel())
			return nil
		},
	}
	config.RegisterFlags(root.PersistentFlags(), &cfg)

	root.AddCommand(checkCmd(&cfg), basepowerCmd(&cfg), traceCmd(&cfg))

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func checkCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check hardware/kernel support for energy attribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			core2socket, sockets, err := topology()
			if err != nil {
				return fmt.Errorf("%w: %v", engine.ErrTopologyMismatch, err)
			}

			serverCPU, err := procfs.ServerCPUTimePerSocket(core2socket)
			if err != nil {
				return err
			}

			numa := numamem.NewReader()
			totalMem, err := numa.SystemMemoryMiB(numamem.MemTotal, sockets)
			if err != nil {
				return err
			}

			raplProbe := rapl.NewProbe()
			maxRanges, err := raplProbe.ReadMax(sockets)
			if err != nil {
				return fmt.Errorf("%w: %v", engine.ErrTopologyMismatch, err)
			}

			fmt.Printf("Socket count:        %d\n", sockets)
			fmt.Printf("Host CPU times:      %v\n", serverCPU)
			fmt.Printf("Total NUMA memories: %v MiB\n", totalMem)
			fmt.Printf("RAPL pkg max ranges: %v J\n", maxRanges.PkgJoules)
			fmt.Println("System check passed!")
			return nil
		},
	}
}

func basepowerCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "basepower",
		Short: "Estimate and persist idle baseline pkg/DRAM power",
		RunE: func(cmd *cobra.Command, args []string) error {
			core2socket, sockets, err := topology()
			if err != nil {
				return err
			}

			est := baseline.NewEstimator(rapl.NewProbe(), numamem.NewReader(), core2socket)
			bl, err := est.Estimate(sockets, cfg.RAPLPeriod)
			if err != nil {
				return err
			}
			if err := baseline.Save(cfg.BaseFile, bl); err != nil {
				return err
			}
			slog.Info("basepower: estimated", "pkg_watts", bl.PkgWatts, "dram_watts", bl.DramWatts,
				"pkg_percents", bl.PkgPercents, "dram_percents", bl.DramPercents)
			fmt.Printf("Baseline power saved to %s\n", cfg.BaseFile)
			return nil
		},
	}
}

func traceCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "trace",
		Short: "Attach to --pid and trace its energy attribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.PID <= 0 {
				return fmt.Errorf("no target process specified (use --pid)")
			}
			if !procfs.Exists(cfg.PID) {
				return fmt.Errorf("%w: pid %d does not exist", engine.ErrTargetGone, cfg.PID)
			}

			core2socket, sockets, err := topology()
			if err != nil {
				return err
			}

			raplProbe := rapl.NewProbe()
			maxRanges, err := raplProbe.ReadMax(sockets)
			if err != nil {
				return fmt.Errorf("%w: %v", engine.ErrTopologyMismatch, err)
			}

			numa := numamem.NewReader()

			bl, err := baseline.Load(cfg.BaseFile)
			if err != nil {
				if errors.Is(err, baseline.ErrMissing) {
					return fmt.Errorf("%w", engine.ErrBaselineMissing)
				}
				return err
			}

			name := cfg.Name
			if name == "" {
				name = fmt.Sprintf("target-%d", cfg.PID)
			}
			outPath := filepath.Join(cfg.Output, fmt.Sprintf("energat_traces_%s.csv", name))
			sk, err := sink.NewCSVSink(outPath)
			if err != nil {
				return err
			}

			store := status.NewStore(sockets)
			smp := sampler.New(cfg.RAPLPeriod, sockets, core2socket, numa, store)

			engCfg := engine.Config{
				Interval:    cfg.Interval,
				RAPLPeriod:  cfg.RAPLPeriod,
				Gamma:       cfg.Gamma,
				Delta:       cfg.Delta,
				LogInterval: cfg.LogInterval,
			}
			eng := engine.New(engCfg, sockets, core2socket, raplProbe, maxRanges, numa, bl, store, smp, sk)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("trace: attaching", "pid", cfg.PID, "name", name, "output", outPath)
			return eng.Run(ctx, cfg.PID, os.Getpid())
		},
	}
}

func topology() (map[int]int, int, error) {
	core2socket, err := procfs.CoreToSocket()
	if err != nil {
		return nil, 0, err
	}
	return core2socket, procfs.NumSockets(core2socket), nil
}

var _ = placeholderPID // not read by any subcommand; kept for parity with __main__.py's root-pid placeholder
