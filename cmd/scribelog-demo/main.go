// Command scribelog-demo exercises the logger end to end: construction from
// flags or a config file, levelled output, child loggers, request ids,
// profiling and runtime reconfiguration.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/abyssdigger/scribelog"
)

var (
	configPath string
	levelFlag  scribelog.LevelValue
	formatName string
)

func main() {
	cmd := &cobra.Command{
		Use:           "scribelog-demo",
		Short:         "showcase of the scribelog structured logger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "logger config file (.yaml, .yml or .toml)")
	cmd.Flags().VarP(&levelFlag, "level", "l", "log level threshold (overrides config)")
	cmd.Flags().StringVarP(&formatName, "format", "f", "", "output format: json, logfmt, text or console")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scribelog-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}
	log := scribelog.New(opts)
	defer log.Close()

	log.Info("demo starting", scribelog.Fields{"pid": os.Getpid()})
	log.Warn("watch out for %s", "splat interpolation")
	log.Debug("only visible at debug or below")

	worker := log.Child(scribelog.Fields{"component": "worker"})
	ctx, id := scribelog.EnsureRequestID(context.Background())
	worker.LogCtx(ctx, scribelog.LevelInfo, "handling request")
	worker.Info("request id travels in the context", scribelog.Fields{"id": id})

	h := log.ProfileCtx(ctx, "slow-operation")
	time.Sleep(120 * time.Millisecond)
	h.End(scribelog.Fields{"rows": 42})

	err = log.TimeFunc("flaky-operation", func() error {
		time.Sleep(10 * time.Millisecond)
		return errors.New("simulated failure")
	})
	log.Info("flaky operation settled", scribelog.Fields{"failed": err != nil})

	log.UpdateOptions(scribelog.Options{Level: scribelog.LevelDebug})
	log.Debug("visible after runtime reconfiguration")
	return nil
}

func buildOptions() (scribelog.Options, error) {
	var opts scribelog.Options
	if configPath != "" {
		loaded, err := scribelog.LoadConfig(configPath)
		if err != nil {
			return scribelog.Options{}, err
		}
		opts = loaded
	}
	if len(opts.Transports) == 0 {
		opts.Transports = []scribelog.Transport{scribelog.NewConsoleTransport(os.Stdout)}
	}
	if lv := levelFlag.String(); lv != "" {
		opts.Level = lv
	}
	if formatName != "" {
		f, ok := scribelog.FormatByName(formatName)
		if !ok {
			return scribelog.Options{}, fmt.Errorf("unknown format %q", formatName)
		}
		opts.Format = f
	}
	opts.Profiler = &scribelog.ProfilerOptions{
		ThresholdWarn: 100 * time.Millisecond,
	}
	return opts, nil
}
