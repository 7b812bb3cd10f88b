package main

import (
	"fmt"
	"os"

	"github.com/denismitr/voltha/config"
	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/logging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	cfgPath string
	kvPath  string
	verbose bool

	cfg   *config.Config
	lg    *zap.Logger
	level zap.AtomicLevel
}

func (a *app) openKV() (*kvstore.DB, kvstore.Closer, error) {
	db, closer, err := kvstore.Open(a.cfg.KV.Path, a.cfg.StoreConfig(a.lg))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open %s", a.cfg.KV.Path)
	}
	return db, closer, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "volthactl",
		Short:         "Inspect and drive an OpenOMCI ONU adapter",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}

			if a.kvPath != "" {
				cfg.KV.Path = a.kvPath
			}

			level := cfg.LogLevel
			if a.verbose {
				level = "DEBUG"
			}

			lg, atom, err := logging.New(logging.Options{
				Level:      level,
				InstanceID: cfg.InstanceID,
				Output:     zapcore.AddSync(cmd.ErrOrStderr()),
			})
			if err != nil {
				return errors.Wrap(err, "could not build logger")
			}

			a.cfg, a.lg, a.level = cfg, lg, atom
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.lg != nil {
				_ = a.lg.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path of the yaml config")
	cmd.PersistentFlags().StringVar(&a.kvPath, "kv-path", "", "kv store file, overrides the config")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newMibCmd(a),
		newLogLevelCmd(a),
		newEventsCmd(a),
		newServeCmd(a),
	)

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
