package main

import (
	"fmt"
	"strings"

	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/logging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLogLevelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loglevel",
		Short: "Read or change the log level of a component",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <component>",
		Short: "Print the stored log level, global for the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, closer, err := a.openKV()
			if err != nil {
				return err
			}
			defer closer()

			store := kvstore.NewStore(kv, logging.KVStoreDataPathPrefix)
			level, err := store.Get(cmd.Context(), logging.ConfigPath(args[0]))
			switch {
			case kvstore.IsNotFound(err):
				fmt.Fprintf(cmd.OutOrStdout(), "%s (default)\n", logging.GlobalDefaultLogLevel)
				return nil
			case err != nil:
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(level))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <component> <level>",
		Short: "Store the log level, running components pick it up",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := strings.ToUpper(args[1])
			if _, ok := logging.ParseLevel(level); !ok {
				return errors.Wrapf(logging.ErrUnsupportedLevel, "%q", args[1])
			}

			kv, closer, err := a.openKV()
			if err != nil {
				return err
			}
			defer closer()

			store := kvstore.NewStore(kv, logging.KVStoreDataPathPrefix)
			if err := store.Set(cmd.Context(), logging.ConfigPath(args[0]), []byte(level)); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], level)
			return nil
		},
	})

	return cmd
}
