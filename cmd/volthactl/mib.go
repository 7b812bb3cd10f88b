package main

import (
	"fmt"

	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/omci/database"
	"github.com/spf13/cobra"
)

func newMibCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mib",
		Short: "Read the stored ONU MIBs and templates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "dump <device>",
		Short: "Print the MIB of a device as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, closer, err := a.openKV()
			if err != nil {
				return err
			}
			defer closer()

			ctx := cmd.Context()
			mib := database.NewMibDbExternal(kvstore.NewStore(kv, database.MibPath), a.lg)
			if err := mib.Start(ctx); err != nil {
				return err
			}
			defer mib.Stop(ctx)

			out, err := mib.DumpToJSON(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "templates",
		Short: "List the stored MIB templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, closer, err := a.openKV()
			if err != nil {
				return err
			}
			defer closer()

			templates, err := database.NewMibTemplateDb(kvstore.NewStore(kv, database.TemplatePath), a.lg).Templates(cmd.Context())
			if err != nil {
				return err
			}

			for _, t := range templates {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	})

	return cmd
}
