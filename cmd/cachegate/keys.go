package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/cachegate/auth"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage static API keys",
	}
	cmd.AddCommand(keysGenerateCmd())
	cmd.AddCommand(keysHashCmd())
	return cmd
}

func keysGenerateCmd() *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key and the hash to store in accounts[].key_hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, hash, err := auth.GenerateKey(demo)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:  %s\n", key)
			fmt.Fprintf(out, "hash: %s\n", hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "Generate a demo key (no per-minute limit)")
	return cmd
}

func keysHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash KEY",
		Short: "Print the stored hash of an existing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), auth.HashAPIKey(args[0]))
			return nil
		},
	}
}
