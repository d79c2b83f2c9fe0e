package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bayleafwalker/bindery-runtime/internal/federation"
)

func main() {
	var (
		target     string
		scope      string
		remote     string
		constraint string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:          "federation-client <module>",
		Short:        "Fetch one module descriptor from a federation server",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			client, closeFn, err := federation.Dial(target, scope)
			if err != nil {
				return err
			}
			defer closeFn()

			d, err := client.Fetch(ctx, remote, args[0], constraint)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&target, "target", "127.0.0.1:50051", "gRPC server address")
	cmd.Flags().StringVar(&scope, "scope", "default", "federation scope")
	cmd.Flags().StringVar(&remote, "remote", "default", "remote name")
	cmd.Flags().StringVar(&constraint, "constraint", "", "semver constraint; empty selects the newest version")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
