package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/bayleafwalker/bindery-runtime/internal/federation"
	"github.com/bayleafwalker/bindery-runtime/internal/manifest"
)

func main() {
	var (
		listenAddr  string
		manifestDir string
		remote      string
		scope       string
		vars        map[string]string
	)

	cmd := &cobra.Command{
		Use:          "federation-server",
		Short:        "Serve module descriptors from a manifest directory over gRPC",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl.SetLogger(zap.New(zap.UseDevMode(true)))
			log := ctrl.Log.WithName("federation-server")

			mods, err := manifest.LoadDir(manifestDir, vars)
			if err != nil {
				return err
			}
			catalog := federation.NewCatalog()
			for _, m := range mods {
				r := m.Remote
				if r == "" {
					r = remote
				}
				if err := catalog.Add(federation.DescriptorFor(r, m)); err != nil {
					return err
				}
			}
			log.Info("loaded catalog", "modules", catalog.Len(), "scope", scope)

			lis, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listenAddr, err)
			}
			srv := federation.NewGRPCServer(&federation.Server{Catalog: catalog, Scope: scope, Log: log})

			ctx := ctrl.SetupSignalHandler()
			go func() {
				<-ctx.Done()
				log.Info("stopping")
				srv.GracefulStop()
			}()

			log.Info("serving", "addr", lis.Addr().String())
			if err := srv.Serve(lis); err != nil {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":50051", "address to listen on")
	cmd.Flags().StringVar(&manifestDir, "manifests", ".", "directory of *.hcl module manifests")
	cmd.Flags().StringVar(&remote, "remote", "default", "remote name for modules that do not declare one")
	cmd.Flags().StringVar(&scope, "scope", "", "federation scope clients must present; empty accepts any")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "manifest variables as key=value")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
