package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/meshbridge/internal/certstore"
)

func newCertCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage the broker CA certificate",
	}

	var certDir string
	install := &cobra.Command{
		Use:   "install <ca.pem>",
		Short: "Validate and persist a broker CA certificate",
		Long: `Validates a PEM encoded CA certificate and stores it in the
certificate directory. The bridge prefers it over the built-in bundle on the
next connection attempt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := certDir
			if dir == "" {
				cfg, _, err := loadConfig(*configPath)
				if err != nil {
					return err
				}
				dir = cfg.TLS.CertDir
			}
			return installCert(cmd, args[0], dir)
		},
	}
	install.Flags().StringVar(&certDir, "dir", "", "certificate directory (default tls.cert_dir)")

	cmd.AddCommand(install)
	return cmd
}

func installCert(cmd *cobra.Command, src, dir string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading certificate: %w", err)
	}

	path, err := certstore.Install(dir, data)
	if err != nil {
		return fmt.Errorf("installing certificate: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", path)
	return nil
}
