package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xiaonanln/otworld/engine/config"
	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/handshake"
)

func buildGenKeyCommand() *cobra.Command {
	var bits int
	var out string
	var force bool

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate the RSA key pair of the handshake",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				cfg, err := config.Load(configFile)
				if err != nil {
					return err
				}
				out = cfg.ResolvePath(cfg.Server.RSAKey)
			}
			if _, err := os.Stat(out); err == nil && !force {
				return errors.Errorf("%s already exists, use --force to overwrite", out)
			}
			kp, err := handshake.GenerateKeyPair(bits)
			if err != nil {
				return err
			}
			if err := kp.WritePEM(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "RSA key (%d bits) written to %s, public key to %s.pub\n", kp.Bits(), out, out)
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", consts.DEFAULT_RSA_KEY_BITS, "key size in bits")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, rsa_key of the config by default")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing key")
	return cmd
}
