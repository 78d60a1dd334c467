package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xiaonanln/otworld/components/server"
	"github.com/xiaonanln/otworld/engine/binutil"
	"github.com/xiaonanln/otworld/engine/config"
	"github.com/xiaonanln/otworld/engine/gwlog"
)

func buildServeCommand() *cobra.Command {
	var runInDaemonMode bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(runInDaemonMode, logLevel)
		},
	}
	cmd.Flags().BoolVarP(&runInDaemonMode, "daemon", "d", false, "run in daemon mode")
	cmd.Flags().StringVar(&logLevel, "log", "", "set log level, will override log level in config")
	return cmd
}

func serve(runInDaemonMode bool, logLevel string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.Server.LogLevel
	}

	if runInDaemonMode {
		daemoncontext := binutil.Daemonize(cfg.ResolvePath("otworld.pid"), "")
		defer daemoncontext.Release()
	}

	binutil.SetupGWLog("server", logLevel, cfg.ResolvePath(cfg.Server.LogFile), cfg.Server.LogStderr)
	defer gwlog.Sync()
	fmt.Fprintf(os.Stderr, "Read server config: \n%s\n", config.DumpPretty(cfg))

	ctx, cancel := binutil.SignalContext(context.Background())
	defer cancel()
	s := server.New(cfg, binutil.OSProcessEnv())
	if err := s.Run(ctx); err != nil {
		return err
	}
	gwlog.Infof("server terminated gracefully")
	return nil
}
