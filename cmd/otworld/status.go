package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xiaonanln/otworld/engine/config"
	"github.com/xiaonanln/otworld/engine/proto"
	"github.com/xiaonanln/otworld/engine/service"
)

func buildStatusCommand() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the status port of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			addr := fmt.Sprintf("%s:%d", host, cfg.Server.StatusPort)
			client, err := service.Dial(addr, proto.VariantStatus, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			reply, err := client.Call(&proto.StatusRequest{})
			if err != nil {
				return err
			}
			status, ok := reply.(*proto.StatusResponse)
			if !ok {
				return errors.Errorf("unexpected reply: %s", reply.MsgType())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "name:   %s\nonline: %d\nuptime: %s\nrss:    %d MB\nmotd:   %s\n",
				status.Name, status.Online, status.Uptime, status.RSSBytes>>20, status.MOTD)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	return cmd
}
