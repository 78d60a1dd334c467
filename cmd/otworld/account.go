package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xiaonanln/otworld/components/game"
	"github.com/xiaonanln/otworld/engine/config"
	"github.com/xiaonanln/otworld/engine/storage"
)

var bcryptCost int

func buildAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts in the storage",
	}
	cmd.PersistentFlags().IntVar(&bcryptCost, "bcrypt-cost", 0, "bcrypt cost of new passwords, default cost if 0")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <password> [character...]",
		Short: "Create an account with characters",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(func(engine storage.Engine, accounts *game.AccountStore) error {
				if err := accounts.CreateAccount(engine, args[0], args[1], args[2:]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s created with %d character(s)\n", args[0], len(args)-2)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(func(engine storage.Engine, accounts *game.AccountStore) error {
				names, err := accounts.ListAccounts(engine)
				if err != nil {
					return err
				}
				for _, name := range names {
					account, err := accounts.LoadAccount(engine, name)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", account.Name, account.Characters)
				}
				return nil
			})
		},
	})
	return cmd
}

func withStorage(f func(engine storage.Engine, accounts *game.AccountStore) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	engine, err := storage.Open(&cfg.Storage, cfg.ResolvePath)
	if err != nil {
		return err
	}
	defer engine.Close()

	accounts := game.NewAccountStore()
	if bcryptCost > 0 {
		accounts.BcryptCost = bcryptCost
	}
	return f(engine, accounts)
}
