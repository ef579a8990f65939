package main

import (
	"errors"
	"fmt"

	"github.com/HMasataka/agentws/internal/session"
	"github.com/spf13/cobra"
)

func loginCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login TOKEN",
		Short: "Store a token in the session file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errors.New("token is empty")
			}
			return saveSession(flags, session.State{IsAuthenticated: true, Token: args[0]})
		},
	}
}

func logoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the session file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveSession(flags, session.State{})
		},
	}
}

func saveSession(flags *globalFlags, state session.State) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	store, err := session.Open(cfg.Session.File, nil)
	if err != nil {
		return err
	}

	if err := store.Save(state); err != nil {
		return err
	}

	fmt.Printf("session written to %s\n", store.Path())
	return nil
}
