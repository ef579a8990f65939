package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/spf13/cobra"
)

func sendCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send TYPE [JSON]",
		Short: "Send one frame and exit",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := json.RawMessage(`{}`)
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("data is not valid JSON: %s", args[1])
				}
				data = json.RawMessage(args[1])
			}

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.service.Close()

			timeout := a.cfg.Client.HandshakeTimeout.Std()
			if timeout <= 0 {
				timeout = 10 * time.Second
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := a.service.Connect(ctx); err != nil {
				return err
			}

			return a.service.Send(ctx, domain.MessageType(args[0]), data)
		},
	}

	return cmd
}
