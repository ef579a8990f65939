package main

import (
	"context"
	"os"
	"sync"

	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/spf13/cobra"
)

var streamTypes = []domain.MessageType{
	domain.MessageTypeRoomParticipants,
	domain.MessageTypeUserTyping,
	domain.MessageTypeNotification,
	domain.MessageTypeMetricsUpdate,
	domain.MessageTypeAgentStatus,
	domain.MessageTypeContractStatus,
	domain.MessageTypeDocumentStatus,
	domain.MessageTypeSystemStatus,
}

func listenCmd(flags *globalFlags) *cobra.Command {
	var (
		rooms []string
		extra []string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print inbound frames as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}

			types := append([]domain.MessageType(nil), streamTypes...)
			for _, t := range extra {
				types = append(types, domain.MessageType(t))
			}

			var mu sync.Mutex
			for _, t := range types {
				a.service.Subscribe(t, func(_ context.Context, msg *domain.Message) error {
					mu.Lock()
					defer mu.Unlock()
					return printFrame(os.Stdout, msg)
				})
			}

			if len(rooms) > 0 {
				a.service.OnConnect(func() {
					for _, id := range rooms {
						if err := a.service.JoinRoom(context.Background(), id); err != nil {
							a.logger.Warn("failed to join room", "room_id", id, "error", err)
						}
					}
				})
			}

			ctx, cancel := signalContext()
			defer cancel()

			return a.run(ctx)
		},
	}

	cmd.Flags().StringSliceVar(&rooms, "room", nil, "Rooms to join once connected")
	cmd.Flags().StringSliceVar(&extra, "type", nil, "Additional message types to print")

	return cmd
}
