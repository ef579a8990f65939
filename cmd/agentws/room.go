package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/spf13/cobra"
)

func roomCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room ID",
		Short: "Join a room and print its participants and typing users",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID := args[0]

			a, err := newApp(flags)
			if err != nil {
				return err
			}

			rooms := a.service.Rooms()
			show := func(context.Context, *domain.Message) error {
				room, ok := rooms.Room(roomID)
				if !ok {
					return nil
				}
				_, err := fmt.Fprintf(os.Stdout, "%s participants=[%s] typing=[%s]\n",
					room.ID,
					strings.Join(room.Participants, ","),
					strings.Join(room.Typing, ","),
				)
				return err
			}
			a.service.Subscribe(domain.MessageTypeRoomParticipants, show)
			a.service.Subscribe(domain.MessageTypeUserTyping, show)

			// Joined once; later reconnects re-join by themselves.
			joined := make(chan struct{}, 1)
			a.service.OnConnect(func() {
				select {
				case joined <- struct{}{}:
				default:
				}
			})
			go func() {
				<-joined
				if err := a.service.JoinRoom(context.Background(), roomID); err != nil {
					a.logger.Error("failed to join room", "room_id", roomID, "error", err)
				}
			}()

			ctx, cancel := signalContext()
			defer cancel()

			return a.run(ctx)
		},
	}

	return cmd
}
