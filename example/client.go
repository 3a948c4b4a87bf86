package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/netframe"
)

func clientCmd() *cobra.Command {
	var (
		host     string
		port     uint16
		interval time.Duration
		count    int
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to the echo server and ping it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client := netframe.NewClient[msgID](netframe.LoggerOption(slog.Default()))
			if err := client.ConnectToServer(ctx, host, port); err != nil {
				return err
			}
			defer client.Disconnect()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			sent, received := 0, 0
			handle := func(msg *netframe.Message[msgID]) {
				switch msg.Header.ID {
				case ServerAccept:
					fmt.Println("Server accepted connection")

				case ServerPing:
					var then int64
					if err := msg.Extract(&then); err != nil {
						slog.Error("bad ping", "error", err)
						return
					}
					received++
					fmt.Printf("Ping: %v\n", time.Since(time.Unix(0, then)))

				case ServerMessage:
					var from uint32
					if err := msg.Extract(&from); err != nil {
						slog.Error("bad server message", "error", err)
						return
					}
					fmt.Printf("Hello from [%d]\n", from)

				default:
					slog.Warn("unexpected message", "message", msg.String())
				}
			}

			for count <= 0 || received < count {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}

				if !client.IsConnected() {
					return errors.New("server down")
				}

				if count <= 0 || sent < count {
					ping := netframe.NewMessage(ServerPing)
					if err := ping.Append(time.Now().UnixNano()); err != nil {
						return err
					}
					if err := client.Send(ping); err != nil {
						return err
					}
					sent++

					if all {
						if err := client.Send(netframe.NewMessage(MessageAll)); err != nil {
							return err
						}
					}
				}

				if err := client.Update(ctx, 0, false, handle); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Server host")
	cmd.Flags().Uint16VarP(&port, "port", "p", defaultPort, "Server port")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Time between pings")
	cmd.Flags().IntVarP(&count, "count", "c", 0, "Stop after this many replies, 0 runs until interrupted")
	cmd.Flags().BoolVar(&all, "all", false, "Also ask the server to greet every other client")

	return cmd
}
