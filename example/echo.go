package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Zereker/netframe"
)

// echoServer answers pings and relays broadcasts.
type echoServer struct {
	server *netframe.Server[msgID]
}

func (e *echoServer) OnClientConnect(client *netframe.Conn[msgID]) bool {
	return true
}

func (e *echoServer) OnClientValidated(client *netframe.Conn[msgID]) {
	// Runs on the connection's goroutine, so Send rather than MessageClient.
	_ = client.Send(netframe.NewMessage(ServerAccept))
}

func (e *echoServer) OnClientDisconnect(client *netframe.Conn[msgID]) {
	slog.Info("removing client", "id", client.ID())
}

func (e *echoServer) OnMessage(client *netframe.Conn[msgID], msg *netframe.Message[msgID]) {
	switch msg.Header.ID {
	case ServerPing:
		slog.Debug("ping", "id", client.ID())
		e.server.MessageClient(client, msg)

	case MessageAll:
		slog.Info("message all", "id", client.ID())
		out := netframe.NewMessage(ServerMessage)
		if err := out.Append(client.ID()); err != nil {
			slog.Error("build message", "error", err)
			return
		}
		e.server.MessageAllClients(out, client)

	default:
		slog.Warn("unexpected message", "id", client.ID(), "message", msg.String())
	}
}

func serverCmd() *cobra.Command {
	var (
		port        uint16
		metricsAddr string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetLogLoggerLevel(level)

			opts := []netframe.Option{netframe.LoggerOption(slog.Default())}

			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				opts = append(opts, netframe.MetricsOption(reg))

				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Error("metrics server", "error", err)
					}
				}()
				defer srv.Close()
			}

			handler := &echoServer{}
			server := netframe.NewServer[msgID](port, handler, opts...)
			handler.server = server

			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()

			return serve(cmd.Context(), server)
		},
	}

	cmd.Flags().Uint16VarP(&port, "port", "p", defaultPort, "Port to listen on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

// serve dispatches messages until ctx is canceled.
func serve(ctx context.Context, server *netframe.Server[msgID]) error {
	for {
		err := server.Update(ctx, 0, true)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
