// Command example runs a netframe echo server or a pinging client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// msgID enumerates the messages the example server and client exchange.
type msgID uint32

const (
	ServerAccept msgID = iota
	ServerDeny
	ServerPing
	MessageAll
	ServerMessage
)

func (id msgID) String() string {
	switch id {
	case ServerAccept:
		return "ServerAccept"
	case ServerDeny:
		return "ServerDeny"
	case ServerPing:
		return "ServerPing"
	case MessageAll:
		return "MessageAll"
	case ServerMessage:
		return "ServerMessage"
	default:
		return fmt.Sprintf("msgID(%d)", uint32(id))
	}
}

const defaultPort = 60000

func main() {
	rootCmd := &cobra.Command{
		Use:   "example",
		Short: "Echo server and client for the netframe engine",
		Long: `Example runs either side of a small netframe application.

The server echoes pings back to their sender and relays MessageAll
requests to every other client. The client pings the server and
reports round-trip times.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serverCmd(),
		clientCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("example %s (%s)\n", version, commit)
		},
	}
}
