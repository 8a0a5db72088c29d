// Command koziky is a streaming chat client with local conversation
// history, and the relay server it talks to.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/koziky/cmd/koziky/ask"
	chatcmder "github.com/papercomputeco/koziky/cmd/koziky/chat"
	convcmder "github.com/papercomputeco/koziky/cmd/koziky/conversations"
	mcpcmder "github.com/papercomputeco/koziky/cmd/koziky/mcp"
	mergecmder "github.com/papercomputeco/koziky/cmd/koziky/merge"
	pushcmder "github.com/papercomputeco/koziky/cmd/koziky/push"
	servecmder "github.com/papercomputeco/koziky/cmd/koziky/serve"
	"github.com/papercomputeco/koziky/cmd/koziky/settings"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const rootLongDesc string = `koziky is a chat client for OpenAI-compatible models.

Replies stream as they are generated and every exchange is kept in a
local conversation store (JSON file, SQLite or PostgreSQL). The same
binary runs the relay server that holds the upstream API key.

Configuration is read from ~/.koziky/config.toml, then from KOZIKY_*
environment variables (a .env file in the working directory is loaded
too), then from flags.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "koziky",
		Short:         "Streaming chat with local conversation history",
		Long:          rootLongDesc,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	settings.AddPersistentFlags(cmd)

	cmd.AddCommand(
		chatcmder.NewChatCmd(),
		askcmder.NewAskCmd(),
		convcmder.NewConversationsCmd(),
		servecmder.NewServeCmd(),
		mergecmder.NewMergeCmd(),
		pushcmder.NewPushCmd(),
		mcpcmder.NewMCPCmd(version),
	)

	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
