// Command poetry is the reader and admin client for a Captured Thinkings
// remote store. It reads BACKEND_URL and BACKEND_ANON_KEY from the
// environment or a .env file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/captured-thinkings/internal/cli"
)

func main() {
	// Ctrl+C cancels the context, which ends `poetry watch` cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
