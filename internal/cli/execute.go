package cli

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
)

// Execute runs the command tree until it returns or the process is
// interrupted, and exits non-zero on error.
func Execute() {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
