package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
)

func (a *App) getStatus() string {
	s := a.config.BlogID
	if a.watcher != nil {
		s += " " + string(a.watcher.Mode())
	}
	return fmt.Sprintf("(%s)", s)
}

// Root runs the REPL on stdin.
func (a *App) Root(ctx context.Context) {
	printlnFn("Welcome to mediasync CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}
