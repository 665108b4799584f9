package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/affinity/internal/prompt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	g := &GlobalFlags{}
	c := newCommand(g)
	root := buildRoot(c)

	err := root.ExecuteContext(ctx)
	stop()
	code := exitCode(err)
	if err != nil && !isReported(err) {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	}
	if g.Pause && code != exitOK {
		prompt.Pause(os.Stdin, os.Stdout)
	}
	os.Exit(code)
}
