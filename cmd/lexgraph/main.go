// Command lexgraph ingests regulations, answers questions over them and
// screens business scenarios from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/brunobiangulo/lexgraph"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(func(cfg lexgraph.Config) (lexgraph.Engine, error) {
		return lexgraph.New(cfg)
	})
	root.SetOut(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
