package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bassista/stackup/internal/cli"
	"github.com/bassista/stackup/internal/logger"
	"github.com/bassista/stackup/internal/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := notify.New(os.Getenv, logger.Logger)
	defer notifier.Flush()

	var err error
	notifier.Guard(func() {
		err = cli.NewRootCommand(cli.DefaultFactory(notifier)).ExecuteContext(ctx)
	})
	if err != nil {
		logger.WithComponent("main").Error(err)
		notifier.Flush()
		stop()
		os.Exit(1)
	}
}
