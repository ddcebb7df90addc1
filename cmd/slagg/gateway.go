package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/uzulla/slagg/pkg/config"
	"github.com/uzulla/slagg/pkg/handlers"
	"github.com/uzulla/slagg/pkg/highlight"
	"github.com/uzulla/slagg/pkg/logger"
	"github.com/uzulla/slagg/pkg/pipeline"
	"github.com/uzulla/slagg/pkg/supervisor"
	"github.com/uzulla/slagg/pkg/team"
)

const configPath = ".env.json"

func runGateway(debug bool) error {
	level := logger.INFO
	if debug {
		level = logger.DEBUG
	}
	log := logger.New(os.Stdout, level)

	cfg, dropped, err := config.Load(configPath)
	if err != nil {
		log.Error("startup", err.Error())
		return err
	}
	for _, d := range dropped {
		log.WarnF("startup", "team dropped during validation", map[string]any{"team": d.Name, "reason": d.Reason})
	}

	matcher, err := highlight.New(cfg.Highlight.Keywords)
	if err != nil {
		log.Error("startup", err.Error())
		return err
	}

	pl := pipeline.New(log)
	if err := registerHandlers(pl, cfg, matcher); err != nil {
		log.Error("startup", err.Error())
		return err
	}

	sup := supervisor.New(team.NewSlackTransport, log)
	sup.SetSink(pl)

	if err := sup.Initialize(cfg.Teams); err != nil {
		log.Error("startup", err.Error())
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.ConnectAll(ctx); err != nil {
		log.Error("startup", err.Error())
		return err
	}

	log.InfoF("startup", "fleet connected", map[string]any{
		"connected": sup.ConnectedCount(),
		"total":     sup.TotalCount(),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println()
	log.Info("shutdown", "signal received, shutting down")
	cancel()
	sup.Shutdown()
	log.Info("shutdown", "clean shutdown complete")

	return nil
}

func registerHandlers(pl *pipeline.Pipeline, cfg *config.Config, matcher *highlight.Matcher) error {
	if err := pl.RegisterHandler(handlers.NewConsole(os.Stdout, matcher, cfg.Handlers.Console.Enabled)); err != nil {
		return err
	}
	if err := pl.RegisterHandler(handlers.NewNotification(cfg.Handlers.Notification.Enabled)); err != nil {
		return err
	}
	if err := pl.RegisterHandler(handlers.NewSpeech(cfg.Handlers.Speech.Enabled, cfg.Handlers.Speech.Command)); err != nil {
		return err
	}
	return nil
}
