package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/sebas/holepunch/internal/config"
	"github.com/sebas/holepunch/internal/device"
	"github.com/sebas/holepunch/internal/logger"
	"github.com/sebas/holepunch/internal/orchestrator"
	"github.com/sebas/holepunch/internal/randgen"
)

func main() {
	cfg := config.Load()

	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	if cfg.BearerToken == "" {
		slog.Error("no bearer token supplied (-token or RP_TOKEN)")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("remote-play negotiation failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	session, err := orchestrator.Init(orchestrator.Config{
		BearerToken:    cfg.BearerToken,
		MobilePushHost: cfg.MobilePushHost,
		WebHost:        cfg.WebHost,
		STUNServer:     cfg.STUNServer,
	})
	if err != nil {
		return err
	}
	defer session.Fini()

	slog.Info("creating session")
	if err := session.Create(ctx); err != nil {
		return err
	}

	deviceUID, err := device.GenerateClientDeviceUID(randgen.Bytes(16))
	if err != nil {
		return err
	}

	gen := orchestrator.ConsoleGen(cfg.ConsoleGeneration)
	slog.Info("starting session", "device_uid", deviceUID, "console_gen", gen)
	if err := session.Start(ctx, deviceUID, gen); err != nil {
		return err
	}

	slog.Info("punching control hole")
	ctrlConn, err := session.PunchHole(orchestrator.PortCtrl)
	if err != nil {
		return err
	}
	slog.Info("control socket established", "local_addr", ctrlConn.LocalAddr())

	slog.Info("punching data hole")
	dataConn, err := session.PunchHole(orchestrator.PortData)
	if err != nil {
		return err
	}
	slog.Info("data socket established", "local_addr", dataConn.LocalAddr())

	return nil
}
