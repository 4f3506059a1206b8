package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grandcat/zeroconf"

	"github.com/frostdev-ops/uc-bridge-go/internal/config"
	"github.com/frostdev-ops/uc-bridge-go/internal/controller"
	"github.com/frostdev-ops/uc-bridge-go/internal/server"
	"github.com/frostdev-ops/uc-bridge-go/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.WithField("version", cfg.Integration.Version).Info("Starting uc-bridge")

	ctrl := controller.New(cfg, log)
	srv := server.New(cfg, ctrl, log)

	var mdns *zeroconf.Server
	if !cfg.Integration.DisableMDNS {
		mdns, err = zeroconf.Register(
			cfg.Integration.DriverID,
			"_uc-integration._tcp",
			"local.",
			cfg.Server.Port,
			[]string{
				"name=" + cfg.Integration.Name,
				"developer=" + cfg.Integration.Developer,
				"ver=" + cfg.Integration.Version,
				"ws_path=/ws",
			},
			nil,
		)
		if err != nil {
			log.WithError(err).Warn("mDNS advertisement failed")
		} else {
			log.WithField("service", "_uc-integration._tcp").Info("mDNS service registered")
		}
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		log.WithField("signal", sig.String()).Info("Shutting down")

		if mdns != nil {
			mdns.Shutdown()
		}
		ctrl.Stop()
		os.Exit(0)
	}()

	if err := srv.Run(); err != nil {
		log.WithError(err).Fatal("Listener failed")
	}
}
