package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classguard/monitor/alert"
	"github.com/classguard/monitor/api"
	"github.com/classguard/monitor/config"
	"github.com/classguard/monitor/device"
	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/metrics"
	"github.com/classguard/monitor/mqtt"
	"github.com/classguard/monitor/storage"
	"github.com/classguard/monitor/transform"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath,
		cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Close()

	transformer, err := transform.NewManager(cfg.Transforms)
	if err != nil {
		logger.Error("failed to initialize payload normalizers: %v", err)
		os.Exit(1)
	}

	storageManager, err := storage.NewManager(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage: %v", err)
		os.Exit(1)
	}
	defer storageManager.Close()

	evaluator := alert.NewEvaluator(cfg.Thresholds, cfg.Alerting)

	tracker := device.NewTracker(cfg.Alerting.OfflineAfter)
	defer tracker.Stop()
	metrics.SetOnlineCounter(tracker.OnlineCount)

	mqttManager, err := mqtt.NewManager(cfg, transformer, evaluator, tracker, storageManager)
	if err != nil {
		logger.Error("failed to initialize MQTT manager: %v", err)
		os.Exit(1)
	}

	if err := mqttManager.Start(); err != nil {
		logger.Error("failed to start MQTT pipeline: %v", err)
		os.Exit(1)
	}
	defer mqttManager.Stop()

	server := api.NewServer(cfg, evaluator, tracker, storageManager, mqttManager)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server failed: %v", err)
		}
	}()

	// Thresholds, normalizers and the log level apply live; MQTT, storage and
	// HTTP changes take effect on restart.
	err = config.WatchConfig(*configPath, func(newCfg *config.Config) error {
		logger.Info("applying updated configuration...")

		evaluator.SetThresholds(newCfg.Thresholds)

		for prefix, transformCfg := range newCfg.Transforms {
			if err := transformer.Reload(prefix, transformCfg); err != nil {
				logger.Error("failed to reload normalizer %s: %v", prefix, err)
				// keep going, other normalizers may still apply
			}
		}

		if err := logger.SetLevel(newCfg.Logger.Level); err != nil {
			logger.Warn("%v", err)
		}

		logger.Info("MQTT, storage and HTTP changes take effect after restart")
		return nil
	})
	if err != nil {
		logger.Warn("failed to watch config file: %v", err)
	} else {
		logger.Info("watching config file for changes")
	}

	logger.Info("classguard monitor started, waiting for device telemetry...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed: %v", err)
	}

	logger.Info("service stopped")
}
