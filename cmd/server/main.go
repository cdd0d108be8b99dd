package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/fire-api/internal/config"
	"github.com/Brownie44l1/fire-api/internal/handlers"
	"github.com/Brownie44l1/fire-api/internal/logger"
	"github.com/Brownie44l1/fire-api/internal/model"
	"github.com/Brownie44l1/fire-api/internal/predict"
	"github.com/Brownie44l1/fire-api/internal/render"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// If running from cmd/server, go up two levels
	if wd, err := os.Getwd(); err == nil && filepath.Base(wd) == "server" {
		if err := os.Chdir(filepath.Join(wd, "../..")); err != nil {
			return err
		}
	}

	cfg, err := config.Load(config.ParseConfigFlag())
	if err != nil {
		return err
	}
	if port := os.Getenv("PORT"); port != "" {
		if cfg.Server.Port, err = strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
	}

	base, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	log := base.WithField("component", "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	modelLog := base.WithField("component", "model")
	rt := model.NewRuntime(cfg.Model.Library, cfg.Model.Device, modelLog)
	defer rt.Close()

	handle, err := model.Load(ctx, modelLog, model.DefaultStrategies(rt, model.Sources{
		ModelPath:     cfg.Model.Path,
		Checkpoint:    cfg.Model.Checkpoint,
		Backbone:      cfg.Model.Backbone,
		Head:          cfg.Model.Head,
		ConfThreshold: cfg.Model.ConfThreshold,
		IOUThreshold:  cfg.Model.IOUThreshold,
	}, modelLog)...)
	if err != nil {
		return err
	}
	defer handle.Close()

	visualizer := render.NewVisualizer(render.Options{
		FontPath:       cfg.Render.FontPath,
		FontSize:       cfg.Render.FontSize,
		BannerFontSize: cfg.Render.BannerFontSize,
	}, base.WithField("component", "render"))

	svc := predict.NewService(handle, visualizer, cfg.Server.MaxBatch, base.WithField("component", "predict"))
	handler := handlers.NewHandler(svc, handle, handlers.Options{
		MaxUploadMB:    cfg.Server.MaxUploadMB,
		MaxBatch:       cfg.Server.MaxBatch,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, base.WithField("component", "http"))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Routes(),
	}

	log.WithFields(logrus.Fields{
		"port":    cfg.Server.Port,
		"tier":    handle.Tier(),
		"device":  handle.Device(),
		"classes": handle.Labels().Names(),
	}).Info("Server starting")
	log.Infof("Upload test: curl -X POST -F \"file=@fire.jpg\" http://localhost:%d/predict", cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
