package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-api/internal/analyzer"
	"github.com/Brownie44l1/plant-api/internal/config"
	"github.com/Brownie44l1/plant-api/internal/events"
	"github.com/Brownie44l1/plant-api/internal/handlers"
	"github.com/Brownie44l1/plant-api/internal/httpserver"
	"github.com/Brownie44l1/plant-api/internal/logging"
	"github.com/Brownie44l1/plant-api/internal/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logging.Setup(cfg.Log)

	if err := run(cfg); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
	logrus.Info("Server stopped")
}

func run(cfg *config.Config) error {
	gin.SetMode(cfg.Server.Mode)

	predictor, closePredictor, err := newPredictor(cfg.Model)
	if err != nil {
		return fmt.Errorf("initialize predictor: %w", err)
	}
	defer closePredictor()

	publisher := events.NewPublisher(cfg.Kafka)
	defer func() {
		if err := publisher.Close(); err != nil {
			logrus.Errorf("Failed to close event publisher: %v", err)
		}
	}()

	a := analyzer.New(predictor, analyzer.Options{
		Guarded:    cfg.Analyze.Guarded,
		AutoOrient: cfg.Analyze.AutoOrient,
	})
	handler := handlers.NewHandler(a, publisher, handlers.Options{
		FormField: cfg.Analyze.FormField,
		Guarded:   cfg.Analyze.Guarded,
	})
	router := handlers.NewRouter(handler, handlers.RouterOptions{
		AllowOrigins:   cfg.CORS.AllowOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	srv := httpserver.New(cfg.Server, router)

	logrus.Infof("Server starting on %s (gin %s mode)", srv.Addr(), gin.Mode())
	logrus.Infof("Predictor: %s", predictor.Name())
	logrus.Info("Endpoints:")
	logrus.Info("  GET  /health  - Health check")
	logrus.Info("  POST /analyze - Analyze an uploaded plant image")
	logrus.Info("  POST /predict - Predict from a normalized tensor")
	logrus.Infof("Upload test: curl -X POST -F \"%s=@leaf.jpg\" http://localhost:%s/analyze", cfg.Analyze.FormField, cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

// newPredictor loads the ONNX model when one is configured and falls back to
// the demo predictor otherwise.
func newPredictor(cfg config.ModelConfig) (model.Predictor, func(), error) {
	if cfg.Path == "" {
		return model.NewDemoPredictor(), func() {}, nil
	}

	logrus.Infof("Loading model from: %s", cfg.Path)

	server, err := model.NewServer(cfg.Path, cfg.MetadataPath, cfg.SharedLibrary)
	if err != nil {
		return nil, nil, err
	}
	logrus.Infof("Classes: %v", server.Metadata.Classes)
	return server, server.Close, nil
}
