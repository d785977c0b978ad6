package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/labreportparser/internal/config"
	"github.com/Lllllllleong/labreportparser/internal/services"
)

var (
	handler  http.Handler
	once     sync.Once
	initErr  error
	logLevel = new(slog.LevelVar)
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// "ParseMedicalPDF" is the entry point name configured in GCP.
	functions.HTTP("ParseMedicalPDF", parseMedicalPDF)
}

// main serves the registered function when run as a container. Cloud
// Functions deployments supply their own entry point.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := funcframework.Start(strconv.Itoa(cfg.Port)); err != nil {
		slog.Error("Function framework exited", "error", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context) (http.Handler, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	logLevel.Set(cfg.SlogLevel())

	p, err := services.NewParser(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return services.NewHTTPHandler(p, cfg.APIKey), nil
}

func parseMedicalPDF(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		handler, initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
