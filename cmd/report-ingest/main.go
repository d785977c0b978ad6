package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/labreportparser/internal/config"
	"github.com/Lllllllleong/labreportparser/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	ingestInstance *services.IngestFunction
	once           sync.Once
	initErr        error
	logLevel       = new(slog.LevelVar)
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	functions.CloudEvent("ParseUploadedReport", parseUploadedReport)
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

func setup(ctx context.Context) (*services.IngestFunction, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	logLevel.Set(cfg.SlogLevel())

	p, err := services.NewParser(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return services.NewIngest(p)
}

// parseUploadedReport runs on every object finalized in the upload bucket.
func parseUploadedReport(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestInstance, initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID())
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return ingestInstance.Process(ctx, gcsEvent)
}
