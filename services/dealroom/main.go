// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/logging"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/calendar"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/docstore"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/extract"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/handlers"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/meetings"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/routes"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/workers"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const serviceVersion = "0.4.0"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "capmatch-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("dealroom-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// oauthEndpoints builds the per-provider refresh endpoints from the
// environment. Providers without credentials are simply not offered.
func oauthEndpoints() map[string]calendar.OAuthEndpoint {
	endpoints := make(map[string]calendar.OAuthEndpoint)
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		endpoints["google"] = calendar.OAuthEndpoint{
			TokenURL:     "https://oauth2.googleapis.com/token",
			ClientID:     id,
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		}
	}
	if id := os.Getenv("MICROSOFT_CLIENT_ID"); id != "" {
		endpoints["microsoft"] = calendar.OAuthEndpoint{
			TokenURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			ClientID:     id,
			ClientSecret: os.Getenv("MICROSOFT_CLIENT_SECRET"),
		}
	}
	return endpoints
}

func main() {
	port := os.Getenv("DEALROOM_PORT")
	if port == "" {
		port = "12310"
	}

	logWrapper := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("DEALROOM_LOG_LEVEL")),
		Service: "dealroom",
		LogDir:  os.Getenv("DEALROOM_LOG_DIR"),
	})
	defer logWrapper.Close()
	logger := logWrapper.Slog()
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	jwtSecret := os.Getenv("DEALROOM_JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("FATAL: DEALROOM_JWT_SECRET is required")
	}

	dataDir := os.Getenv("DEALROOM_DATA_DIR")
	if dataDir == "" {
		dataDir = "/data/dealroom"
	}
	records, err := store.Open(store.Config{
		Path:       dataDir,
		SyncWrites: true,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("FATAL: Could not open the record store: %v", err)
	}
	defer records.Close()

	endpoints := oauthEndpoints()
	tokens := calendar.NewTokenManager(calendar.NewRecordConnectionStore(records), endpoints, logger)

	var providers []calendar.Provider
	if _, ok := endpoints["google"]; ok {
		providers = append(providers, calendar.NewGoogle())
		slog.Info("Google Calendar sync enabled")
	}
	if _, ok := endpoints["microsoft"]; ok {
		providers = append(providers, calendar.NewMicrosoft())
		slog.Info("Microsoft Graph calendar sync enabled")
	}
	if len(providers) == 0 {
		slog.Info("No calendar credentials configured. Meetings run without calendar sync.")
	}

	meetingSvc := meetings.NewService(records, tokens, providers, logger)

	notifyStore := notify.NewRecordStore(records)
	rules := notify.DefaultRules
	if path := os.Getenv("DEALROOM_NOTIFY_RULES"); path != "" {
		rules, err = notify.LoadRules(path)
		if err != nil {
			log.Fatalf("FATAL: Could not load notification rules: %v", err)
		}
	}
	access := notify.NewRecordAccessResolver(records)
	fanout := notify.NewFanout(notifyStore, access, access, access, rules, logger)

	var extractor *extract.Extractor
	if completer, err := extract.NewOpenAICompleter(); err != nil {
		slog.Warn("AI extraction disabled", "error", err)
	} else {
		extractor = extract.NewExtractor(completer, logger)
	}

	var bucket handlers.Bucket
	if bucketName := os.Getenv("DEALROOM_GCS_BUCKET"); bucketName != "" {
		gcs, err := docstore.NewClient(context.Background(), bucketName, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
		if err != nil {
			log.Fatalf("FATAL: Could not create the GCS client: %v", err)
		}
		defer gcs.Close()
		bucket = gcs
		slog.Info("Document storage enabled", "bucket", bucketName)
	} else {
		slog.Info("DEALROOM_GCS_BUCKET not set. Document endpoints disabled.")
	}

	workerInterval := workers.DefaultInterval
	if v := os.Getenv("DEALROOM_WORKER_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			workerInterval = parsed
		} else {
			slog.Warn("Invalid DEALROOM_WORKER_INTERVAL, using default", "value", v, "default", workerInterval)
		}
	}
	runner := workers.NewRunner(workerInterval, []workers.Job{
		workers.NewMeetingReminders(meetingSvc, fanout, workers.DefaultReminderWindow),
		workers.NewResumeNudges(records, fanout, workers.DefaultNudgeThreshold, workers.DefaultNudgeAge, logger),
	}, logger)
	runner.Start(context.Background())
	defer runner.Stop()

	registry := handlers.NewRegistry(records, logger)
	defer registry.Close()

	router := gin.Default()
	router.Use(otelgin.Middleware("dealroom-service"))

	allowedOrigin := os.Getenv("DEALROOM_ALLOWED_ORIGIN")
	if allowedOrigin == "" {
		allowedOrigin = "*"
		slog.Warn("DEALROOM_ALLOWED_ORIGIN not set. Allowing all origins.")
	}

	routes.SetupRoutes(router, routes.Deps{
		Version:       serviceVersion,
		AllowedOrigin: allowedOrigin,
		JWTSecret:     []byte(jwtSecret),
		Store:         records,
		Registry:      registry,
		Meetings:      meetingSvc,
		Fanout:        fanout,
		Feeds:         handlers.NewFeeds(notifyStore, logger),
		Extractor:     extractor,
		Bucket:        bucket,
	})

	log.Println("Starting the dealroom server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
