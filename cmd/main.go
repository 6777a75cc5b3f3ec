package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/enginelhq/enginel-backend/internal/bom"
	"github.com/enginelhq/enginel-backend/internal/db"
	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/handlers"
	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/pipeline"
	"github.com/enginelhq/enginel-backend/internal/repos"
	"github.com/enginelhq/enginel-backend/internal/server"
	"github.com/enginelhq/enginel-backend/internal/services"
	"github.com/enginelhq/enginel-backend/internal/taskmon"
	"github.com/enginelhq/enginel-backend/internal/temporalx"
	"github.com/enginelhq/enginel-backend/internal/temporalx/temporalworker"
	"github.com/enginelhq/enginel-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Redis (optional)
	rdb := db.NewRedisClient(log)

	// Temporal (optional; nil falls back to in-process runs)
	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Temporal init failed", "error", err)
		os.Exit(1)
	}

	// Repos
	log.Info("Setting up Repos from main...")
	seriesRepo := repos.NewDesignSeriesRepo(thePG, log)
	assetRepo := repos.NewDesignAssetRepo(thePG, log)
	jobRepo := repos.NewAnalysisJobRepo(thePG, log)
	nodeRepo := repos.NewAssemblyNodeRepo(thePG, log)

	// Geometry kernel
	kernelName := utils.GetEnv("GEOMETRY_KERNEL", "stub", log)
	var kernel geometry.Kernel
	switch kernelName {
	case "stub":
		kernel = geometry.NewStubKernel()
	default:
		log.Warn("Unknown GEOMETRY_KERNEL; using stub", "kernel", kernelName)
		kernel = geometry.NewStubKernel()
	}

	// Services
	log.Info("Setting up Services from main...")
	bucketService, err := services.NewBucketServiceFromEnv(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	bomBuilder := bom.NewBuilder(nodeRepo, log)
	monitor := taskmon.NewMonitor(temporalClient, rdb, jobRepo, assetRepo, log)
	progressSink := services.NewRedisProgressSink(log, rdb)

	pipelineRunner := pipeline.NewRunner(pipeline.Config{
		Assets:   assetRepo,
		Jobs:     jobRepo,
		Nodes:    nodeRepo,
		BOM:      bomBuilder,
		Kernel:   kernel,
		Store:    bucketService,
		Progress: progressSink,
		Metrics:  monitor,
		Log:      log,
	})

	processingService, err := services.NewProcessingService(log, temporalClient, pipelineRunner)
	if err != nil {
		log.Error("Could not init ProcessingService", "error", err)
		os.Exit(1)
	}
	if temporalClient == nil {
		// in-process runs are cancelled through the service registry
		monitor.AttachRunCanceller(processingService)
	}
	assetService := services.NewAssetService(log, seriesRepo, assetRepo, nodeRepo, bucketService, processingService, kernel)

	// Handlers
	log.Info("Setting up handlers from main...")
	assetsHandler := handlers.NewAssetsHandler(assetService)
	tasksHandler := handlers.NewTasksHandler(monitor)
	unitsHandler := handlers.NewUnitsHandler()

	// Router
	router := server.NewRouter(server.RouterConfig{
		Log:           log,
		AssetsHandler: assetsHandler,
		TasksHandler:  tasksHandler,
		UnitsHandler:  unitsHandler,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// Temporal worker
	if temporalClient != nil {
		workerRunner, err := temporalworker.NewRunner(log, temporalClient, pipelineRunner)
		if err != nil {
			log.Error("Could not init Temporal worker", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			if err := workerRunner.Start(ctx); err != nil {
				return fmt.Errorf("temporal worker: %w", err)
			}
			<-ctx.Done()
			return ctx.Err()
		})
	}

	// HTTP server
	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{Addr: ":" + port, Handler: router}
	g.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("Shutting down with error", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}
