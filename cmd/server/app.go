package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ZanzyTHEbar/eco-classifier/internal/classifier"
	"github.com/ZanzyTHEbar/eco-classifier/internal/config"
	"github.com/ZanzyTHEbar/eco-classifier/internal/database"
	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/imagestore"
	"github.com/ZanzyTHEbar/eco-classifier/internal/middleware"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/eco-classifier/internal/ratelimit"
	"github.com/ZanzyTHEbar/eco-classifier/internal/resilience"
	"github.com/ZanzyTHEbar/eco-classifier/internal/security"
	"github.com/ZanzyTHEbar/eco-classifier/internal/upload"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// app holds every long-lived component the commands share
type app struct {
	cfg     *config.Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	store     domain.Store
	service   *database.EventService
	uploader  imagestore.Uploader
	predictor classifier.Predictor
	pipeline  *upload.Pipeline

	redis       *ratelimit.RedisClient
	limiter     *ratelimit.RateLimiter
	security    *security.SecurityMiddleware
	compression *middleware.CompressionMiddleware
}

// openStore connects the configured event store
func openStore(ctx context.Context, cfg *config.Config) (domain.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		var client *mongo.Client
		err := resilience.Retry(ctx, "mongo", func(ctx context.Context) error {
			c, err := database.NewMongoConnection(ctx, cfg.MongoURI)
			client = c
			return err
		})
		if err != nil {
			return nil, err
		}
		store, err := database.NewMongoStore(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		db, err := database.NewDB(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return database.NewSQLiteStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// newServiceApp opens only the store, for commands that just read events
func newServiceApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  monitoring.NewLogger(cfg.SlogLevel()),
		metrics: monitoring.NewMetrics(),
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}
	a.store = store
	a.service = database.NewEventService(store, cfg.StoreDriver, cfg.Location, a.logger, a.metrics)
	return a, nil
}

// newApp wires the full HTTP service
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a, err := newServiceApp(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := a.initUpload(); err != nil {
		a.Close()
		return nil, err
	}

	redisClient, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("Continuing with in-memory rate limiting", "error", err)
	}
	a.redis = redisClient

	limitConfig := ratelimit.DefaultConfig()
	limitConfig.UploadLimit = cfg.UploadRatePerMin
	a.limiter = ratelimit.NewRateLimiter(redisClient, limitConfig, a.metrics)

	securityConfig := security.DefaultSecurityConfig()
	securityConfig.RequestTimeout = cfg.RequestTimeout
	a.security = security.NewSecurityMiddleware(securityConfig).WithMetrics(a.metrics)

	a.compression = middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig())

	return a, nil
}

// initUpload picks Cloudinary or local disk for images and the remote model
// service or the keyword stub for predictions.
func (a *app) initUpload() error {
	cfg := a.cfg

	if cfg.CloudinaryURL != "" {
		uploader, err := imagestore.NewCloudinaryUploader(cfg.CloudinaryURL, cfg.UploadFolder, a.logger, a.metrics)
		if err != nil {
			return err
		}
		a.uploader = uploader
	} else {
		uploader, err := imagestore.NewDiskUploader(filepath.Join(cfg.DataDir, "uploads"), cfg.PublicURL)
		if err != nil {
			return err
		}
		a.uploader = uploader
		slog.Warn("CLOUDINARY_URL not set, storing uploads on local disk", "dir", uploader.Dir())
	}

	if cfg.ModelServiceURL != "" {
		a.predictor = classifier.NewHTTPPredictor(classifier.HTTPConfig{
			BaseURL: cfg.ModelServiceURL,
			APIKey:  cfg.ModelAPIKey,
			Timeout: cfg.ModelTimeout,
		}, a.logger, a.metrics)
	} else {
		a.predictor = classifier.NewStubPredictor()
		slog.Warn("MODEL_SERVICE_URL not set, using keyword stub classifier")
	}

	a.pipeline = upload.NewPipeline(a.uploader, a.predictor, a.service, a.logger, a.metrics)
	slog.Info("Upload pipeline ready", "uploader", a.uploader.Name(), "predictor", a.predictor.Name())
	return nil
}

// Close releases the store, Redis and background goroutines
func (a *app) Close() {
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("Failed to close Redis client", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("Failed to close store", "driver", a.cfg.StoreDriver, "error", err)
		}
	}
}
