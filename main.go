package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v2"

	"yogai/db"
	"yogai/detect"
	"yogai/feedback"
	yhttp "yogai/http"
	"yogai/monitoring"
	"yogai/pose"
)

type Config struct {
	Server   yhttp.ServerConfig `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Estimator struct {
		Enabled                bool    `yaml:"enabled"`
		PythonBin              string  `yaml:"python_bin"`
		Script                 string  `yaml:"script"`
		ModelComplexity        int     `yaml:"model_complexity"`
		MinDetectionConfidence float64 `yaml:"min_detection_confidence"`
	} `yaml:"estimator"`
	Detect struct {
		ModelDir    string            `yaml:"model_dir"`
		Poses       []detect.PoseSpec `yaml:"poses"`
		DemoPoses   []string          `yaml:"demo_poses"`
		MaxSessions int               `yaml:"max_sessions"`
		SessionTTL  time.Duration     `yaml:"session_ttl"`
	} `yaml:"detect"`
	Recorder db.RecorderConfig `yaml:"recorder"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	// 1. Load config
	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := buildLogger(config)
	defer logger.Sync()

	// 2. Initialize database
	if err := db.InitDB(config.Database.Path); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	logger.Info("database initialized", zap.String("path", config.Database.Path))

	// 3. Load pose artifacts and watch for replacements
	specs := config.Detect.Poses
	if len(specs) == 0 {
		specs = []detect.PoseSpec{detect.DefaultPlankSpec()}
	}
	registry, err := detect.NewRegistry(config.Detect.ModelDir, specs, logger)
	if err != nil {
		logger.Fatal("failed to load pose registry", zap.Error(err))
	}
	if err := registry.Watch(); err != nil {
		logger.Warn("artifact watch unavailable", zap.Error(err))
	}

	// 4. Start the landmark estimator, demo-only service when it is unavailable
	estimator := buildEstimator(config, logger)

	// 5. Assemble the detection pipeline
	demoPoses := config.Detect.DemoPoses
	if len(demoPoses) == 0 {
		demoPoses = detect.DefaultDemoPoses()
	}
	manager := detect.NewManager(registry, estimator, detect.ManagerConfig{
		MaxSessions: config.Detect.MaxSessions,
		SessionTTL:  config.Detect.SessionTTL,
		DemoPoses:   demoPoses,
	}, logger)

	recorder := db.NewDetectionRecorder(config.Recorder, db.Store{}, logger)
	recorder.Start()

	metrics := monitoring.NewPipelineMetrics()

	// 6. Live practice hub and stats monitor (the monitor owns the hub loop)
	hub := monitoring.NewPracticeHub(manager, recorder, metrics, logger)
	monitor := monitoring.NewLiveMonitor(hub, logger)
	if err := monitor.Start(); err != nil {
		logger.Fatal("failed to start live monitor", zap.Error(err))
	}

	// 7. HTTP server
	api := yhttp.NewAPI(yhttp.APIConfig{
		Manager:   manager,
		Store:     db.Store{},
		Catalog:   registry,
		Estimator: estimator,
		Recorder:  recorder,
		Metrics:   metrics,
		Monitor:   monitor,
		Localizer: feedback.NewLocalizer(),
		Logger:    logger,
	})
	server := yhttp.NewServer(config.Server, api, hub, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	logger.Info("service started",
		zap.String("addr", server.Addr()),
		zap.Strings("supported_poses", registry.Poses()),
		zap.Strings("demo_poses", demoPoses))

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := monitor.Stop(); err != nil {
		logger.Error("failed to stop live monitor", zap.Error(err))
	}
	recorder.Stop()
	if err := registry.Close(); err != nil {
		logger.Error("failed to close registry", zap.Error(err))
	}
	if err := estimator.Close(); err != nil {
		logger.Error("failed to close estimator", zap.Error(err))
	}
	if err := db.CloseDB(); err != nil {
		logger.Error("failed to close database", zap.Error(err))
	}

	logger.Info("exiting")
}

func loadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}
	if config.Database.Path == "" {
		config.Database.Path = "./data/yogai.db"
	}
	if config.Detect.ModelDir == "" {
		config.Detect.ModelDir = "./models"
	}
	return &config, nil
}

func buildLogger(config *Config) *zap.Logger {
	level := zapcore.InfoLevel
	if config.Log.Level != "" {
		parsed, err := zapcore.ParseLevel(config.Log.Level)
		if err == nil {
			level = parsed
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if config.Log.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.Log.File,
			MaxSize:    orDefault(config.Log.MaxSizeMB, 100),
			MaxBackups: orDefault(config.Log.MaxBackups, 5),
			MaxAge:     orDefault(config.Log.MaxAgeDays, 30),
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)
	return zap.New(core, zap.AddCaller())
}

func buildEstimator(config *Config, logger *zap.Logger) pose.Estimator {
	if !config.Estimator.Enabled {
		logger.Warn("landmark estimator disabled, detection runs in demo mode only")
		return pose.Unavailable(errors.New("estimator disabled in config"))
	}

	sidecar, err := pose.NewSidecar(pose.SidecarConfig{
		PythonBin:              config.Estimator.PythonBin,
		Script:                 config.Estimator.Script,
		ModelComplexity:        config.Estimator.ModelComplexity,
		MinDetectionConfidence: config.Estimator.MinDetectionConfidence,
	}, logger)
	if err != nil {
		logger.Warn("landmark estimator unavailable, detection runs in demo mode only", zap.Error(err))
		return pose.Unavailable(err)
	}
	return sidecar
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
