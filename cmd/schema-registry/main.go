// Package main is the entry point for the schema registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axonops/kafka-schema-registry/internal/api"
	"github.com/axonops/kafka-schema-registry/internal/cluster"
	"github.com/axonops/kafka-schema-registry/internal/compatibility"
	avrocompat "github.com/axonops/kafka-schema-registry/internal/compatibility/avro"
	jsoncompat "github.com/axonops/kafka-schema-registry/internal/compatibility/jsonschema"
	protocompat "github.com/axonops/kafka-schema-registry/internal/compatibility/protobuf"
	"github.com/axonops/kafka-schema-registry/internal/config"
	"github.com/axonops/kafka-schema-registry/internal/election"
	"github.com/axonops/kafka-schema-registry/internal/registry"
	"github.com/axonops/kafka-schema-registry/internal/schema"
	"github.com/axonops/kafka-schema-registry/internal/schema/avro"
	"github.com/axonops/kafka-schema-registry/internal/schema/jsonschema"
	"github.com/axonops/kafka-schema-registry/internal/schema/protobuf"
	"github.com/axonops/kafka-schema-registry/internal/storage"
	"github.com/axonops/kafka-schema-registry/internal/storage/cache"
	"github.com/axonops/kafka-schema-registry/internal/storage/kafkastore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kafka-schema-registry %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting schema registry",
		slog.String("version", version),
		slog.Any("bootstrap_servers", cfg.Kafka.BootstrapServers),
		slog.String("topic", cfg.Kafka.Topic),
		slog.String("address", cfg.Address()),
	)

	// Kafka log store
	store := kafkastore.New(kafkastore.Config{
		BootstrapServers:  cfg.Kafka.BootstrapServers,
		Topic:             cfg.Kafka.Topic,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		Timeout:           time.Duration(cfg.Kafka.Timeout) * time.Second,
		InitTimeout:       time.Duration(cfg.Kafka.InitTimeout) * time.Second,
		SASLMechanism:     cfg.Kafka.SASLMechanism,
		SASLUser:          cfg.Kafka.SASLUser,
		SASLPassword:      cfg.Kafka.SASLPassword,
		TLSEnabled:        cfg.Kafka.TLSEnabled,
		TLSSkipVerify:     cfg.Kafka.TLSSkipVerify,
	}, cache.New(), logger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), time.Duration(cfg.Kafka.InitTimeout)*time.Second)
	if err := store.Init(initCtx); err != nil {
		cancelInit()
		logger.Error("failed to initialize log store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cancelInit()

	// Schema parsers
	schemaRegistry := schema.NewRegistry()
	schemaRegistry.Register(avro.NewParser())
	schemaRegistry.Register(protobuf.NewParser())
	schemaRegistry.Register(jsonschema.NewParser())

	// Compatibility checker
	compatChecker := compatibility.NewChecker()
	compatChecker.Register(storage.SchemaTypeAvro, avrocompat.NewChecker())
	compatChecker.Register(storage.SchemaTypeProtobuf, protocompat.NewChecker())
	compatChecker.Register(storage.SchemaTypeJSON, jsoncompat.NewChecker())

	self := &cluster.Identity{
		Host:              cfg.AdvertisedHost(),
		Port:              cfg.AdvertisedPort(),
		Scheme:            cfg.Server.Scheme,
		LeaderEligibility: cfg.Server.LeaderEligibility,
	}

	reg := registry.New(store, schemaRegistry, compatChecker, self, registry.Options{
		DefaultCompatibility: compatibility.Level(cfg.Compatibility.DefaultLevel),
		ModeMutability:       cfg.Mode.Mutability,
		MaxIDRetries:         cfg.Kafka.WriteMaxRetries,
		InitTimeout:          time.Duration(cfg.Kafka.InitTimeout) * time.Second,
		ParseCacheSize:       cfg.SchemaCache.Size,
		ParseCacheExpiry:     time.Duration(cfg.SchemaCache.ExpirySecs) * time.Second,
	})

	server := api.NewServer(cfg, reg, logger)

	// The elector pushes every leader change into the registry and the
	// leadership gauge.
	elector := election.New(election.Config{
		BootstrapServers:  cfg.Kafka.BootstrapServers,
		Topic:             cfg.Election.Topic,
		GroupID:           cfg.Election.GroupID,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		ElectionTimeout:   time.Duration(cfg.Election.Timeout) * time.Second,
		ElectionDelay:     time.Duration(cfg.Election.Delay) * time.Second,
		SASLMechanism:     cfg.Kafka.SASLMechanism,
		SASLUser:          cfg.Kafka.SASLUser,
		SASLPassword:      cfg.Kafka.SASLPassword,
		TLSEnabled:        cfg.Kafka.TLSEnabled,
		TLSSkipVerify:     cfg.Kafka.TLSSkipVerify,
	}, self, func(ctx context.Context, leader *cluster.Identity) error {
		server.Metrics().SetLeader(self.Equal(leader))
		return reg.SetLeader(ctx, leader)
	}, logger)

	electCtx, cancelElect := context.WithCancel(context.Background())
	defer cancelElect()
	if err := elector.Start(electCtx); err != nil {
		logger.Error("failed to start leader election", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutting down", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}

		// Leave the group first so another node can take over cleanly.
		elector.Stop()

		if err := store.Close(); err != nil {
			logger.Error("log store close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
