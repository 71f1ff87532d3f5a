package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"quant-agent-go/internal/config"
	"quant-agent-go/internal/database"
	"quant-agent-go/internal/logger"
)

func main() {
	file := flag.String("file", "./configs/strategies.yml", "strategy catalog to load")
	flag.Parse()

	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.New(cfg.Logger, "seed")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	strategies, err := database.LoadStrategies(*file)
	if err != nil {
		log.Fatal("Failed to load strategies", zap.String("file", *file), zap.Error(err))
	}
	if err := database.NewRepository(db, log).SeedStrategies(context.Background(), strategies); err != nil {
		log.Fatal("Failed to seed strategies", zap.Error(err))
	}
	log.Info("Strategy catalog seeded", zap.Int("count", len(strategies)))
}
