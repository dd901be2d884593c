// Command redisagent is the Redis Agent: it ingests metric events,
// maintains per-experiment aggregates, and periodically evaluates success/
// failure criteria, raising cooldown-deduplicated alerts back onto
// to_orchestrator.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nembal/fullsend-fabric/internal/alerts"
	"github.com/nembal/fullsend-fabric/internal/bus"
	"github.com/nembal/fullsend-fabric/internal/config"
	"github.com/nembal/fullsend-fabric/internal/envelope"
	"github.com/nembal/fullsend-fabric/internal/metrics"
	"github.com/nembal/fullsend-fabric/internal/router"
	"github.com/nembal/fullsend-fabric/internal/runtime"
	"github.com/nembal/fullsend-fabric/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("redisagent: load config: %v", err)
	}

	svc := runtime.New("redisagent", cfg.LogDir, cfg.Debug)
	defer svc.Close()

	b, err := bus.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("redisagent: connect bus: %v", err)
	}
	defer b.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	s := store.New(redisClient)

	gate := alerts.NewGate(s, cfg.Channels.ToOrchestrator, time.Duration(cfg.RedisAgent.AlertCooldownSeconds)*time.Second)
	monitor := metrics.New(s, gate)

	r := router.New(b)
	r.Register(cfg.Channels.Metrics, func(ctx context.Context, env *envelope.Envelope) error {
		var raw map[string]interface{}
		if err := env.UnmarshalPayload(&raw); err != nil {
			svc.LogError("malformed metric envelope: %v", err)
			return nil
		}
		if err := monitor.ProcessMetric(ctx, raw); err != nil {
			svc.LogError("process metric: %v", err)
		}
		return nil
	})

	thresholdInterval := time.Duration(cfg.RedisAgent.ThresholdCheckIntervalSeconds) * time.Second
	summaryInterval := time.Duration(cfg.RedisAgent.SummaryIntervalSeconds) * time.Second

	if err := svc.Run(context.Background(), func(ctx context.Context) error {
		if err := r.Start(ctx); err != nil {
			return err
		}
		go monitor.RunSummaryLoop(ctx, summaryInterval)
		monitor.RunThresholdLoop(ctx, thresholdInterval)
		return nil
	}); err != nil {
		log.Fatalf("redisagent: %v", err)
	}
}
