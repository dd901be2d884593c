// Command executor polls for experiments ready to run and drives each one
// through internal/executor to the tool-invocation boundary. Cron/schedule
// consultation is an external collaborator concern (see DESIGN.md); this
// binary picks up newly-active experiments by polling instead.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nembal/fullsend-fabric/internal/config"
	"github.com/nembal/fullsend-fabric/internal/executor"
	"github.com/nembal/fullsend-fabric/internal/experiment"
	"github.com/nembal/fullsend-fabric/internal/runtime"
	"github.com/nembal/fullsend-fabric/internal/store"
)

// tools is the Executor's injection seam: the concrete tool bodies an
// experiment invokes are an external collaborator (spec §1, "Individual
// domain tools invoked by the Executor (opaque callables)"). A deployment
// populates this registry before calling Run.
var tools = map[string]executor.Tool{}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("executor: load config: %v", err)
	}

	svc := runtime.New("executor", cfg.LogDir, cfg.Debug)
	defer svc.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	s := store.New(redisClient)

	x := executor.New(s, executor.NewStaticLoader(tools), executor.Config{
		ToolTimeout:    time.Duration(cfg.Executor.ToolExecutionTimeoutSeconds) * time.Second,
		RetryAttempts:  cfg.Executor.RetryAttempts,
		RetryBaseDelay: secondsToDuration(cfg.Executor.RetryBaseDelaySeconds),
		RetryMaxDelay:  secondsToDuration(cfg.Executor.RetryMaxDelaySeconds),
		ResultsChannel: cfg.Channels.ExperimentResults,
	})

	interval := time.Duration(cfg.Executor.PollIntervalSeconds) * time.Second

	if err := svc.Run(context.Background(), func(ctx context.Context) error {
		pollOnce(ctx, svc, s, x)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pollOnce(ctx, svc, s, x)
			case <-ctx.Done():
				return nil
			}
		}
	}); err != nil {
		log.Fatalf("executor: %v", err)
	}
}

// pollOnce runs every active experiment that hasn't started yet. Once
// Run transitions an experiment to "running" it drops out of this set on
// the next poll, so a single poll tick never double-starts a run.
func pollOnce(ctx context.Context, svc *runtime.Service, s store.Store, x *executor.Executor) {
	active, err := experiment.ListActive(ctx, s)
	if err != nil {
		svc.LogError("list active experiments: %v", err)
		return
	}

	for _, exp := range active {
		if exp.State != experiment.StateActive && exp.State != "" {
			continue
		}
		if exp.Tool == "" {
			continue
		}
		svc.LogInfo("starting run for %s (tool=%s)", exp.ID, exp.Tool)
		if err := x.Run(ctx, exp.ID); err != nil {
			svc.LogError("run %s: %v", exp.ID, err)
		}
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
