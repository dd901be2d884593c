// Command builder wires the Builder's subprocess contract: it consumes
// tool_prd envelopes off builder_tasks, hands the PRD to the Builder
// subprocess, registers the resulting tool, and publishes tool_built or
// tool_build_failed on builder_results. The tool-synthesis logic itself is
// an external collaborator (spec §1) invoked only as a subprocess.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nembal/fullsend-fabric/internal/bus"
	"github.com/nembal/fullsend-fabric/internal/config"
	"github.com/nembal/fullsend-fabric/internal/envelope"
	"github.com/nembal/fullsend-fabric/internal/experiment"
	"github.com/nembal/fullsend-fabric/internal/router"
	"github.com/nembal/fullsend-fabric/internal/runtime"
	"github.com/nembal/fullsend-fabric/internal/store"
	"github.com/nembal/fullsend-fabric/internal/subprocess"
)

// toolPRD is the inbound builder_tasks payload (see dispatcher.dispatchToBuilder).
type toolPRD struct {
	PRD           map[string]interface{} `json:"prd"`
	NotifyChannel string                 `json:"notify_channel,omitempty"`
	NotifyMessage string                 `json:"notify_message,omitempty"`
}

// builderResult is the Builder subprocess's stdout contract.
type builderResult struct {
	ToolName string `json:"tool_name"`
	Error    string `json:"error,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("builder: load config: %v", err)
	}

	svc := runtime.New("builder", cfg.LogDir, cfg.Debug)
	defer svc.Close()

	b, err := bus.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("builder: connect bus: %v", err)
	}
	defer b.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	s := store.New(redisClient)

	supervisor := subprocess.New(cfg.Builder.Command, time.Duration(cfg.Builder.TimeoutSeconds)*time.Second)

	r := router.New(b)
	r.Register(cfg.Channels.BuilderTasks, func(ctx context.Context, env *envelope.Envelope) error {
		build(ctx, svc, b, s, supervisor, cfg.Channels.BuilderResults, env)
		return nil
	})

	if err := svc.Run(context.Background(), func(ctx context.Context) error {
		if err := r.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}); err != nil {
		log.Fatalf("builder: %v", err)
	}
}

func build(ctx context.Context, svc *runtime.Service, b bus.Bus, s store.Store, supervisor *subprocess.Supervisor, resultsChannel string, env *envelope.Envelope) {
	var req toolPRD
	if err := env.UnmarshalPayload(&req); err != nil {
		svc.LogError("malformed tool_prd envelope: %v", err)
		return
	}

	result, err := supervisor.Run(ctx, req.PRD)
	if err != nil {
		svc.LogError("builder subprocess: %v", err)
		publishBuildFailed(ctx, svc, b, resultsChannel, req, err.Error())
		return
	}
	if result.Error != "" {
		publishBuildFailed(ctx, svc, b, resultsChannel, req, result.Error)
		return
	}

	var parsed builderResult
	if err := json.Unmarshal(result.Output, &parsed); err != nil {
		publishBuildFailed(ctx, svc, b, resultsChannel, req, "malformed builder output: "+err.Error())
		return
	}

	if err := experiment.RegisterTool(ctx, s, parsed.ToolName, "active"); err != nil {
		svc.LogError("register tool %s: %v", parsed.ToolName, err)
	}

	payload := map[string]interface{}{
		"type":      "tool_built",
		"tool_name": parsed.ToolName,
	}
	forwardNotify(payload, req)
	publish(ctx, svc, b, resultsChannel, "tool_built", payload)
}

func publishBuildFailed(ctx context.Context, svc *runtime.Service, b bus.Bus, resultsChannel string, req toolPRD, reason string) {
	svc.LogError("tool build failed: %s", reason)
	payload := map[string]interface{}{
		"type":  "tool_build_failed",
		"error": reason,
	}
	forwardNotify(payload, req)
	publish(ctx, svc, b, resultsChannel, "tool_build_failed", payload)
}

func forwardNotify(payload map[string]interface{}, req toolPRD) {
	if req.NotifyChannel != "" {
		payload["notify_channel"] = req.NotifyChannel
	}
	if req.NotifyMessage != "" {
		payload["notify_message"] = req.NotifyMessage
	}
}

func publish(ctx context.Context, svc *runtime.Service, b bus.Bus, channel, envType string, payload map[string]interface{}) {
	env, err := envelope.New("builder", envType, payload)
	if err != nil {
		svc.LogError("build %s envelope: %v", envType, err)
		return
	}
	if err := b.Publish(ctx, channel, env); err != nil {
		svc.LogError("publish %s: %v", envType, err)
	}
}

