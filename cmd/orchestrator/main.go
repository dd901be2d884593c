// Command orchestrator consumes to_orchestrator, builds a decision prompt
// from the incoming message plus the fabric's current strategic context,
// calls the reasoning LLM, and hands the resulting Decision to the
// Dispatcher.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nembal/fullsend-fabric/internal/bus"
	"github.com/nembal/fullsend-fabric/internal/config"
	"github.com/nembal/fullsend-fabric/internal/dispatcher"
	"github.com/nembal/fullsend-fabric/internal/envelope"
	"github.com/nembal/fullsend-fabric/internal/experiment"
	"github.com/nembal/fullsend-fabric/internal/llm"
	"github.com/nembal/fullsend-fabric/internal/metrics"
	"github.com/nembal/fullsend-fabric/internal/orchestrator"
	"github.com/nembal/fullsend-fabric/internal/router"
	"github.com/nembal/fullsend-fabric/internal/runtime"
	"github.com/nembal/fullsend-fabric/internal/store"
	"github.com/nembal/fullsend-fabric/internal/subprocess"
	"github.com/nembal/fullsend-fabric/internal/worklist"
)

// llmClient is the Orchestrator's injection seam; see cmd/watcher for the
// same convention and the reasoning behind it.
var llmClient llm.Client

const systemPrompt = `You are the strategic Orchestrator of an autonomous go-to-market fabric. You decide what action the fabric takes next in response to chat escalations, experiment alerts, and completion notices. Always respond with a single well-formed Decision JSON object, never prose.`

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("orchestrator: load config: %v", err)
	}

	svc := runtime.New("orchestrator", cfg.LogDir, cfg.Debug)
	defer svc.Close()

	if llmClient == nil {
		log.Fatalf("orchestrator: no llm.Client wired; this binary requires an external model-provider implementation injected before startup")
	}

	b, err := bus.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("orchestrator: connect bus: %v", err)
	}
	defer b.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	s := store.New(redisClient)

	agent := orchestrator.New(llmClient, orchestrator.Config{
		Model:                cfg.Orchestrator.Model,
		MaxTokens:            cfg.Orchestrator.MaxTokens,
		ThinkingBudgetTokens: cfg.Orchestrator.ThinkingBudgetTokens,
		ThinkingTimeout:      time.Duration(cfg.Orchestrator.ThinkingTimeoutSeconds) * time.Second,
	}, systemPrompt)

	var roundtable *subprocess.Supervisor
	if len(cfg.Roundtable.Command) > 0 {
		roundtable = subprocess.New(cfg.Roundtable.Command, time.Duration(cfg.Roundtable.TimeoutSeconds)*time.Second)
	}

	disp := dispatcher.New(b, s, roundtable, dispatcher.Channels{
		ToFullsend:       cfg.Channels.ToFullsend,
		BuilderTasks:     cfg.Channels.BuilderTasks,
		FromOrchestrator: cfg.Channels.FromOrchestrator,
	})

	r := router.New(b)
	r.Register(cfg.Channels.ToOrchestrator, func(ctx context.Context, env *envelope.Envelope) error {
		decide(ctx, svc, s, agent, disp, env)
		return nil
	})

	if err := svc.Run(context.Background(), func(ctx context.Context) error {
		if err := r.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}); err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
}

func decide(ctx context.Context, svc *runtime.Service, s store.Store, agent *orchestrator.Agent, disp *dispatcher.Dispatcher, env *envelope.Envelope) {
	var raw map[string]interface{}
	if err := env.UnmarshalPayload(&raw); err != nil {
		svc.LogError("malformed envelope on to_orchestrator: %v", err)
		return
	}

	priority, _ := env.GetHeader("priority")
	incoming := orchestrator.Incoming{
		Type:     env.Type,
		Source:   env.Source,
		Priority: priority,
		Raw:      raw,
	}

	decisionCtx := buildContext(ctx, svc, s)

	decision := agent.Decide(ctx, incoming, decisionCtx)
	svc.LogInfo("decision=%s reasoning=%q", decision.Action, decision.Reasoning)

	if err := disp.Execute(ctx, decision, env); err != nil {
		svc.LogError("dispatch failed: %v", err)
	}
}

func buildContext(ctx context.Context, svc *runtime.Service, s store.Store) orchestrator.Context {
	decisionCtx := orchestrator.Context{}

	if brief, ok, err := s.HGet(ctx, store.ProductBriefKey, "content"); err == nil && ok {
		decisionCtx.Product = brief
	}

	if doc, err := worklist.Current(ctx, s); err == nil {
		decisionCtx.Worklist = doc
	}

	if learnings, err := worklist.RecentLearnings(ctx, s, 5); err == nil && len(learnings) > 0 {
		joined := ""
		for i, l := range learnings {
			if i > 0 {
				joined += "\n"
			}
			joined += l
		}
		decisionCtx.Learnings = joined
	}

	active, err := experiment.ListActive(ctx, s)
	if err != nil {
		svc.LogError("list active experiments: %v", err)
	}
	for _, exp := range active {
		decisionCtx.ActiveExperiments = append(decisionCtx.ActiveExperiments, orchestrator.ExperimentSummary{
			ID:    exp.ID,
			Name:  exp.Name,
			State: string(exp.State),
		})
	}

	toolKeys, err := s.ScanKeys(ctx, "tools:*")
	if err == nil {
		for _, key := range toolKeys {
			if state, ok, err := s.HGet(ctx, key, "state"); err == nil && ok && state == "active" {
				decisionCtx.AvailableTools = append(decisionCtx.AvailableTools, key)
			}
		}
	}

	monitor := metrics.New(s, nil)
	decisionCtx.RecentMetrics = make(map[string]interface{})
	for _, exp := range active {
		current, err := monitor.CurrentMetrics(ctx, exp.ID)
		if err != nil {
			continue
		}
		for name, value := range current {
			decisionCtx.RecentMetrics[exp.ID+"."+name] = value
		}
	}

	return decisionCtx
}
