// Command watcher classifies inbound chat messages: it reads raw chat
// envelopes, asks the Classifier whether to ignore, answer directly, or
// escalate, and for "answer" composes a reply itself via the Responder.
// Escalations are forwarded onto to_orchestrator for the Orchestrator Agent
// to decide on.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nembal/fullsend-fabric/internal/bus"
	"github.com/nembal/fullsend-fabric/internal/classifier"
	"github.com/nembal/fullsend-fabric/internal/config"
	"github.com/nembal/fullsend-fabric/internal/envelope"
	"github.com/nembal/fullsend-fabric/internal/llm"
	"github.com/nembal/fullsend-fabric/internal/responder"
	"github.com/nembal/fullsend-fabric/internal/router"
	"github.com/nembal/fullsend-fabric/internal/runtime"
	"github.com/nembal/fullsend-fabric/internal/store"
)

// llmClient is the Watcher's injection seam for a concrete model provider.
// internal/llm.Client is deliberately out of scope for this repository
// (spec §1: "LLM clients (opaque request/response endpoints)"); a
// deployment wires a concrete implementation in here before calling Run.
var llmClient llm.Client

const classifierPromptTemplate = `You are a triage classifier for a product team's chat. A message from {{username}} in #{{channel}} (bot mentioned: {{has_mention}}) follows:

{{content}}

Classify it as one of: ignore, answer, escalate. Respond with a JSON object: {"action": "...", "reason": "...", "priority": "low|medium|high|urgent", "suggested_response": "..." (only for "answer")}.`

const responderPromptTemplate = `A teammate asked: {{query}}

Current system status: {{status}} ({{experiment_count}} of {{total_experiments}} experiments running)

Recent activity:
{{recent_activity}}

Compose a brief, direct reply.`

// inboundChat is the raw chat envelope's payload shape (spec §4.3).
type inboundChat struct {
	Username    string `json:"username"`
	ChannelName string `json:"channel_name"`
	ChannelID   string `json:"channel_id"`
	Content     string `json:"content"`
	MentionsBot bool   `json:"mentions_bot"`
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("watcher: load config: %v", err)
	}

	svc := runtime.New("watcher", cfg.LogDir, cfg.Debug)
	defer svc.Close()

	if llmClient == nil {
		log.Fatalf("watcher: no llm.Client wired; this binary requires an external model-provider implementation injected before startup")
	}

	b, err := bus.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("watcher: connect bus: %v", err)
	}
	defer b.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	s := store.New(redisClient)

	cls := classifier.New(llmClient, classifier.Config{
		Model:         cfg.Classifier.Model,
		Temperature:   cfg.Classifier.Temperature,
		MaxTokens:     cfg.Classifier.MaxTokens,
		RetryAttempts: cfg.Classifier.RetryAttempts,
		BaseDelay:     secondsToDuration(cfg.Classifier.RetryBaseDelay),
		MaxDelay:      secondsToDuration(cfg.Classifier.RetryMaxDelay),
	}, classifierPromptTemplate)

	resp := responder.New(llmClient, s, cfg.Classifier.ResponseModel, cfg.Classifier.ResponseTemp, cfg.Classifier.ResponseMaxTokens, responderPromptTemplate)

	r := router.New(b)
	r.Register(cfg.Channels.DiscordRaw, func(ctx context.Context, env *envelope.Envelope) error {
		handleChat(ctx, svc, b, cls, resp, cfg.Channels, env)
		return nil
	})

	if err := svc.Run(context.Background(), func(ctx context.Context) error {
		if err := r.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}); err != nil {
		log.Fatalf("watcher: %v", err)
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func handleChat(ctx context.Context, svc *runtime.Service, b bus.Bus, cls *classifier.Classifier, resp *responder.Responder, channels config.ChannelsConfig, env *envelope.Envelope) {
	var raw inboundChat
	if err := env.UnmarshalPayload(&raw); err != nil {
		svc.LogError("malformed chat envelope: %v", err)
		return
	}

	result := cls.Classify(ctx, classifier.Message{
		Username:    raw.Username,
		ChannelName: raw.ChannelName,
		MentionsBot: raw.MentionsBot,
		Content:     raw.Content,
	})

	switch result.Action {
	case classifier.ActionIgnore:
		svc.LogDebug("ignoring message from %s: %s", raw.Username, result.Reason)

	case classifier.ActionAnswer:
		reply, err := resp.Respond(ctx, raw.Content, result)
		if err != nil {
			svc.LogError("responder failed: %v", err)
			return
		}
		publishReply(ctx, svc, b, channels.FromOrchestrator, raw.ChannelID, reply)

	case classifier.ActionEscalate:
		publishEscalation(ctx, svc, b, channels.ToOrchestrator, raw, result)
	}
}

func publishReply(ctx context.Context, svc *runtime.Service, b bus.Bus, channel, channelID, message string) {
	payload := map[string]interface{}{
		"type":       "watcher_response",
		"channel_id": channelID,
		"content":    message,
		"priority":   "low",
	}
	env, err := envelope.New("watcher", "watcher_response", payload)
	if err != nil {
		svc.LogError("build reply envelope: %v", err)
		return
	}
	if err := b.Publish(ctx, channel, env); err != nil {
		svc.LogError("publish reply: %v", err)
	}
}

func publishEscalation(ctx context.Context, svc *runtime.Service, b bus.Bus, channel string, raw inboundChat, result classifier.Classification) {
	payload := map[string]interface{}{
		"type":               "escalation",
		"username":           raw.Username,
		"channel_name":       raw.ChannelName,
		"channel_id":         raw.ChannelID,
		"content":            raw.Content,
		"classifier_reason":  result.Reason,
		"suggested_response": result.SuggestedResponse,
	}
	env, err := envelope.New("watcher", "escalation", payload)
	if err != nil {
		svc.LogError("build escalation envelope: %v", err)
		return
	}
	env.SetHeader("priority", string(result.Priority))
	if err := b.Publish(ctx, channel, env); err != nil {
		svc.LogError("publish escalation: %v", err)
	}
}
