package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/overx-ai/gentle-man-tg-bot/config"
	"github.com/overx-ai/gentle-man-tg-bot/embed"
	"github.com/overx-ai/gentle-man-tg-bot/embed/mock"
	"github.com/overx-ai/gentle-man-tg-bot/embed/openai"
	"github.com/overx-ai/gentle-man-tg-bot/engine"
	"github.com/overx-ai/gentle-man-tg-bot/gate"
	"github.com/overx-ai/gentle-man-tg-bot/history"
	"github.com/overx-ai/gentle-man-tg-bot/respond"
	"github.com/overx-ai/gentle-man-tg-bot/retention"
	"github.com/overx-ai/gentle-man-tg-bot/retrieval"
	"github.com/overx-ai/gentle-man-tg-bot/state"
	"github.com/overx-ai/gentle-man-tg-bot/transport/gateway"
	chromemindex "github.com/overx-ai/gentle-man-tg-bot/vector/chromem"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and serve conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gentlebot.yaml", "path to config file")
	return cmd
}

func run(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	index := chromemindex.New()
	store := history.New(index)
	states := state.NewTracker()

	policy := gate.DefaultPolicy()
	policy.AutomatedCadence = cfg.Bot.AutomatedCadence
	responseGate := gate.New(policy, states)

	embedTimeout := time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second
	retriever := retrieval.New(store, index, embedder, embedTimeout)

	client := anthropic.NewClient(option.WithAPIKey(cfg.Generation.APIKey))
	generator := respond.NewAnthropicGenerator(&client, cfg.Generation.Model, int64(cfg.Generation.MaxTokens))
	assembler := respond.NewAssembler(generator,
		time.Duration(cfg.Generation.TimeoutSeconds)*time.Second, cfg.Generation.MaxRetries)

	gw := gateway.New(cfg.Gateway.URL)
	if err := gw.Connect(ctx); err != nil {
		return err
	}
	defer gw.Close()

	eng := engine.New(engine.Config{
		BotID:        cfg.Bot.ID,
		BotUsername:  cfg.Bot.Username,
		RetrieveK:    cfg.Retrieval.TopK,
		RecentLimit:  cfg.Retrieval.RecentLimit,
		EmbedTimeout: embedTimeout,
	}, store, index, states, responseGate, retriever, assembler, gw, embedder)

	if err := eng.Rebuild(ctx); err != nil {
		return err
	}

	sweeper, err := retention.New(store, cfg.Retention.MaxMessages, cfg.Retention.Schedule)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	events, err := gw.Listen(ctx)
	if err != nil {
		return err
	}
	log.Printf("[GENTLEBOT] serving as @%s (cadence %d, top-k %d)",
		cfg.Bot.Username, cfg.Bot.AutomatedCadence, cfg.Retrieval.TopK)

	for ev := range events {
		go func() {
			if err := eng.HandleEvent(ctx, ev); err != nil {
				log.Printf("[GENTLEBOT] event in %s failed: %v", ev.EventConversation(), err)
			}
		}()
	}

	log.Printf("[GENTLEBOT] gateway stream closed, shutting down")
	return nil
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	if cfg.Embedding.APIKey == "" {
		log.Printf("[GENTLEBOT] no embedding api key configured, using deterministic mock embedder")
		return mock.New(cfg.Embedding.Dimensions), nil
	}
	client := openai.New(openai.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	cached, err := embed.NewCached(client, int64(cfg.Embedding.CacheMB)<<20)
	if err != nil {
		return nil, fmt.Errorf("wrap embedder: %w", err)
	}
	return cached, nil
}
