package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/efebarandurmaz/promptforge/internal/config"
	"github.com/efebarandurmaz/promptforge/internal/history"
	"github.com/efebarandurmaz/promptforge/internal/llm"
	"github.com/efebarandurmaz/promptforge/internal/llmutil"
	"github.com/efebarandurmaz/promptforge/internal/observability"
	"github.com/efebarandurmaz/promptforge/internal/secrets"
	"github.com/efebarandurmaz/promptforge/internal/server"
	temporalmod "github.com/efebarandurmaz/promptforge/internal/temporal"
	"github.com/efebarandurmaz/promptforge/internal/vector"
	"github.com/efebarandurmaz/promptforge/internal/vector/qdrant"

	temporalclient "go.temporal.io/sdk/client"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "promptforge-worker",
		ServiceVersion: "0.1.0",
		Environment:    os.Getenv("FORGE_ENV"),
		OTLPEndpoint:   os.Getenv("FORGE_OTLP_ENDPOINT"),
		SampleRate:     1.0,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	genCfg := cfg.LLM.ResolveForStage("generate")
	refCfg := cfg.LLM.ResolveForStage("refine")

	provider, err := buildProvider(ctx, cfg, genCfg)
	if err != nil {
		log.Fatalf("creating LLM provider: %v", err)
	}

	deps := &temporalmod.Dependencies{Provider: provider}
	if !sameBackend(genCfg, refCfg) {
		refiner, rerr := buildProvider(ctx, cfg, refCfg)
		if rerr != nil {
			log.Fatalf("creating refine provider: %v", rerr)
		}
		deps.Refiner = refiner
	}
	if refCfg.Model != genCfg.Model {
		deps.RefineModel = refCfg.Model
	}
	if cfg.LLM.Temperature > 0 {
		deps.Temperature = llm.Float(cfg.LLM.Temperature)
	}

	if cfg.History.Dir != "" {
		store, serr := history.NewFileStore(cfg.History.Dir)
		if serr != nil {
			log.Fatalf("history store: %v", serr)
		}
		deps.Sink = store
	}

	var repo *qdrant.Repository
	if cfg.Vector.Host != "" {
		repo, err = qdrant.New(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
		if err != nil {
			// The prompt library is optional; run without it.
			fmt.Fprintf(os.Stderr, "Warning: vector store unavailable: %v\n", err)
		} else {
			deps.Embedder = vector.NewEmbedder(provider, repo)
		}
	}

	temporalmod.SetDependencies(deps)

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	g := server.NewGracefulServer(&server.HealthConfig{
		Version: "0.1.0",
		Metrics: observability.Metrics().Handler(),
	}, nil)
	g.Health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, herr := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return herr
	}))
	g.Health.RegisterCheck("llm", server.LLMHealthChecker(provider.Name(), nil))

	g.RegisterHook("temporal-worker", 20, func(ctx context.Context) error {
		w.Stop()
		return nil
	})
	if repo != nil {
		g.RegisterHook("vector-store", 90, func(ctx context.Context) error {
			return repo.Close()
		})
	}
	g.RegisterHook("tracing", 80, tp.Shutdown)

	addr := os.Getenv("FORGE_HEALTH_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := g.Start(addr); err != nil {
		log.Fatalf("health server: %v", err)
	}

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)
	g.Wait()
	fmt.Println("Worker stopped")
}

// buildProvider constructs an adapter for one stage's resolved LLM
// config, falling back to the secrets manager when it carries no key.
func buildProvider(ctx context.Context, cfg *config.Config, lc config.LLMConfig) (llm.Provider, error) {
	apiKey := lc.APIKey
	if apiKey == "" {
		if key := secrets.ProviderKey(lc.Provider); key != "" {
			mgr, merr := secrets.NewManager(&secrets.Config{
				Provider:   cfg.Secrets.Provider,
				FileConfig: &secrets.FileConfig{Path: cfg.Secrets.FilePath},
			})
			if merr == nil {
				apiKey = mgr.GetOrDefault(ctx, string(key), "")
			}
		}
	}

	factory := llm.NewFactory()
	llmutil.RegisterDefaultProviders(factory)
	return factory.Create(llm.ProviderConfig{
		Provider:   lc.Provider,
		APIKey:     apiKey,
		Model:      lc.Model,
		BaseURL:    lc.BaseURL,
		EmbedModel: lc.EmbedModel,
	})
}

func sameBackend(a, b config.LLMConfig) bool {
	return a.Provider == b.Provider && a.BaseURL == b.BaseURL && a.APIKey == b.APIKey
}
