package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/efebarandurmaz/promptforge/internal/analyzer"
	"github.com/efebarandurmaz/promptforge/internal/config"
	"github.com/efebarandurmaz/promptforge/internal/history"
	"github.com/efebarandurmaz/promptforge/internal/llm"
	"github.com/efebarandurmaz/promptforge/internal/llmutil"
	"github.com/efebarandurmaz/promptforge/internal/optimizer"
	"github.com/efebarandurmaz/promptforge/internal/secrets"
	"github.com/efebarandurmaz/promptforge/internal/vector"
	"github.com/efebarandurmaz/promptforge/internal/vector/qdrant"
	"github.com/spf13/cobra"
)

func main() {
	var (
		rawPrompt  string
		inputFile  string
		iterations int
		maxTokens  int
		configPath string
		jsonOutput bool
		noSave     bool
	)

	rootCmd := &cobra.Command{
		Use:   "promptforge",
		Short: "Adaptive prompt optimization across LLM backends",
	}

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Optimize a raw prompt into a structured one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(configPath, rawPrompt, inputFile, iterations, maxTokens, jsonOutput, noSave)
		},
	}
	optimizeCmd.Flags().StringVar(&rawPrompt, "prompt", "", "Raw prompt text")
	optimizeCmd.Flags().StringVar(&inputFile, "file", "", "Read the raw prompt from a file")
	optimizeCmd.Flags().IntVar(&iterations, "iterations", 0, "Refinement rounds 1-5 (0 = analyzer-recommended)")
	optimizeCmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Completion token cap (0 = backend default)")
	optimizeCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	optimizeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the prompt and metrics as JSON")
	optimizeCmd.Flags().BoolVar(&noSave, "no-save", false, "Skip persisting the run to history")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-12s %s\n", name, url)
			}
			fmt.Println("  custom       (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in a config file or via environment:")
			fmt.Println("  FORGE_LLM_PROVIDER=groq")
			fmt.Println("  FORGE_LLM_API_KEY=gsk_...")
			fmt.Println("  FORGE_LLM_MODEL=llama-3.3-70b-versatile")
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score a prompt's complexity without optimizing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPrompt(rawPrompt, inputFile, args)
			if err != nil {
				return err
			}
			cx := analyzer.Score(raw)
			fmt.Printf("Score:      %d\n", cx.Score)
			fmt.Printf("Difficulty: %s\n", cx.Difficulty)
			fmt.Printf("Iterations: %d (recommended)\n", cx.Iterations)
			return nil
		},
	}
	analyzeCmd.Flags().StringVar(&rawPrompt, "prompt", "", "Raw prompt text")
	analyzeCmd.Flags().StringVar(&inputFile, "file", "", "Read the raw prompt from a file")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past optimization runs",
	}

	historyListCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(configPath)
		},
	}
	historyListCmd.Flags().StringVar(&configPath, "config", "", "Config file path")

	var topK int
	historySearchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the prompt library by similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistorySearch(configPath, args[0], topK)
		},
	}
	historySearchCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	historySearchCmd.Flags().IntVar(&topK, "top", 5, "Number of results")

	historyShowCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(configPath, args[0])
		},
	}
	historyShowCmd.Flags().StringVar(&configPath, "config", "", "Config file path")

	historyCmd.AddCommand(historyListCmd, historySearchCmd, historyShowCmd)
	rootCmd.AddCommand(optimizeCmd, providersCmd, analyzeCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func readPrompt(rawPrompt, inputFile string, args []string) (string, error) {
	if rawPrompt != "" {
		return rawPrompt, nil
	}
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		return string(data), nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	return "", fmt.Errorf("provide a prompt via --prompt, --file or as an argument")
}

// buildProvider resolves one stage's LLM config and secrets into a
// provider. lc is the stage-resolved view of cfg.LLM.
func buildProvider(cfg *config.Config, lc config.LLMConfig) (llm.Provider, error) {
	apiKey := lc.APIKey
	if apiKey == "" {
		if key := secrets.ProviderKey(lc.Provider); key != "" {
			mgr, err := secrets.NewManager(&secrets.Config{
				Provider: cfg.Secrets.Provider,
				FileConfig: &secrets.FileConfig{
					Path: cfg.Secrets.FilePath,
				},
			})
			if err == nil {
				apiKey = mgr.GetOrDefault(context.Background(), string(key), "")
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

// sameBackend reports whether two stage configs resolve to the same
// provider instance (model differences alone do not need a second one).
func sameBackend(a, b config.LLMConfig) bool {
	return a.Provider == b.Provider && a.BaseURL == b.BaseURL && a.APIKey == b.APIKey
}

func runOptimize(configPath, rawPrompt, inputFile string, iterations, maxTokens int, jsonOutput, noSave bool) error {
	raw, err := readPrompt(rawPrompt, inputFile, nil)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if iterations == 0 {
		iterations = cfg.LLM.Iterations
	}
	if maxTokens == 0 {
		maxTokens = cfg.LLM.MaxTokens
	}

	genCfg := cfg.LLM.ResolveForStage("generate")
	refCfg := cfg.LLM.ResolveForStage("refine")

	provider, err := buildProvider(cfg, genCfg)
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	opt := optimizer.New(provider)
	if !sameBackend(genCfg, refCfg) {
		refiner, rerr := buildProvider(cfg, refCfg)
		if rerr != nil {
			return fmt.Errorf("creating refine provider: %w", rerr)
		}
		opt = opt.WithRefineProvider(refiner)
	}

	opts := optimizer.Options{
		Model:      genCfg.Model,
		Iterations: iterations,
		MaxTokens:  maxTokens,
	}
	if refCfg.Model != genCfg.Model {
		opts.RefineModel = refCfg.Model
	}
	if cfg.LLM.Temperature > 0 {
		opts.Temperature = llm.Float(cfg.LLM.Temperature)
	}
	if !jsonOutput {
		opts.Progress = func(stage string, percent int) {
			fmt.Fprintf(os.Stderr, "  [%3d%%] %s\n", percent, stage)
		}
	}

	res, err := opt.Run(context.Background(), raw, opts)
	if res == nil {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run ended early: %v\n", err)
	}

	if jsonOutput {
		fmt.Println(res.Prompt.JSON())
		if res.Metrics != nil {
			res.Metrics.WriteJSON(os.Stdout)
		}
	} else {
		fmt.Println()
		fmt.Println(res.Prompt.Markdown())
		if res.Metrics != nil {
			res.Metrics.PrintSummary(os.Stdout)
		}
	}

	if !noSave && cfg.History.Dir != "" {
		store, serr := history.NewFileStore(cfg.History.Dir)
		if serr != nil {
			fmt.Fprintf(os.Stderr, "Warning: history store unavailable: %v\n", serr)
			return err
		}
		rec := history.NewRecord(raw, res, provider.Name(), genCfg.Model)
		if serr := store.Append(context.Background(), rec); serr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save run: %v\n", serr)
		} else if !jsonOutput {
			fmt.Printf("Saved run %s\n", rec.ID)
		}
	}

	return err
}

func runHistoryList(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := history.NewFileStore(cfg.History.Dir)
	if err != nil {
		return err
	}

	summaries, err := store.List(context.Background())
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No stored runs.")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%-22s %-19s %-10s %-10s %s\n",
			s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Provider, s.Difficulty, s.Excerpt)
	}
	return nil
}

func runHistoryShow(configPath, id string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := history.NewFileStore(cfg.History.Dir)
	if err != nil {
		return err
	}

	rec, err := store.Load(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s (%s, %s/%s)\n\n", rec.ID, rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Provider, rec.Model)
	fmt.Println(rec.Prompt.Markdown())
	fmt.Println("Edit history:")
	for _, h := range rec.History {
		fmt.Printf("  round %d: %s\n", h.Iteration, h.Edits)
	}
	return nil
}

func runHistorySearch(configPath, query string, topK int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	provider, err := buildProvider(cfg, cfg.LLM)
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}

	ctx := context.Background()
	repo, err := qdrant.New(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
	if err != nil {
		return fmt.Errorf("connecting to vector store: %w", err)
	}
	defer repo.Close()

	results, err := vector.NewEmbedder(provider, repo).SearchText(ctx, query, topK)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%.3f  %s  %s\n", r.Score, r.Metadata["run_id"], firstLine(r.Content))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
