// Command strata runs the multi-tenant retrieval-augmented generation
// service: document ingestion, hybrid search, and grounded chat over
// HTTP.
//
// Usage:
//
//	strata serve --config config.yaml
//	strata migrate --config config.yaml
//	strata validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/strata-ai/strata/pkg/auth"
	"github.com/strata-ai/strata/pkg/blob"
	"github.com/strata-ai/strata/pkg/cache"
	"github.com/strata-ai/strata/pkg/chat"
	"github.com/strata-ai/strata/pkg/chunker"
	"github.com/strata-ai/strata/pkg/config"
	"github.com/strata-ai/strata/pkg/domain"
	"github.com/strata-ai/strata/pkg/embedder"
	"github.com/strata-ai/strata/pkg/graph"
	"github.com/strata-ai/strata/pkg/ingest"
	"github.com/strata-ai/strata/pkg/keyword"
	"github.com/strata-ai/strata/pkg/llm"
	"github.com/strata-ai/strata/pkg/logger"
	"github.com/strata-ai/strata/pkg/observability"
	"github.com/strata-ai/strata/pkg/parser"
	"github.com/strata-ai/strata/pkg/ratelimit"
	"github.com/strata-ai/strata/pkg/reformulate"
	"github.com/strata-ai/strata/pkg/rerank"
	"github.com/strata-ai/strata/pkg/retrieval"
	"github.com/strata-ai/strata/pkg/server"
	"github.com/strata-ai/strata/pkg/speech"
	"github.com/strata-ai/strata/pkg/store"
	"github.com/strata-ai/strata/pkg/summary"
	"github.com/strata-ai/strata/pkg/synonym"
	"github.com/strata-ai/strata/pkg/vectordb"
	"github.com/strata-ai/strata/pkg/vision"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Migrate  MigrateCmd  `cmd:"" help:"Apply database migrations and exit."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("strata version %s\n", version)
	return nil
}

// ValidateCmd checks the config file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s: configuration is valid\n", cli.Config)
	return nil
}

// MigrateCmd opens the database, applies pending migrations, and exits.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	st, err := store.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Println("migrations applied")
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port int `help:"Override the configured listen port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	blobs, err := blob.NewStore(&cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	cacheClient := cache.New(&cfg.Cache)
	defer cacheClient.Close()

	vectors, err := vectordb.New(&cfg.VectorStore)
	if err != nil {
		return fmt.Errorf("failed to connect vector store: %w", err)
	}

	provider, err := llm.New(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to configure llm provider: %w", err)
	}
	client := llm.NewClient(provider)

	emb, err := embedder.New(&cfg.Embedder, client)
	if err != nil {
		return fmt.Errorf("failed to configure embedder: %w", err)
	}

	describer, err := vision.New(&cfg.Vision)
	if err != nil {
		return fmt.Errorf("failed to configure vision: %w", err)
	}
	var visionPort parser.VisionPort
	if describer != nil {
		visionPort = describer
	}
	transcriber := speech.New(&cfg.Speech)

	parsers := parser.NewFactory(&cfg.Speech, visionPort, transcriber)
	domains := domain.NewFactory(&cfg.Domain, client)

	counter, err := chunker.New(&cfg.Chunking)
	if err != nil {
		return fmt.Errorf("failed to configure chunker: %w", err)
	}

	keywords := keyword.NewIndex()
	if err := keywords.Rebuild(ctx, st); err != nil {
		return fmt.Errorf("failed to rebuild keyword index: %w", err)
	}
	g := graph.New()
	if err := g.Rebuild(ctx, st); err != nil {
		return fmt.Errorf("failed to rebuild graph index: %w", err)
	}

	summaries := summary.NewService(st, emb, vectors)

	coordinator := ingest.New(&cfg.Ingestion, ingest.Deps{
		Store:     st,
		Blobs:     blobs,
		Parsers:   parsers,
		Domains:   domains,
		Chunker:   counter,
		Embedder:  emb,
		Vectors:   vectors,
		Keywords:  keywords,
		Graph:     g,
		Summaries: summaries,
		Cache:     cacheClient,
		Vision:    visionPort,
	})

	engine := retrieval.NewEngine(&cfg.Retrieval, st, vectors, keywords, g, emb, cacheClient)
	synonyms, err := synonym.NewService(&cfg.Synonyms)
	if err != nil {
		return fmt.Errorf("failed to load synonyms: %w", err)
	}
	engine.WithSynonyms(synonyms)

	reformulator := reformulate.New(&cfg.Reformulation, client, cacheClient)
	reranker := rerank.New(client, 0)
	orchestrator := chat.New(&cfg.Chat, st, engine, reranker, reformulator, provider, counter).
		WithUserConcurrency(cfg.LLM.MaxConcurrentPerUser)

	limiter, err := ratelimit.New(&cfg.RateLimits)
	if err != nil {
		return fmt.Errorf("failed to configure rate limits: %w", err)
	}

	srv := server.New(&cfg.Server, server.Deps{
		Store:       st,
		Auth:        auth.NewService(st),
		Limiter:     limiter,
		Metrics:     observability.New(),
		Coordinator: coordinator,
		Engine:      engine,
		Chat:        orchestrator,
		Blobs:       blobs,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}
	if err := coordinator.Close(); err != nil {
		slog.Warn("Ingestion drain failed", "error", err)
	}
	return nil
}

// loadConfig reads the config file, or falls back to defaults when no
// path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Info("No config file given, using defaults")
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded configuration", "path", path)
	return cfg, nil
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("strata"),
		kong.Description("Strata - multi-tenant RAG service"),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
