package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"

	"github.com/xhad/aibots/internal/models"
	"github.com/xhad/aibots/internal/types"
	cfgPkg "github.com/xhad/aibots/pkg/config"
	"github.com/xhad/aibots/pkg/llm"
	"github.com/xhad/aibots/pkg/logging"
	"github.com/xhad/aibots/pkg/processor"
	"github.com/xhad/aibots/pkg/rag"
	"github.com/xhad/aibots/pkg/scraper"
	"github.com/xhad/aibots/pkg/store"
	"github.com/xhad/aibots/server"
)

const usage = `Usage: ai-bots <command> [flags]

Commands:
  ingest [--persist] [--url URL]...  embed the demo documents and any scraped pages
  ask [--sources] <query>            answer a question from the embedded documents
  serve [--addr host:port]           serve the HTTP and WebSocket API
  version                            print the version

Every command except version accepts --config <path>.
`

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

var errUsage = errors.New("usage error")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitConfig
	}

	var err error
	switch args[0] {
	case "ingest":
		err = runIngest(ctx, args[1:], stdout, stderr)
	case "ask":
		err = runAsk(ctx, args[1:], stdout, stderr)
	case "serve":
		err = runServe(ctx, args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitConfig
	}
	return exitCode(err, stderr)
}

// exitCode reports err on stderr and maps it to the process exit status.
func exitCode(err error, stderr io.Writer) int {
	errorf := color.New(color.FgRed).FprintfFunc()
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		errorf(stderr, "%v\n", err)
		return exitConfig
	case errors.Is(err, types.ErrConfiguration):
		errorf(stderr, "Error: %v\n", err)
		return exitConfig
	default:
		errorf(stderr, "Error: %v\n", err)
		return exitFailed
	}
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	return fs, configPath
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// app holds what every command builds from the configuration once at startup.
type app struct {
	config   *cfgPkg.Config
	logger   *zap.Logger
	pipeline *rag.Pipeline
}

func setup(configPath string, opts ...rag.Option) (*app, error) {
	config, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Err(); err != nil {
		return nil, err
	}

	logger, err := logging.New(config.LogLevel, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	logger.Named("cli").Info("startup",
		zap.String("environment", config.Environment),
		zap.String("provider", config.LLM.Provider),
		zap.String("store", config.Store.Backend))

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		Splitter:     config.Processor.Splitter,
		ChunkSize:    config.Processor.ChunkSize,
		ChunkOverlap: config.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		config:   config,
		logger:   logger,
		pipeline: rag.New(proc, storeConfig(config), logger.Named("pipeline"), opts...),
	}, nil
}

func embedderConfig(config *cfgPkg.Config) llm.EmbedderConfig {
	return llm.EmbedderConfig{
		Provider:    config.LLM.Provider,
		APIKey:      config.LLM.APIKey,
		BaseURL:     config.LLM.BaseURL,
		Model:       config.LLM.EmbeddingModel,
		BatchSize:   config.LLM.BatchSize,
		Concurrency: config.LLM.Concurrency,
		RateLimit:   config.LLM.RateLimit,
		Dimensions:  config.Store.VectorDim,
	}
}

func chatConfig(config *cfgPkg.Config) llm.ChatConfig {
	return llm.ChatConfig{
		Provider:  config.LLM.Provider,
		APIKey:    config.LLM.APIKey,
		BaseURL:   config.LLM.BaseURL,
		Model:     config.LLM.Model,
		MaxTokens: config.LLM.MaxTokens,
	}
}

func storeConfig(config *cfgPkg.Config) store.Config {
	return store.Config{
		Backend:     config.Store.Backend,
		DatabaseURL: config.Store.DatabaseURL,
		TableName:   config.Store.TableName,
		VectorDim:   config.Store.VectorDim,
		BatchSize:   config.Store.BatchSize,
	}
}

// answerChain reuses the persisted store when it holds chunks and otherwise
// builds an in-memory store from the demo documents. The caller closes the
// returned store.
func (a *app) answerChain(ctx context.Context) (*rag.Chain, store.VectorStore, error) {
	embedConfig := embedderConfig(a.config)

	vs, err := a.reopen(ctx, embedConfig)
	if err != nil {
		return nil, nil, err
	}
	if vs == nil {
		vs, err = a.pipeline.BuildVectorStore(ctx, rag.DemoDocuments(), embedConfig, "")
		if err != nil {
			return nil, nil, err
		}
	}

	var opts []vectorstores.Option
	if a.config.Retrieval.ScoreThreshold > 0 {
		opts = append(opts, vectorstores.WithScoreThreshold(a.config.Retrieval.ScoreThreshold))
	}
	chain, err := a.pipeline.BuildAnswerChain(vs, chatConfig(a.config), a.config.Retrieval.TopK, opts...)
	if err != nil {
		_ = vs.Close()
		return nil, nil, err
	}
	return chain, vs, nil
}

func (a *app) reopen(ctx context.Context, embedConfig llm.EmbedderConfig) (store.VectorStore, error) {
	persistDir := a.config.Store.PersistDir
	if a.config.Store.Backend != store.BackendPGVector && !store.Exists(persistDir) {
		return nil, nil
	}

	vs, err := a.pipeline.OpenVectorStore(ctx, embedConfig, persistDir)
	if err != nil {
		return nil, err
	}
	n, err := vs.Count(ctx)
	if err != nil {
		_ = vs.Close()
		return nil, err
	}
	if n == 0 {
		_ = vs.Close()
		return nil, nil
	}
	a.logger.Info("vector_store.reopened", zap.Int("chunks", n))
	return vs, nil
}

func runIngest(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("ingest", stderr)
	persist := fs.Bool("persist", false, "Persist the vector store to PERSIST_DIR")
	maxDepth := fs.Int("max-depth", 1, "Maximum link depth when scraping --url pages")
	var urls stringList
	fs.Var(&urls, "url", "Also ingest pages scraped from `URL` (repeatable)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: ingest takes no arguments, got %q", errUsage, fs.Args())
	}

	var bar *progressbar.ProgressBar
	a, err := setup(*configPath, rag.WithProgress(func(done, total int) {
		if bar == nil {
			bar = getProgressBar(stderr, total, "Storing chunks...")
		}
		_ = bar.Set(done)
	}))
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	persistPath := ""
	if *persist {
		persistPath = a.config.Store.PersistDir
		if persistPath == "" && a.config.Store.Backend != store.BackendPGVector {
			return types.Configurationf("--persist requires PERSIST_DIR or store.persist_dir")
		}
	}

	docs := rag.DemoDocuments()
	for _, u := range urls {
		scraped, err := scrape(ctx, u, *maxDepth, a.logger, stderr)
		if err != nil {
			return fmt.Errorf("failed to scrape %s: %w", u, err)
		}
		color.New(color.FgGreen).Fprintf(stderr, "✓ Scraped %d pages from %s\n", len(scraped), u)
		docs = append(docs, scraped...)
	}

	vs, err := a.pipeline.BuildVectorStore(ctx, docs, embedderConfig(a.config), persistPath)
	if err != nil {
		return err
	}
	defer vs.Close()
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(stderr)
	}

	n, err := vs.Count(ctx)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(stdout, "✓ Ingested %d documents, store holds %d chunks\n", len(docs), n)
	if persistPath != "" {
		fmt.Fprintf(stdout, "Persisted to %s\n", persistPath)
	}
	return nil
}

func scrape(ctx context.Context, rawURL string, maxDepth int, logger *zap.Logger, stderr io.Writer) ([]models.Document, error) {
	spinner := getSpinner(stderr, "Scraping "+rawURL)
	defer spinner.Finish()

	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:  rawURL,
		MaxDepth: maxDepth,
		Logger:   logger.Named("scraper"),
		OnProgress: func(string) {
			_ = spinner.Add(1)
		},
	})
	if err != nil {
		return nil, err
	}
	return s.Scrape(ctx, rawURL)
}

func runAsk(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("ask", stderr)
	sources := fs.Bool("sources", false, "Also print the retrieved chunks")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return fmt.Errorf("%w: ask requires a query", errUsage)
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	chain, vs, err := a.answerChain(ctx)
	if err != nil {
		return err
	}
	defer vs.Close()

	answer, err := chain.Ask(ctx, query)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, answer)

	if *sources {
		docs, err := chain.Retrieve(ctx, query)
		if err != nil {
			return err
		}
		sourcef := color.New(color.FgCyan).FprintfFunc()
		for i, doc := range docs {
			sourcef(stdout, "[%d] (%.3f) %s\n", i+1, doc.Score, doc.PageContent)
		}
	}
	return nil
}

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("serve", stderr)
	addr := fs.String("addr", "", "Listen address as host:port (default from config)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	serverConfig := server.Config{
		Host:           a.config.Server.Host,
		Port:           a.config.Server.Port,
		RequestTimeout: a.config.Server.RequestTimeout,
	}
	if *addr != "" {
		host, port, err := net.SplitHostPort(*addr)
		if err != nil {
			return fmt.Errorf("%w: invalid --addr: %v", errUsage, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: invalid --addr port %q", errUsage, port)
		}
		serverConfig.Host, serverConfig.Port = host, p
	}

	chain, vs, err := a.answerChain(ctx)
	if err != nil {
		return err
	}
	defer vs.Close()

	srv := server.New(chain, serverConfig, a.logger.Named("api"))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	color.New(color.FgCyan).Fprintf(stdout, "Listening on %s\n", srv.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func getProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
