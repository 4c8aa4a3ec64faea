package usecase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wikichat/internal/adapter/calculator"
	"wikichat/internal/adapter/retrieval"
	"wikichat/internal/adapter/sqldb"
	"wikichat/internal/adapter/tool"
	"wikichat/internal/adapter/wikipedia"
	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

// Built-in tool names.
const (
	WikipediaToolName  = "wikipedia"
	SQLToolName        = "transactions_db"
	CalculatorToolName = "calculator"
)

// maxCachedCorpora bounds the number of corpus indexes kept open.
const maxCachedCorpora = 8

// WikipediaDescription is the retrieval tool description for pages.
func WikipediaDescription(pages []string) string {
	return fmt.Sprintf("useful when you want to answer questions from the topics %s. "+
		"The input to this tool should be a complete english sentence.", strings.Join(pages, ", "))
}

// SQLDescription is the structured-data tool description for table.
func SQLDescription(table string) string {
	return fmt.Sprintf("useful when you want to answer questions about spend recorded in the %s database: "+
		"amounts, merchants, categories and dates. "+
		"The input to this tool should be a complete english sentence.", table)
}

// CalculatorDescription is the calculator tool description.
const CalculatorDescription = "useful when you need to do math: arithmetic, percentages, powers and square roots. " +
	"The input to this tool should be a math expression or a math question."

// ToolboxDeps holds what the toolbox builds backends from.
type ToolboxDeps struct {
	Config   *config.Config
	LLM      domain.LLMProvider // nil disables synthesis and SQL translation
	Model    string
	Embedder domain.EmbeddingProvider // nil = keyword-only retrieval
	Fetcher  wikipedia.PageFetcher    // nil = MediaWiki client from Config.Corpus
	Counter  retrieval.TokenCounter   // nil = tiktoken with Config.Retrieval.Encoding
	DB       *sql.DB                  // nil = opened from Config.SQL
	Extra    []domain.Tool            // registered after the built-in tools
	Logger   *slog.Logger
}

// Corpus describes the indexed page set behind the current registry.
type Corpus struct {
	Key      string
	Pages    []string
	Articles int // documents present in the index
	Chunks   int
}

type corpusTools struct {
	corpus   Corpus
	index    *retrieval.Index
	registry *tool.Registry
}

// Toolbox owns the backends and builds one tool registry per corpus.
//
// The SQL and calculator backends are built once. Retrieval backends are
// built per corpus and cached by corpus key; SetCorpus publishes a fresh
// registry with an atomic swap, so a query in flight keeps the registry it
// started with.
type Toolbox struct {
	cfg      *config.Config
	deps     ToolboxDeps
	loader   *wikipedia.Loader
	counter  retrieval.TokenCounter
	sqlDB    *sql.DB
	ownsDB   bool
	sqlTool  *sqldb.Backend
	calcTool *calculator.Calculator
	logger   *slog.Logger

	mu      sync.Mutex // serialises corpus builds and the cache
	cache   map[string]*corpusTools
	order   []string
	current atomic.Pointer[corpusTools]
}

// NewToolbox builds the backends and the registry for Config.Corpus.Pages.
// Any error here is a configuration error and should stop startup.
func NewToolbox(ctx context.Context, deps ToolboxDeps) (*Toolbox, error) {
	if deps.Config == nil {
		deps.Config = config.Defaults()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg := deps.Config

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = wikipedia.NewClient(cfg.Corpus, deps.Logger)
	}

	counter := deps.Counter
	if counter == nil {
		counter = retrieval.NewTiktokenCounter(cfg.Retrieval.Encoding)
	}

	tb := &Toolbox{
		cfg:     cfg,
		deps:    deps,
		loader:  wikipedia.NewLoader(fetcher, cfg.Corpus.Concurrency, deps.Logger),
		counter: counter,
		logger:  deps.Logger,
		cache:   make(map[string]*corpusTools),
	}

	if cfg.Tools.SQL.Enabled && cfg.SQL.Enabled {
		if err := tb.openSQL(ctx); err != nil {
			tb.Close()
			return nil, err
		}
	}
	if cfg.Tools.Calculator.Enabled {
		tb.calcTool = calculator.New(deps.LLM, deps.Model, deps.Logger)
	}

	if _, err := tb.SetCorpus(ctx, cfg.Corpus.Pages); err != nil {
		tb.Close()
		return nil, err
	}
	return tb, nil
}

func (tb *Toolbox) openSQL(ctx context.Context) error {
	cfg := tb.cfg.SQL
	creds := sqldb.CredentialsFromConfig(cfg)

	db := tb.deps.DB
	if db == nil {
		var err error
		if db, err = sqldb.Open(ctx, creds); err != nil {
			return err
		}
		tb.ownsDB = true
	}
	tb.sqlDB = db

	if cfg.Seed {
		n, err := sqldb.Seed(ctx, db, cfg.Table)
		if err != nil {
			return err
		}
		if n > 0 {
			tb.logger.Info("seeded demo table", "table", cfg.Table, "rows", n)
		}
	}

	opts := []sqldb.Option{
		sqldb.WithDialect(creds.Dialect()),
		sqldb.WithMaxRows(cfg.MaxRows),
		sqldb.WithTimeout(cfg.QueryTimeout),
		sqldb.WithSummarize(cfg.Summarize),
		sqldb.WithReadOnlyTransactions(creds.Driver != sqldb.DriverSQLite),
	}
	if tb.deps.LLM != nil {
		opts = append(opts, sqldb.WithLLM(tb.deps.LLM, tb.deps.Model))
	}
	backend, err := sqldb.NewBackend(db, cfg.Table, tb.logger, opts...)
	if err != nil {
		return err
	}
	tb.sqlTool = backend
	tb.logger.Info("sql backend ready", "dsn", creds.Redacted(), "table", cfg.Table)
	return nil
}

// Registry returns the registry currently in force.
func (tb *Toolbox) Registry() domain.ToolExecutor {
	if ct := tb.current.Load(); ct != nil {
		return ct.registry
	}
	return tool.NewRegistry(nil)
}

// Tools returns the current tools in registration order.
func (tb *Toolbox) Tools() []domain.Tool {
	return tb.Registry().List()
}

// Corpus describes the current corpus.
func (tb *Toolbox) Corpus() Corpus {
	if ct := tb.current.Load(); ct != nil {
		return ct.corpus
	}
	return Corpus{}
}

// SetCorpus parses raw as comma-separated page titles, builds (or reuses)
// the retrieval backend for them, and swaps in a fresh registry. On error
// the previous registry stays in force.
func (tb *Toolbox) SetCorpus(ctx context.Context, raw string) (Corpus, error) {
	pages := wikipedia.ParseCorpus(raw)
	key := wikipedia.CorpusKey(pages)

	tb.mu.Lock()
	defer tb.mu.Unlock()

	if ct, ok := tb.cache[key]; ok {
		tb.touch(key)
		tb.current.Store(ct)
		tb.logger.Debug("corpus served from cache", "pages", key)
		return ct.corpus, nil
	}

	ct, err := tb.buildCorpus(ctx, key, pages)
	if err != nil {
		return Corpus{}, err
	}
	tb.remember(ct)
	tb.current.Store(ct)
	return ct.corpus, nil
}

func (tb *Toolbox) buildCorpus(ctx context.Context, key string, pages []string) (*corpusTools, error) {
	start := time.Now()
	corpus := Corpus{Key: key, Pages: pages}

	var (
		index  *retrieval.Index
		engine *retrieval.Engine
	)
	if tb.cfg.Tools.Wikipedia.Enabled {
		// With no pages the tool is still offered and answers NoInformation.
		var searcher retrieval.Searcher
		if len(pages) > 0 {
			var err error
			if index, err = tb.openIndex(ctx, key, pages, &corpus); err != nil {
				return nil, err
			}
			searcher = index
		}
		opts := []retrieval.EngineOption{retrieval.WithTopK(tb.cfg.Retrieval.TopK)}
		if tb.deps.LLM != nil {
			opts = append(opts, retrieval.WithLLM(tb.deps.LLM, tb.deps.Model, tb.cfg.Agent.Temperature))
		}
		engine = retrieval.NewEngine(searcher, tb.logger, opts...)
	}

	reg, err := tb.buildRegistry(pages, engine)
	if err != nil {
		if index != nil {
			index.Close()
		}
		return nil, err
	}

	tb.logger.Info("tool registry built",
		"pages", key, "articles", corpus.Articles, "chunks", corpus.Chunks,
		"tools", reg.Names(), "duration_ms", time.Since(start).Milliseconds())
	return &corpusTools{corpus: corpus, index: index, registry: reg}, nil
}

// openIndex opens the index for key and fills it unless it already holds
// chunks from an earlier run.
func (tb *Toolbox) openIndex(ctx context.Context, key string, pages []string, corpus *Corpus) (*retrieval.Index, error) {
	rcfg := tb.cfg.Retrieval
	index, err := retrieval.Open(retrieval.IndexPath(rcfg.DataDir, key), tb.deps.Embedder, tb.logger, retrieval.Options{
		ChunkTokens: rcfg.ChunkTokens,
		Counter:     tb.counter,
		MinScore:    rcfg.MinScore,
	})
	if err != nil {
		return nil, err
	}

	chunks, err := index.Count(ctx)
	if err != nil {
		index.Close()
		return nil, err
	}
	if chunks == 0 {
		docs, err := tb.loader.Load(ctx, pages)
		if err != nil {
			index.Close()
			return nil, err
		}
		if chunks, err = index.AddDocuments(ctx, docs); err != nil {
			index.Close()
			return nil, err
		}
	}

	titles, err := index.Titles(ctx)
	if err != nil {
		index.Close()
		return nil, err
	}
	corpus.Articles = len(titles)
	corpus.Chunks = chunks
	return index, nil
}

func (tb *Toolbox) buildRegistry(pages []string, engine *retrieval.Engine) (*tool.Registry, error) {
	reg := tool.NewRegistry(tb.logger)
	toggles := tb.cfg.Tools

	if engine != nil {
		if err := reg.RegisterFunc(WikipediaToolName, WikipediaDescription(pages),
			engine.Query, toggles.Wikipedia.ReturnDirect); err != nil {
			return nil, err
		}
	}
	if tb.sqlTool != nil {
		if err := reg.RegisterFunc(SQLToolName, SQLDescription(tb.sqlTool.Table()),
			tb.sqlTool.Query, toggles.SQL.ReturnDirect); err != nil {
			return nil, err
		}
	}
	if tb.calcTool != nil {
		if err := reg.RegisterFunc(CalculatorToolName, CalculatorDescription,
			tb.calcTool.Query, toggles.Calculator.ReturnDirect); err != nil {
			return nil, err
		}
	}
	for _, t := range tb.deps.Extra {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// touch marks key as most recently used. Must be called with tb.mu held.
func (tb *Toolbox) touch(key string) {
	for i, k := range tb.order {
		if k == key {
			tb.order = append(tb.order[:i], tb.order[i+1:]...)
			break
		}
	}
	tb.order = append(tb.order, key)
}

// remember caches ct, closing the oldest cached index beyond the bound.
// Must be called with tb.mu held.
func (tb *Toolbox) remember(ct *corpusTools) {
	tb.cache[ct.corpus.Key] = ct
	tb.order = append(tb.order, ct.corpus.Key)

	for len(tb.order) > maxCachedCorpora {
		oldest := tb.order[0]
		tb.order = tb.order[1:]
		if old := tb.cache[oldest]; old != nil && old.index != nil {
			if err := old.index.Close(); err != nil {
				tb.logger.Warn("close evicted index", "pages", oldest, "error", err)
			}
		}
		delete(tb.cache, oldest)
	}
}

// Close releases every cached index and the SQL connection it opened.
func (tb *Toolbox) Close() error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	var errs []error
	for key, ct := range tb.cache {
		if ct.index != nil {
			if err := ct.index.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close index %q: %w", key, err))
			}
		}
	}
	clear(tb.cache)
	tb.order = nil

	if tb.ownsDB && tb.sqlDB != nil {
		if err := tb.sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sql: %w", err))
		}
		tb.sqlDB = nil
	}
	return errors.Join(errs...)
}
