package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wikichat/internal/domain"
	"wikichat/internal/infra/tracer"
)

const (
	defaultMaxRows = 50
	defaultTimeout = 15 * time.Second
	sampleRows     = 3
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const translatePrompt = `Given an input question, create a syntactically correct %s query to run.
Unless the user specifies a specific number of examples, query for at most %d results.
Never query for all columns from a table; only ask for the few columns relevant to the question.
Only use read-only SELECT statements. Only use the following table:

%s

Question: %s
Return only the SQL query, with no explanation.
SQLQuery:`

const summarizePrompt = `Question: %s
SQLQuery: %s
SQLResult:
%s

Answer the question in one or two sentences using only the SQL result.
Answer:`

// Backend answers questions about one table. Natural-language questions
// are translated to SQL by the LLM; SELECT and WITH statements run as-is.
type Backend struct {
	db         *sql.DB
	table      string
	dialect    string
	llm        domain.LLMProvider
	model      string
	maxRows    int
	timeout    time.Duration
	summarize  bool
	txReadOnly bool
	logger     *slog.Logger

	schemaMu sync.Mutex
	schema   string
}

// Option configures a Backend.
type Option func(*Backend)

// WithLLM enables question translation.
func WithLLM(llm domain.LLMProvider, model string) Option {
	return func(b *Backend) {
		b.llm = llm
		b.model = model
	}
}

// WithDialect names the SQL dialect in translation prompts.
func WithDialect(dialect string) Option {
	return func(b *Backend) { b.dialect = dialect }
}

// WithMaxRows caps the rows rendered per query.
func WithMaxRows(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.maxRows = n
		}
	}
}

// WithTimeout bounds each query.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithSummarize asks the LLM to answer from the rows instead of returning them.
func WithSummarize(on bool) Option {
	return func(b *Backend) { b.summarize = on }
}

// WithReadOnlyTransactions runs every statement in a read-only transaction,
// so the server also refuses writes hidden in function calls. Used for
// MySQL and PostgreSQL.
func WithReadOnlyTransactions(on bool) Option {
	return func(b *Backend) { b.txReadOnly = on }
}

// NewBackend creates a backend over table. The table name must be a plain
// identifier.
func NewBackend(db *sql.DB, table string, logger *slog.Logger, opts ...Option) (*Backend, error) {
	if !identRe.MatchString(table) {
		return nil, domain.NewSubSystemError("sqldb", "sqldb.NewBackend", domain.ErrInvalidInput,
			fmt.Sprintf("invalid table name %q", table))
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		db:      db,
		table:   table,
		dialect: "SQLite",
		maxRows: defaultMaxRows,
		timeout: defaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Table returns the table this backend answers about.
func (b *Backend) Table() string { return b.table }

// Query implements domain.QueryBackend.
func (b *Backend) Query(ctx context.Context, text string) (string, error) {
	return b.Run(ctx, text)
}

// Run answers text against the table.
func (b *Backend) Run(ctx context.Context, text string) (string, error) {
	const op = "sqldb.Run"

	ctx, span := tracer.StartSpan(ctx, "sqldb.run",
		trace.WithAttributes(tracer.StringAttr("sqldb.table", b.table)),
	)
	defer span.End()

	stmt, err := b.toSQL(ctx, text)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	checked, err := checkReadOnly(stmt)
	if err != nil {
		tracer.RecordError(span, err)
		b.logger.Warn("sqldb: rejected statement", "sql", stmt, "error", err)
		return "", err
	}
	stmt = checked
	span.SetAttributes(tracer.StringAttr("sqldb.statement", stmt))

	res, err := b.execute(ctx, stmt)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	span.SetAttributes(
		tracer.IntAttr("sqldb.rows", len(res.rows)),
		tracer.BoolAttr("sqldb.truncated", res.truncated),
	)
	b.logger.Debug("sqldb: query executed", "sql", stmt, "rows", len(res.rows), "truncated", res.truncated)

	rendered := res.render()
	if b.summarize && b.llm != nil {
		answer, err := b.complete(ctx, fmt.Sprintf(summarizePrompt, text, stmt, rendered))
		switch {
		case err == nil && answer != "":
			tracer.SetOK(span)
			return answer, nil
		case err != nil && !errors.Is(err, domain.ErrGenerationUnsupported):
			tracer.RecordError(span, err)
			return "", fmt.Errorf("%s: summarize: %w", op, err)
		}
	}

	tracer.SetOK(span)
	return "SQLQuery: " + stmt + "\n\n" + rendered, nil
}

// toSQL returns text when it is already a statement, or asks the LLM to
// translate it.
func (b *Backend) toSQL(ctx context.Context, text string) (string, error) {
	const op = "sqldb.toSQL"

	text = strings.TrimSpace(text)
	if looksLikeSQL(text) {
		return text, nil
	}
	if b.llm == nil {
		return "", domain.NewSubSystemError("sqldb", op, domain.ErrGenerationUnsupported,
			"no model configured to translate questions; send a SELECT statement")
	}

	schema, err := b.Schema(ctx)
	if err != nil {
		return "", err
	}

	out, err := b.complete(ctx, fmt.Sprintf(translatePrompt, b.dialect, b.maxRows, schema, text))
	if err != nil {
		if errors.Is(err, domain.ErrGenerationUnsupported) {
			return "", domain.NewSubSystemError("sqldb", op, domain.ErrGenerationUnsupported,
				"the configured model cannot translate questions; send a SELECT statement")
		}
		return "", fmt.Errorf("%s: translate: %w", op, err)
	}
	stmt := extractSQL(out)
	if stmt == "" {
		return "", domain.NewSubSystemError("sqldb", op, domain.ErrInvalidInput, "model returned no SQL")
	}
	return stmt, nil
}

func (b *Backend) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.llm.Chat(ctx, domain.ChatRequest{
		Model: b.model,
		Messages: []domain.Message{{
			Role:      domain.RoleUser,
			Content:   prompt,
			Timestamp: time.Now(),
		}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// extractSQL strips code fences and prompt echoes from a model reply.
func extractSQL(out string) string {
	s := strings.TrimSpace(out)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.Contains(s[:nl], " ") {
			s = s[nl+1:]
		}
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	if i := strings.Index(s, "SQLQuery:"); i >= 0 {
		s = s[i+len("SQLQuery:"):]
	}
	if i := strings.Index(s, "SQLResult:"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Schema describes the table as CREATE-style column list plus sample rows.
// The description is cached after the first successful call.
func (b *Backend) Schema(ctx context.Context) (string, error) {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()
	if b.schema != "" {
		return b.schema, nil
	}

	res, err := b.execute(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", b.table, sampleRows))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", b.table)
	for i, col := range res.columns {
		typ := res.types[i]
		if typ == "" {
			typ = "TEXT"
		}
		fmt.Fprintf(&sb, "\t%s %s", col, typ)
		if i < len(res.columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(")\n\n")
	fmt.Fprintf(&sb, "/*\n%d rows from %s table:\n%s*/", len(res.rows), b.table, res.render())

	b.schema = sb.String()
	return b.schema, nil
}

// execute runs stmt with the backend timeout, reading at most maxRows rows.
func (b *Backend) execute(ctx context.Context, stmt string) (*result, error) {
	const op = "sqldb.execute"

	qctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var q interface {
		QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	} = b.db
	if b.txReadOnly {
		tx, err := b.db.BeginTx(qctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, b.queryError(ctx, qctx, op, err)
		}
		// Nothing is committed.
		defer func() { _ = tx.Rollback() }()
		q = tx
	}

	rows, err := q.QueryContext(qctx, stmt)
	if err != nil {
		return nil, b.queryError(ctx, qctx, op, err)
	}
	defer rows.Close()

	res, err := readRows(rows, b.maxRows)
	if err != nil {
		return nil, b.queryError(ctx, qctx, op, err)
	}
	return res, nil
}

func (b *Backend) queryError(parent, qctx context.Context, op string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", op, parent.Err())
	}
	if errors.Is(qctx.Err(), context.DeadlineExceeded) {
		return domain.NewSubSystemError("sqldb", op, domain.ErrTimeout,
			fmt.Sprintf("query exceeded %s", b.timeout))
	}
	if isReadOnlyViolation(err) {
		return domain.NewSubSystemError("sqldb", op, domain.ErrReadOnlyQuery, err.Error())
	}
	return domain.NewSubSystemError("sqldb", op, domain.ErrInvalidInput, err.Error())
}

// isReadOnlyViolation matches the server's refusal to write inside a
// read-only transaction (PostgreSQL 25006, MySQL 1792).
func isReadOnlyViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "read-only transaction") ||
		strings.Contains(msg, "read only transaction") ||
		strings.Contains(msg, "sqlstate 25006")
}
