package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
	"wikichat/internal/infra/middleware"
	"wikichat/internal/usecase"
)

// SessionCookie names the cookie that keys a browser's session.
const SessionCookie = "wikichat_session"

// CorpusManager swaps the indexed page set behind the tool registry.
type CorpusManager interface {
	SetCorpus(ctx context.Context, raw string) (usecase.Corpus, error)
	Corpus() usecase.Corpus
}

// WebChannel serves the chat page and its JSON API.
type WebChannel struct {
	cfg      config.WebConfig
	conv     *usecase.Conversation
	sessions *usecase.SessionManager
	corpus   CorpusManager
	logger   *slog.Logger

	server    *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// NewWebChannel creates the web channel. corpus may be nil, which hides
// the pages form and rejects POST /pages.
func NewWebChannel(cfg config.WebConfig, conv *usecase.Conversation, sessions *usecase.SessionManager,
	corpus CorpusManager, logger *slog.Logger) *WebChannel {
	return &WebChannel{
		cfg:      cfg,
		conv:     conv,
		sessions: sessions,
		corpus:   corpus,
		logger:   logger,
	}
}

// Name implements domain.Channel.
func (wc *WebChannel) Name() string { return "web" }

// Addr returns the bound address once Start has returned.
func (wc *WebChannel) Addr() string { return wc.boundAddr }

// Handler builds the routed handler with the security middleware applied.
// The rate limiter's cleanup goroutine lives until ctx is done.
func (wc *WebChannel) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", wc.handlePage)
	mux.HandleFunc("POST /chat", wc.handleFormChat)
	mux.HandleFunc("POST /reset", wc.handleFormReset)
	mux.HandleFunc("POST /pages", wc.handleFormPages)

	mux.HandleFunc("POST /api/v1/chat", wc.handleAPIChat)
	mux.HandleFunc("POST /api/v1/reset", wc.handleAPIReset)
	mux.HandleFunc("GET /api/v1/transcript", wc.handleAPITranscript)
	mux.HandleFunc("GET /api/v1/tools", wc.handleAPITools)
	mux.HandleFunc("GET /api/v1/health", wc.handleHealth)

	return middleware.Chain(mux,
		middleware.AccessLog(wc.logger),
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: wc.cfg.RateLimitPerMin,
			BurstSize:      wc.cfg.RateLimitBurst,
			TrustedProxies: wc.cfg.TrustedProxies,
		}),
		middleware.MaxBody(wc.cfg.MaxBodyBytes),
	)
}

// Start listens and serves in the background.
func (wc *WebChannel) Start(ctx context.Context) error {
	ctx, wc.cancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", wc.cfg.Addr)
	if err != nil {
		wc.cancel()
		return fmt.Errorf("listen %s: %w", wc.cfg.Addr, err)
	}
	wc.boundAddr = ln.Addr().String()

	wc.server = &http.Server{
		Handler:           wc.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		wc.logger.Info("web channel started", "addr", wc.boundAddr)
		if err := wc.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wc.logger.Error("web server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (wc *WebChannel) Stop(ctx context.Context) error {
	if wc.cancel != nil {
		wc.cancel()
	}
	if wc.server == nil {
		return nil
	}
	return wc.server.Shutdown(ctx)
}

// session returns the caller's session, issuing a cookie when absent.
// Only requests that change state call it.
func (wc *WebChannel) session(w http.ResponseWriter, r *http.Request) *usecase.Session {
	id := cookieID(r)
	if id == "" {
		id = ulid.Make().String()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return wc.sessions.GetOrCreate("web:" + id)
}

// existingSession returns the caller's session or nil. It never creates
// one, so reads from cookieless clients leave no state behind.
func (wc *WebChannel) existingSession(r *http.Request) *usecase.Session {
	id := cookieID(r)
	if id == "" {
		return nil
	}
	s, err := wc.sessions.Get("web:" + id)
	if err != nil {
		return nil
	}
	return s
}

func cookieID(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	if _, err := ulid.ParseStrict(c.Value); err != nil {
		return ""
	}
	return c.Value
}

// --- HTML page ---

type pageData struct {
	Turns    []domain.Turn
	Pages    string
	Articles int
	Chunks   int
	Notice   string
	Error    string
	HasPages bool
}

func (wc *WebChannel) handlePage(w http.ResponseWriter, r *http.Request) {
	wc.render(w, wc.existingSession(r), http.StatusOK, r.URL.Query().Get("notice"), "")
}

func (wc *WebChannel) render(w http.ResponseWriter, s *usecase.Session, status int, notice, errMsg string) {
	var turns []domain.Turn
	if s != nil {
		turns = s.TurnsNewestFirst()
	}
	data := pageData{
		Turns:    turns,
		Notice:   notice,
		Error:    errMsg,
		HasPages: wc.corpus != nil,
	}
	if wc.corpus != nil {
		c := wc.corpus.Corpus()
		data.Pages = c.Key
		data.Articles = c.Articles
		data.Chunks = c.Chunks
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, data); err != nil {
		wc.logger.Warn("render page", "error", err)
	}
}

func (wc *WebChannel) handleFormChat(w http.ResponseWriter, r *http.Request) {
	s := wc.session(w, r)
	if err := r.ParseForm(); err != nil {
		wc.render(w, s, http.StatusBadRequest, "", "invalid form: "+err.Error())
		return
	}
	if _, err := wc.conv.Submit(r.Context(), s, r.PostForm.Get("message")); err != nil {
		wc.render(w, s, statusFor(err), "", err.Error())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (wc *WebChannel) handleFormReset(w http.ResponseWriter, r *http.Request) {
	if s := wc.existingSession(r); s != nil {
		wc.conv.Reset(s)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (wc *WebChannel) handleFormPages(w http.ResponseWriter, r *http.Request) {
	s := wc.existingSession(r)
	if wc.corpus == nil {
		wc.render(w, s, http.StatusNotFound, "", "page selection is disabled")
		return
	}
	if err := r.ParseForm(); err != nil {
		wc.render(w, s, http.StatusBadRequest, "", "invalid form: "+err.Error())
		return
	}
	c, err := wc.corpus.SetCorpus(r.Context(), r.PostForm.Get("pages"))
	if err != nil {
		wc.render(w, s, statusFor(err), "", err.Error())
		return
	}
	http.Redirect(w, r, "/?notice="+indexedNotice(c), http.StatusSeeOther)
}

// indexedNotice is the query-escaped confirmation shown after indexing.
func indexedNotice(c usecase.Corpus) string {
	return url.QueryEscape(fmt.Sprintf("%d articles have been parsed and indexed", c.Articles))
}

// --- JSON API ---

type apiChatRequest struct {
	Message string `json:"message"`
}

type apiChatResponse struct {
	ID       string   `json:"id"`
	Response string   `json:"response"`
	Tools    []string `json:"tools"`
}

type apiTool struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ReturnDirect bool   `json:"return_direct"`
}

type apiError struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

func (wc *WebChannel) handleAPIChat(w http.ResponseWriter, r *http.Request) {
	s := wc.session(w, r)

	var req apiChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, apiError{
				Error: fmt.Sprintf("request body too large (max %d bytes)", tooLarge.Limit),
				Code:  domain.CodeInvalidInput,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON: " + err.Error(), Code: domain.CodeInvalidInput})
		return
	}

	turn, err := wc.conv.Submit(r.Context(), s, req.Message)
	if err != nil {
		wc.writeError(w, err)
		return
	}
	if turn == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	tools := turn.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	writeJSON(w, http.StatusOK, apiChatResponse{ID: turn.ID, Response: turn.AgentResponse, Tools: tools})
}

func (wc *WebChannel) handleAPIReset(w http.ResponseWriter, r *http.Request) {
	if s := wc.existingSession(r); s != nil {
		wc.conv.Reset(s)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (wc *WebChannel) handleAPITranscript(w http.ResponseWriter, r *http.Request) {
	var turns []domain.Turn
	if s := wc.existingSession(r); s != nil {
		turns = s.TurnsNewestFirst()
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (wc *WebChannel) handleAPITools(w http.ResponseWriter, _ *http.Request) {
	list := wc.conv.Tools().List()
	out := make([]apiTool, len(list))
	for i, t := range list {
		out[i] = apiTool{Name: t.Name(), Description: t.Description(), ReturnDirect: t.ReturnDirect()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (wc *WebChannel) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if wc.corpus != nil {
		c := wc.corpus.Corpus()
		resp["pages"] = c.Pages
		resp["articles"] = c.Articles
	}
	writeJSON(w, http.StatusOK, resp)
}

func (wc *WebChannel) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		wc.logger.Warn("web request failed", "error", err, "status", status)
	}
	writeJSON(w, status, apiError{Error: err.Error(), Code: domain.ErrorCodeOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to the HTTP status the API reports it with.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch domain.ErrorCodeOf(err) {
	case domain.CodeInvalidInput, domain.CodeReadOnlyQuery, domain.CodeExpression:
		return http.StatusBadRequest
	case domain.CodeNotFound, domain.CodeSessionNotFound, domain.CodePageNotFound, domain.CodeToolNotFound:
		return http.StatusNotFound
	case domain.CodeNoGeneration:
		return http.StatusUnprocessableEntity
	case domain.CodeRateLimit:
		return http.StatusTooManyRequests
	case domain.CodeTimeout, domain.CodeSQLTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeToolFailure, domain.CodeProviderError, domain.CodeWikipediaFailed,
		domain.CodeCircuitOpen, domain.CodeAuthInvalid, domain.CodeMaxIterations:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>wikichat</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 46rem; margin: 2rem auto; padding: 0 1rem; }
form { display: flex; gap: .5rem; margin-bottom: 1rem; }
input[type=text] { flex: 1; padding: .4rem; }
.notice { color: #1a7f37; }
.error { color: #cf222e; }
.turn { border-top: 1px solid #ddd; padding: .5rem 0; }
.user { font-weight: 600; }
.agent { white-space: pre-wrap; }
.tools { color: #666; font-size: .85rem; }
</style>
</head>
<body>
<h1>wikichat</h1>
{{if .HasPages}}
<form method="post" action="/pages">
  <input type="text" name="pages" value="{{.Pages}}" placeholder="Wikipedia pages, comma separated">
  <button type="submit">Index pages</button>
</form>
{{end}}
{{with .Notice}}<p class="notice">{{.}}</p>{{end}}
{{with .Error}}<p class="error">{{.}}</p>{{end}}
<form method="post" action="/chat">
  <input type="text" name="message" autofocus placeholder="Ask a question">
  <button type="submit">Send</button>
</form>
<form method="post" action="/reset">
  <button type="submit">Refresh chat</button>
</form>
{{range .Turns}}
<div class="turn">
  <div class="user">{{.UserText}}</div>
  <div class="agent">{{.AgentResponse}}</div>
  {{with .ToolsUsed}}<div class="tools">tools: {{range $i, $t := .}}{{if $i}}, {{end}}{{$t}}{{end}}</div>{{end}}
</div>
{{end}}
</body>
</html>
`))
