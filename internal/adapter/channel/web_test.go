package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikichat/internal/adapter/llm"
	"wikichat/internal/adapter/tool"
	"wikichat/internal/adapter/wikipedia"
	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
	"wikichat/internal/usecase"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeCorpus records the page lists it is given.
type fakeCorpus struct {
	mu      sync.Mutex
	current usecase.Corpus
	err     error
}

func (f *fakeCorpus) SetCorpus(_ context.Context, raw string) (usecase.Corpus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return usecase.Corpus{}, f.err
	}
	pages := wikipedia.ParseCorpus(raw)
	f.current = usecase.Corpus{Key: wikipedia.CorpusKey(pages), Pages: pages, Articles: len(pages), Chunks: 3 * len(pages)}
	return f.current, nil
}

func (f *fakeCorpus) Corpus() usecase.Corpus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

type webTest struct {
	srv      *httptest.Server
	corpus   *fakeCorpus
	sessions *usecase.SessionManager
}

func tokyoRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(quietLogger())
	require.NoError(t, reg.RegisterFunc("Wiki", "topics: Tokyo, Berlin",
		func(context.Context, string) (string, error) { return "Tokyo is the capital of Japan.", nil }, true))
	require.NoError(t, reg.RegisterFunc("Broken", "topics: Atlantis",
		func(context.Context, string) (string, error) { return "", errors.New("backend down") }, true))
	return reg
}

func newWebTest(t *testing.T, cfg config.WebConfig) *webTest {
	t.Helper()
	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:            llm.NewMatchProvider(config.ProviderConfig{}, quietLogger()),
		ContextBuilder: usecase.NewContextBuilder("test", "match", 20, 0),
		Logger:         quietLogger(),
		Mode:           config.ModeConversational,
	})
	conv := usecase.NewConversation(agent, usecase.StaticTools(tokyoRegistry(t)), nil, quietLogger())
	corpus := &fakeCorpus{}
	sessions := usecase.NewSessionManager("")
	wc := NewWebChannel(cfg, conv, sessions, corpus, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(wc.Handler(ctx))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &webTest{srv: srv, corpus: corpus, sessions: sessions}
}

func (wt *webTest) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, c *http.Client, u, body string) *http.Response {
	t.Helper()
	resp, err := c.Post(u, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestWebAPIChatTokyo(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})
	c := wt.client(t)

	resp := postJSON(t, c, wt.srv.URL+"/api/v1/chat", `{"message":"What is Tokyo?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[apiChatResponse](t, resp)
	assert.Equal(t, "Tokyo is the capital of Japan.", got.Response)
	assert.Equal(t, []string{"Wiki"}, got.Tools)
	assert.NotEmpty(t, got.ID)

	tr, err := c.Get(wt.srv.URL + "/api/v1/transcript")
	require.NoError(t, err)
	body := decode[struct{ Turns []domain.Turn }](t, tr)
	tr.Body.Close()
	require.Len(t, body.Turns, 1)
	assert.Equal(t, "What is Tokyo?", body.Turns[0].UserText)
}

func TestWebAPIChatEmptyIsNoContent(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})
	c := wt.client(t)

	resp := postJSON(t, c, wt.srv.URL+"/api/v1/chat", `{"message":"   "}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	tr, err := c.Get(wt.srv.URL + "/api/v1/transcript")
	require.NoError(t, err)
	body := decode[struct{ Turns []domain.Turn }](t, tr)
	tr.Body.Close()
	assert.Empty(t, body.Turns)
}

func TestWebAPIChatErrors(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{MaxBodyBytes: 64})
	c := wt.client(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   domain.ErrorCode
	}{
		{"bad json", `{"message":`, http.StatusBadRequest, domain.CodeInvalidInput},
		{"too large", `{"message":"` + strings.Repeat("x", 100) + `"}`, http.StatusRequestEntityTooLarge, domain.CodeInvalidInput},
		{"tool failure", `{"message":"Atlantis?"}`, http.StatusBadGateway, domain.CodeToolFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, c, wt.srv.URL+"/api/v1/chat", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			got := decode[apiError](t, resp)
			assert.Equal(t, tt.code, got.Code)
			assert.NotEmpty(t, got.Error)
		})
	}
}

func TestWebFormFlowNewestFirst(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})
	c := wt.client(t)

	for _, q := range []string{"What is Berlin?", "What is Tokyo?"} {
		resp, err := c.PostForm(wt.srv.URL+"/chat", url.Values{"message": {q}})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := c.Get(wt.srv.URL + "/")
	require.NoError(t, err)
	page := readBody(t, resp)

	first := strings.Index(page, "What is Berlin?")
	second := strings.Index(page, "What is Tokyo?")
	require.True(t, first > 0 && second > 0, page)
	assert.Less(t, second, first, "newest turn should render first")
	assert.Contains(t, page, "Refresh chat")
}

func TestWebFormChatErrorRendersPage(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})
	c := wt.client(t)

	resp, err := c.PostForm(wt.srv.URL+"/chat", url.Values{"message": {"Atlantis?"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "backend down")
}

func TestWebResetClearsOnlyCallerSession(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})
	alice, bob := wt.client(t), wt.client(t)

	postJSON(t, alice, wt.srv.URL+"/api/v1/chat", `{"message":"What is Tokyo?"}`)
	postJSON(t, bob, wt.srv.URL+"/api/v1/chat", `{"message":"What is Tokyo?"}`)

	resp, err := alice.PostForm(wt.srv.URL+"/reset", nil)
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = alice.PostForm(wt.srv.URL+"/reset", nil)
	require.NoError(t, err)
	resp.Body.Close()

	transcript := func(c *http.Client) []domain.Turn {
		resp, err := c.Get(wt.srv.URL + "/api/v1/transcript")
		require.NoError(t, err)
		defer resp.Body.Close()
		return decode[struct{ Turns []domain.Turn }](t, resp).Turns
	}
	assert.Empty(t, transcript(alice))
	assert.Len(t, transcript(bob), 1)
}

func TestWebPagesForm(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})
	c := wt.client(t)

	resp, err := c.PostForm(wt.srv.URL+"/pages", url.Values{"pages": {" Tokyo, Berlin ,, Tokyo"}})
	require.NoError(t, err)
	page := readBody(t, resp)

	assert.Contains(t, page, "2 articles have been parsed and indexed")
	assert.Contains(t, page, `value="Tokyo, Berlin"`)
	assert.Equal(t, []string{"Tokyo", "Berlin"}, wt.corpus.Corpus().Pages)

	wt.corpus.mu.Lock()
	wt.corpus.err = domain.NewSubSystemError("wikipedia", "Client.GetPage", domain.ErrProviderError, "status 503")
	wt.corpus.mu.Unlock()
	resp, err = c.PostForm(wt.srv.URL+"/pages", url.Values{"pages": {"Rome"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()
}

func TestWebToolsAndHealth(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})
	c := wt.client(t)

	resp, err := c.Get(wt.srv.URL + "/api/v1/tools")
	require.NoError(t, err)
	tools := decode[struct{ Tools []apiTool }](t, resp)
	resp.Body.Close()
	require.Len(t, tools.Tools, 2)
	assert.Equal(t, apiTool{Name: "Wiki", Description: "topics: Tokyo, Berlin", ReturnDirect: true}, tools.Tools[0])

	resp, err = c.Get(wt.srv.URL + "/api/v1/health")
	require.NoError(t, err)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	health := decode[map[string]any](t, resp)
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

func TestWebSessionCookie(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})

	resp := postJSON(t, http.DefaultClient, wt.srv.URL+"/api/v1/chat", `{"message":"What is Tokyo?"}`)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Len(t, cookie.Value, 26)

	// A forged cookie value is replaced.
	req, _ := http.NewRequest(http.MethodPost, wt.srv.URL+"/api/v1/chat", strings.NewReader(`{"message":""}`))
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "../../etc"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotNil(t, sessionCookie(resp))
}

func TestWebReadsDoNotCreateSessions(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{})

	for _, path := range []string{"/", "/api/v1/transcript"} {
		resp, err := http.Get(wt.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Nil(t, sessionCookie(resp), path)
	}
	for _, path := range []string{"/reset", "/api/v1/reset"} {
		resp, err := http.Post(wt.srv.URL+path, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
	}

	// A well-formed cookie for a session that was never created is not adopted.
	req, _ := http.NewRequest(http.MethodGet, wt.srv.URL+"/api/v1/transcript", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "01ARZ3NDEKTSV4RRFFQ69G5FAV"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	transcript := decode[struct{ Turns []domain.Turn }](t, resp)
	resp.Body.Close()
	assert.Empty(t, transcript.Turns)

	assert.Empty(t, wt.sessions.Keys())
}

func TestWebRateLimit(t *testing.T) {
	wt := newWebTest(t, config.WebConfig{RateLimitPerMin: 1, RateLimitBurst: 1})
	c := wt.client(t)

	var last int
	for i := 0; i < 3; i++ {
		resp, err := c.Get(wt.srv.URL + "/api/v1/health")
		require.NoError(t, err)
		last = resp.StatusCode
		resp.Body.Close()
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewDomainError("x", domain.ErrInvalidInput, ""), http.StatusBadRequest},
		{domain.NewSubSystemError("sqldb", "x", domain.ErrReadOnlyQuery, ""), http.StatusBadRequest},
		{domain.NewDomainError("x", domain.ErrToolFailure, ""), http.StatusBadGateway},
		{domain.NewDomainError("x", domain.ErrGenerationUnsupported, ""), http.StatusUnprocessableEntity},
		{fmt.Errorf("route: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{domain.NewSubSystemError("sqldb", "x", domain.ErrTimeout, ""), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestWebChannelStartStop(t *testing.T) {
	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:            llm.NewMatchProvider(config.ProviderConfig{}, quietLogger()),
		ContextBuilder: usecase.NewContextBuilder("test", "match", 20, 0),
		Logger:         quietLogger(),
	})
	conv := usecase.NewConversation(agent, usecase.StaticTools(tokyoRegistry(t)), nil, quietLogger())
	wc := NewWebChannel(config.WebConfig{Addr: "127.0.0.1:0"}, conv, usecase.NewSessionManager(""), nil, quietLogger())

	require.NoError(t, wc.Start(context.Background()))
	assert.Equal(t, "web", wc.Name())

	resp, err := http.Get("http://" + wc.Addr() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, wc.Stop(context.Background()))
}
