// Package uxerror turns errors from a turn into short notices with next
// steps for the chat view.
package uxerror

import (
	"errors"
	"strings"

	"wikichat/internal/adapter/tui/theme"
	"wikichat/internal/domain"
)

// Notice is what the chat view shows in place of a raw error.
type Notice struct {
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render lays the notice out as indented lines.
func (n Notice) Render() string {
	lines := []string{n.Title}
	if n.Message != "" {
		lines = append(lines, "  "+n.Message)
	}
	if len(n.Hints) > 0 {
		lines = append(lines, "  Suggestions:")
		for _, h := range n.Hints {
			lines = append(lines, "    "+theme.Sym.Bullet+" "+h)
		}
	}
	return strings.Join(lines, "\n")
}

// advice matches an error by sentinel or, for errors from outside the
// domain, by a lower-case marker in its text. An empty message shows the
// error text itself.
type advice struct {
	title   string
	message string
	hints   []string
	is      []error
	markers []string
}

// Order matters: sentinels that describe a rejection come before the
// transport problems their messages may mention.
var catalogue = []advice{
	{
		title: "Agent Loop Limit Reached", message: "The agent used every step it is allowed without answering.",
		hints: []string{"Ask a narrower question", "Raise agent.max_iterations in config"},
		is:    []error{domain.ErrMaxIterations},
	},
	{
		title: "Query Rejected", message: "Only read-only SELECT statements may run against the database.",
		hints: []string{"Rephrase the question as a lookup", "Send a SELECT statement directly"},
		is:    []error{domain.ErrReadOnlyQuery},
	},
	{
		title: "Cannot Evaluate",
		hints: []string{"Write the expression with numbers and + - * / ^", "Configure a generative model to rewrite word problems"},
		is:    []error{domain.ErrExpression},
	},
	{
		title: "Page Not Found",
		hints: []string{"Check the spelling of the page title", "Use the title exactly as it appears on Wikipedia"},
		is:    []error{domain.ErrPageNotFound},
	},
	{
		title: "Needs a Generative Model",
		hints: []string{"Configure an openai or ollama provider", "Send a SELECT statement for database questions"},
		is:    []error{domain.ErrGenerationUnsupported},
	},
	{
		title: "Provider Paused", message: "Too many recent failures; calls are paused briefly.",
		hints: []string{"Wait a few seconds and try again"},
		is:    []error{domain.ErrCircuitOpen},
	},
	{
		title: "Authentication Failed", message: "The API key or credentials were rejected.",
		hints:   []string{"Check WIKICHAT_LLM_API_KEY", "Make sure the key has not expired"},
		is:      []error{domain.ErrAuthInvalid},
		markers: []string{"401", "unauthorized", "invalid api key"},
	},
	{
		title: "Rate Limited", message: "The model provider is refusing requests for now.",
		hints:   []string{"Wait a moment before retrying"},
		is:      []error{domain.ErrRateLimit},
		markers: []string{"429", "rate limit", "too many requests"},
	},
	{
		title: "Tool Failed",
		hints: []string{"Try again", "Check the logs for the backend error"},
		is:    []error{domain.ErrToolFailure},
	},
	{
		title: "Connection Failed", message: "Could not reach the remote service.",
		hints:   []string{"Check your network connection", "Verify the service URL in config"},
		markers: []string{"connection refused", "dial tcp", "no such host"},
	},
	{
		title: "Request Timed Out", message: "The request took too long to complete.",
		hints:   []string{"Try a simpler question", "Increase agent.timeout in config"},
		is:      []error{domain.ErrTimeout},
		markers: []string{"deadline exceeded", "timeout"},
	},
}

func (a advice) matches(err error, text string) bool {
	for _, target := range a.is {
		if errors.Is(err, target) {
			return true
		}
	}
	for _, m := range a.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Humanize picks the first matching advice for err.
func Humanize(err error) Notice {
	if err == nil {
		return Notice{Title: "Unknown Error", Raw: "nil"}
	}
	raw := err.Error()
	text := strings.ToLower(raw)
	for _, a := range catalogue {
		if !a.matches(err, text) {
			continue
		}
		msg := a.message
		if msg == "" {
			msg = raw
		}
		return Notice{Title: a.title, Message: msg, Hints: a.hints, Raw: raw}
	}
	return Notice{
		Title:   "Unexpected Error",
		Message: raw,
		Hints:   []string{"Try again", "Set logger.level: debug in config for more details"},
		Raw:     raw,
	}
}
