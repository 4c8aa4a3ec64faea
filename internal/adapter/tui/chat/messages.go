// Package chat implements the wikichat terminal chat as a Bubble Tea program.
package chat

import (
	"wikichat/internal/domain"
	"wikichat/internal/usecase"
)

// SubmitDoneMsg carries the result of a submitted question. Gen identifies
// the request so results of cancelled requests can be discarded.
type SubmitDoneMsg struct {
	Turn *domain.Turn
	Err  error
	Gen  uint64
}

// PagesDoneMsg carries the result of a /pages command.
type PagesDoneMsg struct {
	Corpus usecase.Corpus
	Err    error
	Gen    uint64
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
