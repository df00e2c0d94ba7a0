// Package chat holds one question/answer conversation about a video or a
// stream. Failures never escape Ask; they become assistant messages.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"vidsight/internal/model"
)

var (
	ErrNoTarget      = errors.New("no video or stream selected for chat")
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrSuperseded is returned when the conversation was switched or
	// cleared while the answer was in flight; the answer was dropped.
	ErrSuperseded = errors.New("chat context changed before the answer arrived")
)

const (
	ScopeJob    = "job"
	ScopeVideo  = "video"
	ScopeStream = "stream"
)

// Asker sends one question about id to the backend.
type Asker func(ctx context.Context, id, question string) (string, error)

type Observer interface {
	ChatRequest(scope, outcome string)
}

type Options struct {
	Scope string
	Ask   Asker
	// FailureText renders a failed call as the assistant's reply.
	FailureText func(err error) string
	// Greeting, when set, opens every fresh conversation.
	Greeting string
	Logger   *zap.SugaredLogger
	Observer Observer
}

type Session struct {
	scope    string
	ask      Asker
	failText func(error) string
	greeting string
	log      *zap.SugaredLogger
	obs      Observer

	mu       sync.Mutex
	target   string
	gen      uint64
	pending  int
	messages []model.ChatMessage
	updates  chan struct{}
}

func New(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	failText := opts.FailureText
	if failText == nil {
		failText = func(error) string { return "Sorry, I could not process your request at this time." }
	}
	s := &Session{
		scope:    opts.Scope,
		ask:      opts.Ask,
		failText: failText,
		greeting: opts.Greeting,
		log:      log,
		obs:      opts.Observer,
		updates:  make(chan struct{}, 1),
	}
	s.resetLocked()
	return s
}

// Bind points the conversation at id and keeps the history.
func (s *Session) Bind(id string) {
	s.mu.Lock()
	s.target = id
	s.mu.Unlock()
	s.changed()
}

// Switch points the conversation at id. The history is cleared when id
// differs from the current target, and answers still in flight are dropped.
func (s *Session) Switch(id string) {
	s.mu.Lock()
	if id != s.target {
		s.target = id
		s.resetLocked()
	}
	s.mu.Unlock()
	s.changed()
}

// Clear drops the history (keeping the greeting) and any in-flight answers.
func (s *Session) Clear() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.changed()
}

// Notify appends an assistant message without asking the backend.
func (s *Session) Notify(text string) {
	s.mu.Lock()
	s.messages = append(s.messages, model.ChatMessage{Sender: model.SenderAssistant, Text: text})
	s.mu.Unlock()
	s.changed()
}

// Ask appends the question, waits for the answer and appends it. A failed
// call is appended as an assistant message carrying the failure text and is
// not returned as an error.
func (s *Session) Ask(ctx context.Context, question string) (model.ChatMessage, error) {
	question = strings.TrimSpace(question)
	s.mu.Lock()
	target, gen := s.target, s.gen
	switch {
	case target == "":
		s.mu.Unlock()
		return model.ChatMessage{}, ErrNoTarget
	case question == "":
		s.mu.Unlock()
		return model.ChatMessage{}, ErrEmptyQuestion
	}
	s.messages = append(s.messages, model.ChatMessage{Sender: model.SenderUser, Text: question})
	s.pending++
	s.mu.Unlock()
	s.changed()

	answer, err := s.call(ctx, target, question)
	reply := model.ChatMessage{Sender: model.SenderAssistant, Text: answer}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		reply.Text = s.failText(err)
		s.log.Warnw("chat request failed", "scope", s.scope, "target", target, "error", err)
	}
	if s.obs != nil {
		s.obs.ChatRequest(s.scope, outcome)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return reply, ErrSuperseded
	}
	s.pending--
	s.messages = append(s.messages, reply)
	s.mu.Unlock()
	s.changed()
	return reply, nil
}

func (s *Session) call(ctx context.Context, target, question string) (answer string, err error) {
	if s.ask == nil {
		return "", errors.New("chat backend not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("chat backend panicked", "scope", s.scope, "panic", r)
			err = errors.New("chat backend failed")
		}
	}()
	return s.ask(ctx, target, question)
}

func (s *Session) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.messages...)
}

func (s *Session) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Pending reports questions still waiting for an answer.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Updates receives a value after any change to the conversation. Sends
// coalesce.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) resetLocked() {
	s.gen++
	s.pending = 0
	s.messages = s.messages[:0:0]
	if s.greeting != "" {
		s.messages = append(s.messages, model.ChatMessage{Sender: model.SenderAssistant, Text: s.greeting})
	}
}

func (s *Session) changed() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
