package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsight/internal/model"
)

type recordingObserver struct{ outcomes []string }

func (o *recordingObserver) ChatRequest(scope, outcome string) {
	o.outcomes = append(o.outcomes, scope+":"+outcome)
}

func TestAskAppendsQuestionAndAnswer(t *testing.T) {
	obs := &recordingObserver{}
	s := New(Options{
		Scope:    ScopeStream,
		Greeting: "Hello!",
		Observer: obs,
		Ask: func(_ context.Context, id, q string) (string, error) {
			return "seen in " + id + ": " + q, nil
		},
	})
	s.Switch("stream_1")

	reply, err := s.Ask(context.Background(), "  anyone?  ")
	require.NoError(t, err)
	assert.Equal(t, "seen in stream_1: anyone?", reply.Text)
	assert.Equal(t, []model.ChatMessage{
		{Sender: model.SenderAssistant, Text: "Hello!"},
		{Sender: model.SenderUser, Text: "anyone?"},
		{Sender: model.SenderAssistant, Text: "seen in stream_1: anyone?"},
	}, s.Messages())
	assert.Equal(t, []string{"stream:ok"}, obs.outcomes)
	assert.Equal(t, 0, s.Pending())
}

func TestAskFailureBecomesAssistantMessage(t *testing.T) {
	s := New(Options{
		Scope: ScopeJob,
		Ask: func(context.Context, string, string) (string, error) {
			return "", errors.New("connection reset")
		},
	})
	s.Bind("video_1_2")

	reply, err := s.Ask(context.Background(), "what happened?")
	require.NoError(t, err)
	assert.Equal(t, model.SenderAssistant, reply.Sender)
	assert.Equal(t, "Sorry, I could not process your request at this time.", reply.Text)
	assert.Len(t, s.Messages(), 2)
}

func TestAskRecoversFromPanickingBackend(t *testing.T) {
	s := New(Options{
		FailureText: func(error) string { return "broken" },
		Ask: func(context.Context, string, string) (string, error) {
			panic("boom")
		},
	})
	s.Bind("x")
	reply, err := s.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "broken", reply.Text)
}

func TestAskPreconditions(t *testing.T) {
	calls := 0
	s := New(Options{Ask: func(context.Context, string, string) (string, error) {
		calls++
		return "", nil
	}})

	_, err := s.Ask(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoTarget)

	s.Bind("v")
	_, err = s.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Zero(t, calls)
	assert.Empty(t, s.Messages())
}

func TestSwitchDropsLateAnswer(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s := New(Options{
		Greeting: "Hi",
		Ask: func(ctx context.Context, id, q string) (string, error) {
			close(started)
			<-release
			return "late answer for " + id, nil
		},
	})
	s.Switch("stream_a")

	done := make(chan error, 1)
	go func() {
		_, err := s.Ask(context.Background(), "status?")
		done <- err
	}()
	<-started
	s.Switch("stream_b")
	close(release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, []model.ChatMessage{{Sender: model.SenderAssistant, Text: "Hi"}}, s.Messages())
	assert.Equal(t, "stream_b", s.Target())
}

func TestBindKeepsHistory(t *testing.T) {
	s := New(Options{Greeting: "Upload a video to get started."})
	s.Bind("video_1")
	s.Notify("Video upload and analysis started!")
	s.Bind("video_2")
	assert.Len(t, s.Messages(), 2)

	s.Clear()
	assert.Len(t, s.Messages(), 1)

	select {
	case <-s.Updates():
	default:
		t.Fatal("expected an update notification")
	}
}
