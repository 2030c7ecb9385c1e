package router

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/classifier"
	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/escalation"
	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/internal/resolver"
	"github.com/skedy/conversation-core/internal/sentiment"
	"github.com/skedy/conversation-core/internal/store"
	"github.com/skedy/conversation-core/internal/tasks"
	"github.com/skedy/conversation-core/internal/transcription"
	"github.com/skedy/conversation-core/pkg/logger"
	"github.com/skedy/conversation-core/pkg/metrics"
)

// scriptedLLM routes each completion by its system prompt so one stub can
// play classifier, escalation probe, sentiment signal and task handler.
type scriptedLLM struct {
	intentJSON  string
	intentErr   error
	probeAnswer string
	moodJSON    string
	completion  string
	transcript  string
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	switch {
	case strings.Contains(req.System, "You classify"):
		if s.intentErr != nil {
			return nil, s.intentErr
		}
		return &llm.Response{Text: s.intentJSON}, nil
	case strings.Contains(req.System, "exactly one word"):
		return &llm.Response{Text: s.probeAnswer}, nil
	case strings.Contains(req.System, "emotional tone"):
		return &llm.Response{Text: s.moodJSON}, nil
	default:
		return &llm.Response{Text: s.completion}, nil
	}
}

func (s *scriptedLLM) Transcribe(context.Context, io.Reader, string) (string, error) {
	return s.transcript, nil
}

type fetcherStub struct{}

func (fetcherStub) Fetch(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("audio")), nil
}

type fixture struct {
	router        *Router
	sessions      *store.Memory
	notifications *store.NotificationMemory
	client        *scriptedLLM
}

func setupRouter(t *testing.T, detectorEnabled bool) *fixture {
	t.Helper()

	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	mtx := metrics.NewMetrics(log)
	sessions := store.NewMemory()
	notifications := store.NewNotificationMemory()

	client := &scriptedLLM{
		intentJSON:  `{"goalType":"booking","goalAction":"create","confidence":0.9}`,
		probeAnswer: "no",
		moodJSON:    `{"score":6,"category":"neutral"}`,
		completion:  "happy to help!",
	}

	res := resolver.New(sessions, log)
	cls := classifier.New(client, log)
	esc := escalation.NewManager(sessions, notifications, nil, mtx, log)
	det := escalation.NewDetector(
		escalation.DetectorConfig{Enabled: detectorEnabled, ConsecutiveFrustrated: 3},
		client, sentiment.New(client, log), log)
	trans := transcription.New(
		transcription.Config{MaxDurationSeconds: 180, MaxSizeBytes: 25 * 1024 * 1024},
		client, fetcherStub{}, log)
	handlers := tasks.NewRegistry(client, log)

	cfg := Config{SessionTimeout: time.Hour, DefaultLanguage: "en"}
	return &fixture{
		router:        New(cfg, res, cls, sessions, esc, det, trans, handlers, mtx, log),
		sessions:      sessions,
		notifications: notifications,
		client:        client,
	}
}

func inbound(text string) channel.InboundMessage {
	return channel.InboundMessage{
		Channel:   "telegram",
		SenderID:  "user-1",
		TenantID:  "tenant-1",
		Timestamp: time.Now(),
		Text:      text,
	}
}

func (f *fixture) state(t *testing.T) *conversation.DialogueState {
	t.Helper()
	state, err := f.sessions.GetDialogueState(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	return state
}

func (f *fixture) sessionLog(t *testing.T) []conversation.Message {
	t.Helper()
	s, err := f.sessions.GetActive(context.Background(), "telegram", "user-1", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s.Messages
}

func TestGreetingDefaultsToBookingGoal(t *testing.T) {
	f := setupRouter(t, false)
	f.client.intentJSON = `{"goalType":"chitchat","goalAction":"none","confidence":0.4}`

	resp, err := f.router.HandleMessage(context.Background(), inbound("hello!"))
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "What service")

	state := f.state(t)
	require.NotNil(t, state.CurrentGoal)
	assert.Equal(t, conversation.GoalBooking, state.CurrentGoal.Type)
	assert.Equal(t, conversation.ActionCreate, state.CurrentGoal.Action)
}

func TestBookingFlowAdvancesWithExtractedSlots(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)

	_, err := f.router.HandleMessage(ctx, inbound("I want to book something"))
	require.NoError(t, err)

	f.client.intentJSON = `{"goalType":"booking","goalAction":"create","confidence":0.9,"extractedInformation":{"service":"haircut"}}`
	resp, err := f.router.HandleMessage(ctx, inbound("a haircut"))
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "When would you like your haircut")

	state := f.state(t)
	assert.Equal(t, "haircut", state.CurrentGoal.CollectedData["service"])
}

func TestLockedConversationStaysSilent(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)

	state := conversation.NewDialogueState("tenant-1", "user-1")
	state.EscalationStatus = conversation.EscalationPending
	require.NoError(t, f.sessions.UpdateDialogueState(ctx, state))

	resp, err := f.router.HandleMessage(ctx, inbound("is anyone there?"))
	require.NoError(t, err)
	assert.True(t, resp.Empty())

	// The user message still lands in the log, unpaired.
	messages := f.sessionLog(t)
	require.Len(t, messages, 1)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, "is anyone there?", messages[0].Content)
}

func TestContextSwitchPreservesPreviousGoalData(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)

	f.client.intentJSON = `{"goalType":"booking","goalAction":"create","confidence":0.9,"extractedInformation":{"service":"haircut"}}`
	_, err := f.router.HandleMessage(ctx, inbound("book me a haircut"))
	require.NoError(t, err)

	f.client.intentJSON = `{"goalType":"faq","goalAction":"view","contextSwitch":true,"confidence":0.9}`
	f.client.completion = "We open at 9am."
	resp, err := f.router.HandleMessage(ctx, inbound("actually, what are your opening hours?"))
	require.NoError(t, err)
	assert.Equal(t, "We open at 9am.", resp.Text)

	state := f.state(t)
	require.NotNil(t, state.PreviousGoal)
	assert.Equal(t, conversation.GoalBooking, state.PreviousGoal.Type)
	assert.Equal(t, "haircut", state.PreviousGoal.CollectedData["service"])
	require.NotNil(t, state.LastInterruption)
	assert.Equal(t, conversation.GoalBooking, state.LastInterruption.GoalType)

	// FAQ goals complete in one turn, so nothing is current afterwards.
	assert.Nil(t, state.CurrentGoal)
}

func TestFAQCompletionRetiresGoal(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)

	f.client.intentJSON = `{"goalType":"faq","goalAction":"view","confidence":0.9}`
	f.client.completion = "Yes, we do beard trims."
	resp, err := f.router.HandleMessage(ctx, inbound("do you do beard trims?"))
	require.NoError(t, err)
	assert.Equal(t, "Yes, we do beard trims.", resp.Text)

	state := f.state(t)
	assert.Nil(t, state.CurrentGoal)
	require.NotNil(t, state.PreviousGoal)
	assert.Equal(t, conversation.GoalCompleted, state.PreviousGoal.Status)
}

func TestChitchatDuringGoalDoesNotDisturbIt(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)

	f.client.intentJSON = `{"goalType":"booking","goalAction":"create","confidence":0.9,"extractedInformation":{"service":"haircut"}}`
	_, err := f.router.HandleMessage(ctx, inbound("book me a haircut"))
	require.NoError(t, err)

	f.client.intentJSON = `{"goalType":"chitchat","goalAction":"none","confidence":0.8}`
	f.client.completion = "Ha, thanks! Now, about that booking..."
	resp, err := f.router.HandleMessage(ctx, inbound("you're a funny bot"))
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "thanks")

	state := f.state(t)
	require.NotNil(t, state.CurrentGoal)
	assert.Equal(t, conversation.GoalBooking, state.CurrentGoal.Type)
	assert.Equal(t, conversation.GoalActive, state.CurrentGoal.Status)
	assert.Equal(t, "haircut", state.CurrentGoal.CollectedData["service"])
}

func TestClassifierFailureFallsBackDeterministically(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)
	f.client.intentErr = errors.New("model unavailable")

	resp, err := f.router.HandleMessage(ctx, inbound("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Text)

	// Fallback intent plus no current goal still lands on the primary task.
	state := f.state(t)
	require.NotNil(t, state.CurrentGoal)
	assert.Equal(t, conversation.GoalBooking, state.CurrentGoal.Type)
}

func TestExplicitHumanRequestEscalates(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, true)
	f.client.probeAnswer = "yes"

	resp, err := f.router.HandleMessage(ctx, inbound("I want to talk to a person"))
	require.NoError(t, err)
	assert.Equal(t, escalation.ConnectingMessage, resp.Text)

	state := f.state(t)
	assert.Equal(t, conversation.EscalationPending, state.EscalationStatus)

	s, err := f.sessions.GetActive(ctx, "telegram", "user-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifications.ActiveCountForSession(s.ID))

	// A second identical message hits the lock, not a second initiate.
	resp, err = f.router.HandleMessage(ctx, inbound("I want to talk to a person"))
	require.NoError(t, err)
	assert.True(t, resp.Empty())
	assert.Equal(t, 1, f.notifications.ActiveCountForSession(s.ID))
}

func TestResolvedEscalationUnlocksNextTurn(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)

	state := conversation.NewDialogueState("tenant-1", "user-1")
	state.EscalationStatus = conversation.EscalationResolved
	require.NoError(t, f.sessions.UpdateDialogueState(ctx, state))

	resp, err := f.router.HandleMessage(ctx, inbound("thanks, one more thing"))
	require.NoError(t, err)
	assert.False(t, resp.Empty())

	assert.Equal(t, conversation.EscalationNone, f.state(t).EscalationStatus)
}

func TestOversizedAudioYieldsLocalizedNotice(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)

	msg := inbound("")
	msg.Attachments = []conversation.Attachment{{
		Type:            conversation.AttachmentAudio,
		URL:             "https://cdn.example.com/voice.ogg",
		MIMEType:        "audio/ogg",
		DurationSeconds: 200,
	}}

	resp, err := f.router.HandleMessage(ctx, msg)
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "up to 3 minutes")

	// The turn is fully handled: user message and notice are both logged.
	messages := f.sessionLog(t)
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleBot, messages[1].Role)
}

func TestAudioTranscriptFlowsIntoClassification(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)
	f.client.transcript = "I want to book a haircut"
	f.client.intentJSON = `{"goalType":"booking","goalAction":"create","confidence":0.9,"extractedInformation":{"service":"haircut"}}`

	msg := inbound("")
	msg.Attachments = []conversation.Attachment{{
		Type:            conversation.AttachmentAudio,
		URL:             "https://cdn.example.com/voice.ogg",
		MIMEType:        "audio/ogg",
		DurationSeconds: 30,
	}}

	resp, err := f.router.HandleMessage(ctx, msg)
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "When would you like")

	messages := f.sessionLog(t)
	assert.Equal(t, "I want to book a haircut", messages[0].Content)
}

func TestTurnsAppendUserAndBotMessagesInOrder(t *testing.T) {
	ctx := context.Background()
	f := setupRouter(t, false)

	_, err := f.router.HandleMessage(ctx, inbound("hi"))
	require.NoError(t, err)

	messages := f.sessionLog(t)
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, conversation.RoleBot, messages[1].Role)
}
