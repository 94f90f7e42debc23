package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/dto"
	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/repository"
)

// In-memory fakes for the pipeline's collaborators.

type fakeAccountRepo struct {
	accounts map[string]*models.EmailAccount
}

func (f *fakeAccountRepo) Create(ctx context.Context, account *models.EmailAccount) error {
	f.accounts[account.ID] = account
	return nil
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.EmailAccount, error) {
	return f.accounts[id], nil
}

func (f *fakeAccountRepo) GetByEmail(ctx context.Context, email string) (*models.EmailAccount, error) {
	for _, a := range f.accounts {
		if a.EmailAddress == email {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) GetActive(ctx context.Context) ([]*models.EmailAccount, error) {
	var out []*models.EmailAccount
	for _, a := range f.accounts {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) Update(ctx context.Context, account *models.EmailAccount) error {
	f.accounts[account.ID] = account
	return nil
}

func (f *fakeAccountRepo) SaveCursor(ctx context.Context, accountID string, lastUID uint32, uidValidity string) error {
	return nil
}

func (f *fakeAccountRepo) SetSyncStatus(ctx context.Context, accountID, status, errorMessage string) error {
	return nil
}

type fakeMessageRepo struct {
	messages map[string]*models.EmailMessage
}

func (f *fakeMessageRepo) Upsert(ctx context.Context, message *models.EmailMessage) (bool, error) {
	f.messages[message.ID] = message
	return true, nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id string) (*models.EmailMessage, error) {
	return f.messages[id], nil
}

func (f *fakeMessageRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.EmailMessage, int64, error) {
	return nil, 0, nil
}

func (f *fakeMessageRepo) ListByStatus(ctx context.Context, status enum.MessageStatus, limit int) ([]*models.EmailMessage, error) {
	return nil, nil
}

func (f *fakeMessageRepo) ListByThread(ctx context.Context, threadID string) ([]*models.EmailMessage, error) {
	return nil, nil
}

func (f *fakeMessageRepo) Update(ctx context.Context, message *models.EmailMessage) error {
	f.messages[message.ID] = message
	return nil
}

func (f *fakeMessageRepo) UpdateStatus(ctx context.Context, id string, status enum.MessageStatus) error {
	m, ok := f.messages[id]
	if !ok {
		return repository.ErrMessageNotFound
	}
	m.Status = status
	return nil
}

type fakeAI struct {
	intents      []dto.ClassifiedIntent
	draft        string
	verdicts     []string
	feedbacks    []string
	validateCall int

	classifyErr error
	draftErr    error

	draftRequests []dto.DraftRequest
}

func (f *fakeAI) Classify(ctx context.Context, request dto.ClassifyRequest) (*dto.ClassifyResponse, error) {
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return &dto.ClassifyResponse{Intents: f.intents}, nil
}

func (f *fakeAI) Draft(ctx context.Context, request dto.DraftRequest) (*dto.DraftResponse, error) {
	f.draftRequests = append(f.draftRequests, request)
	if f.draftErr != nil {
		return nil, f.draftErr
	}
	return &dto.DraftResponse{Draft: f.draft}, nil
}

func (f *fakeAI) Validate(ctx context.Context, request dto.ValidateRequest) (*dto.ValidateResponse, error) {
	call := f.validateCall
	f.validateCall++
	verdict := "PASS"
	if call < len(f.verdicts) {
		verdict = f.verdicts[call]
	}
	feedback := ""
	if call < len(f.feedbacks) {
		feedback = f.feedbacks[call]
	}
	return &dto.ValidateResponse{Verdict: verdict, Feedback: feedback}, nil
}

type fakeKnowledge struct {
	items []dto.KnowledgeItem
	err   error
}

func (f *fakeKnowledge) Lookup(ctx context.Context, request dto.KnowledgeRequest) (*dto.KnowledgeResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.KnowledgeResponse{Items: f.items}, nil
}

type fakeSender struct {
	sent    []string
	sendErr error
}

func (f *fakeSender) SendReply(ctx context.Context, account *models.EmailAccount, original *models.EmailMessage) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, original.ID)
	return "<reply-1@acme.com>", nil
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) PublishEvent(ctx context.Context, eventType string, payload interface{}) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type pipelineFixture struct {
	service   *Service
	accounts  *fakeAccountRepo
	messages  *fakeMessageRepo
	ai        *fakeAI
	sender    *fakeSender
	publisher *fakePublisher
}

func newFixture(autoSend bool) *pipelineFixture {
	accounts := &fakeAccountRepo{accounts: map[string]*models.EmailAccount{
		"acct_1": {
			ID:           "acct_1",
			EmailAddress: "sales@acme.com",
			AutoSend:     autoSend,
			IsActive:     true,
		},
	}}
	messages := &fakeMessageRepo{messages: map[string]*models.EmailMessage{}}
	ai := &fakeAI{
		intents: []dto.ClassifiedIntent{{ID: "pricing", Name: "pricing", Confidence: 0.92}},
		draft:   "Hi Jane, 50 seats run $500/mo.",
	}
	sender := &fakeSender{}
	publisher := &fakePublisher{}

	repos := &repository.Repositories{
		AccountRepository: accounts,
		MessageRepository: messages,
	}
	return &pipelineFixture{
		service:   NewService(repos, ai, &fakeKnowledge{}, sender, publisher),
		accounts:  accounts,
		messages:  messages,
		ai:        ai,
		sender:    sender,
		publisher: publisher,
	}
}

func (f *pipelineFixture) addMessage(status enum.MessageStatus) *models.EmailMessage {
	message := &models.EmailMessage{
		ID:        "msg_1",
		AccountID: "acct_1",
		MessageID: "orig-1@widgets.io",
		ThreadID:  "thread-1",
		Sender:    "jane@widgets.io",
		Subject:   "Pricing question",
		Body:      "How much for 50 seats?",
		Status:    status,
	}
	f.messages.messages[message.ID] = message
	return message
}

func TestProcess_ValidDraftParksForReview(t *testing.T) {
	f := newFixture(false)
	f.addMessage(enum.MessageStatusNew)

	err := f.service.Process(context.Background(), "msg_1")
	require.NoError(t, err)

	message := f.messages.messages["msg_1"]
	assert.Equal(t, enum.MessageStatusReadyToSend, message.Status)
	assert.Equal(t, "Hi Jane, 50 seats run $500/mo.", message.Draft)
	require.Len(t, message.Intents, 1)
	assert.Equal(t, true, message.ValidationResult["passed"])
	assert.NotNil(t, message.ProcessedAt)
	// Auto-send disabled: nothing goes out
	assert.Empty(t, f.sender.sent)
	assert.Nil(t, message.SentAt)
}

func TestProcess_AutoSendDispatchesReply(t *testing.T) {
	f := newFixture(true)
	f.addMessage(enum.MessageStatusNew)

	err := f.service.Process(context.Background(), "msg_1")
	require.NoError(t, err)

	message := f.messages.messages["msg_1"]
	assert.Equal(t, enum.MessageStatusSent, message.Status)
	assert.NotNil(t, message.SentAt)
	assert.Equal(t, []string{"msg_1"}, f.sender.sent)
	assert.Contains(t, f.publisher.events, dto.EventReplySent)
}

func TestProcess_FailedValidationNeedsRedraft(t *testing.T) {
	f := newFixture(true)
	f.addMessage(enum.MessageStatusNew)
	f.ai.verdicts = []string{"FAIL"}
	f.ai.feedbacks = []string{"tone too casual"}

	err := f.service.Process(context.Background(), "msg_1")
	require.NoError(t, err)

	message := f.messages.messages["msg_1"]
	assert.Equal(t, enum.MessageStatusNeedsRedraft, message.Status)
	assert.Equal(t, "tone too casual", message.ValidationFeedback())
	// Even with auto-send on, a rejected draft never leaves
	assert.Empty(t, f.sender.sent)
}

func TestProcess_SkipsNonNewMessages(t *testing.T) {
	f := newFixture(true)
	message := f.addMessage(enum.MessageStatusSent)

	err := f.service.Process(context.Background(), "msg_1")
	require.NoError(t, err)

	assert.Equal(t, enum.MessageStatusSent, message.Status)
	assert.Empty(t, f.sender.sent)
}

func TestProcess_MissingMessage(t *testing.T) {
	f := newFixture(false)

	err := f.service.Process(context.Background(), "msg_missing")
	assert.ErrorIs(t, err, repository.ErrMessageNotFound)
}

func TestProcess_ClassifierFailureMarksError(t *testing.T) {
	f := newFixture(false)
	f.addMessage(enum.MessageStatusNew)
	f.ai.classifyErr = errors.New("backend down")

	err := f.service.Process(context.Background(), "msg_1")
	require.Error(t, err)

	message := f.messages.messages["msg_1"]
	assert.Equal(t, enum.MessageStatusError, message.Status)
	assert.Contains(t, message.Error, "backend down")
}

func TestProcess_EmptyDraftMarksError(t *testing.T) {
	f := newFixture(false)
	f.addMessage(enum.MessageStatusNew)
	f.ai.draft = "   "

	err := f.service.Process(context.Background(), "msg_1")
	require.Error(t, err)
	assert.Equal(t, enum.MessageStatusError, f.messages.messages["msg_1"].Status)
}

func TestProcess_CapsIntents(t *testing.T) {
	f := newFixture(false)
	f.addMessage(enum.MessageStatusNew)
	f.ai.intents = []dto.ClassifiedIntent{
		{Name: "a", Confidence: 0.9},
		{Name: "b", Confidence: 0.8},
		{Name: "c", Confidence: 0.7},
		{Name: "d", Confidence: 0.6},
	}

	err := f.service.Process(context.Background(), "msg_1")
	require.NoError(t, err)

	message := f.messages.messages["msg_1"]
	require.Len(t, message.Intents, maxIntents)
	assert.Equal(t, "a", message.Intents[0]["name"])
	assert.Equal(t, "c", message.Intents[2]["name"])
}

func TestRedraft_PassesValidatorFeedbackToDrafter(t *testing.T) {
	f := newFixture(false)
	message := f.addMessage(enum.MessageStatusNeedsRedraft)
	message.Draft = "first attempt"
	message.ValidationResult = models.JSONMap{"passed": false, "verdict": "FAIL", "feedback": "tone too casual"}

	err := f.service.Redraft(context.Background(), "msg_1")
	require.NoError(t, err)

	require.Len(t, f.ai.draftRequests, 1)
	assert.Equal(t, "tone too casual", f.ai.draftRequests[0].Feedback)
	assert.Equal(t, enum.MessageStatusReadyToSend, f.messages.messages["msg_1"].Status)
}

func TestRedraft_SecondRejectionEscalates(t *testing.T) {
	f := newFixture(true)
	message := f.addMessage(enum.MessageStatusNeedsRedraft)
	message.ValidationResult = models.JSONMap{"passed": false, "feedback": "too long"}
	f.ai.verdicts = []string{"FAIL: still too long"}

	err := f.service.Redraft(context.Background(), "msg_1")
	require.NoError(t, err)

	assert.Equal(t, enum.MessageStatusEscalate, f.messages.messages["msg_1"].Status)
	assert.Contains(t, f.publisher.events, dto.EventReplyEscalated)
	assert.Empty(t, f.sender.sent)
}

func TestRedraft_OnlyFromNeedsRedraft(t *testing.T) {
	f := newFixture(false)
	f.addMessage(enum.MessageStatusReadyToSend)

	err := f.service.Redraft(context.Background(), "msg_1")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSend_FromReadyToSend(t *testing.T) {
	f := newFixture(false)
	message := f.addMessage(enum.MessageStatusReadyToSend)
	message.Draft = "Hi Jane"

	err := f.service.Send(context.Background(), "msg_1", false)
	require.NoError(t, err)

	assert.Equal(t, enum.MessageStatusSent, message.Status)
	assert.Contains(t, f.publisher.events, dto.EventReplySent)
}

func TestSend_NeedsRedraftRequiresForce(t *testing.T) {
	f := newFixture(false)
	message := f.addMessage(enum.MessageStatusNeedsRedraft)
	message.Draft = "Hi Jane"

	err := f.service.Send(context.Background(), "msg_1", false)
	assert.ErrorIs(t, err, ErrNotSendEligible)
	assert.Equal(t, enum.MessageStatusNeedsRedraft, message.Status)

	err = f.service.Send(context.Background(), "msg_1", true)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStatusSent, message.Status)
}

func TestSend_ForceNeverRevivesTerminalStates(t *testing.T) {
	f := newFixture(false)
	message := f.addMessage(enum.MessageStatusSent)

	err := f.service.Send(context.Background(), "msg_1", true)
	assert.ErrorIs(t, err, ErrNotSendEligible)
	assert.Equal(t, enum.MessageStatusSent, message.Status)
}

func TestSend_SMTPFailure(t *testing.T) {
	f := newFixture(false)
	message := f.addMessage(enum.MessageStatusReadyToSend)
	message.Draft = "Hi Jane"
	f.sender.sendErr = errors.New("connection refused")

	err := f.service.Send(context.Background(), "msg_1", false)
	require.Error(t, err)

	assert.Equal(t, enum.MessageStatusSendFailed, message.Status)
	assert.Contains(t, message.Error, "connection refused")
	assert.NotContains(t, f.publisher.events, dto.EventReplySent)
}

func TestPreview_DoesNotPersistOrSend(t *testing.T) {
	f := newFixture(true)
	account := f.accounts.accounts["acct_1"]

	message := &models.EmailMessage{
		AccountID: account.ID,
		Sender:    "jane@widgets.io",
		Subject:   "Pricing question",
		Body:      "How much for 50 seats?",
	}

	result, err := f.service.Preview(context.Background(), account, message)
	require.NoError(t, err)

	assert.Equal(t, "Hi Jane, 50 seats run $500/mo.", result.Draft)
	assert.Equal(t, true, result.ValidationResult["passed"])
	assert.NotNil(t, result.ProcessedAt)
	assert.Empty(t, f.messages.messages)
	assert.Empty(t, f.sender.sent)
}

func TestMessageLocks_ReleasedAfterWork(t *testing.T) {
	f := newFixture(false)
	f.addMessage(enum.MessageStatusNew)

	require.NoError(t, f.service.Process(context.Background(), "msg_1"))
	_ = f.service.Send(context.Background(), "msg_1", false)

	f.service.locksMu.Lock()
	defer f.service.locksMu.Unlock()
	assert.Empty(t, f.service.locks)
}

func TestMessageLocks_SerializeConcurrentHolders(t *testing.T) {
	f := newFixture(false)
	service := f.service

	first := service.lockMessage("msg_1")

	released := make(chan struct{})
	go func() {
		second := service.lockMessage("msg_1")
		service.unlockMessage("msg_1", second)
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("second holder acquired the lock while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	service.unlockMessage("msg_1", first)
	<-released

	service.locksMu.Lock()
	defer service.locksMu.Unlock()
	assert.Empty(t, service.locks)
}
