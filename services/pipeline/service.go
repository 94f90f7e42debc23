package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailpilot/mailpilot/dto"
	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/internal/utils"
)

const maxIntents = 3

var (
	ErrNotSendEligible   = errors.New("message is not eligible for sending")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Service drives a message through classify, draft and validate, then either
// sends the reply or parks it for review. Every stage persists its output
// before the next one runs, so a crash resumes with the work already done
// visible in the envelope.
type Service struct {
	repositories *repository.Repositories
	ai           interfaces.AIService
	knowledge    interfaces.KnowledgeService
	sender       interfaces.EmailSender
	publisher    interfaces.EventPublisher

	// locks serializes work per message so a cron sweep and a manual API
	// call can never double-send the same reply. Entries are refcounted and
	// evicted when the last holder releases, so the map only holds messages
	// currently in flight.
	locks   map[string]*messageLock
	locksMu sync.Mutex
}

type messageLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(repos *repository.Repositories, ai interfaces.AIService, knowledge interfaces.KnowledgeService, sender interfaces.EmailSender, publisher interfaces.EventPublisher) *Service {
	return &Service{
		repositories: repos,
		ai:           ai,
		knowledge:    knowledge,
		sender:       sender,
		publisher:    publisher,
		locks:        make(map[string]*messageLock),
	}
}

func (s *Service) lockMessage(messageID string) *messageLock {
	s.locksMu.Lock()
	lock, ok := s.locks[messageID]
	if !ok {
		lock = &messageLock{}
		s.locks[messageID] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return lock
}

func (s *Service) unlockMessage(messageID string, lock *messageLock) {
	lock.mu.Unlock()

	s.locksMu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, messageID)
	}
	s.locksMu.Unlock()
}

// Process runs the full pipeline on a stored message. Only messages in the
// new state are picked up; anything else already ran or is running.
func (s *Service) Process(ctx context.Context, messageID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.Process")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMessage(span, messageID)

	lock := s.lockMessage(messageID)
	defer s.unlockMessage(messageID, lock)

	message, account, err := s.loadMessageAndAccount(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if message.Status != enum.MessageStatusNew {
		span.SetTag("skipped", true)
		span.LogKV("status", message.Status.String())
		return nil
	}

	if err := s.runStages(ctx, account, message); err != nil {
		tracing.TraceErr(span, err)
		s.failMessage(ctx, message, err)
		return err
	}

	if message.Status == enum.MessageStatusReadyToSend && account.AutoSend {
		return s.dispatchReply(ctx, account, message, true)
	}
	return nil
}

// Redraft reruns drafting with the stored validator feedback, then validates
// again. Valid from needs_redraft only.
func (s *Service) Redraft(ctx context.Context, messageID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.Redraft")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMessage(span, messageID)

	lock := s.lockMessage(messageID)
	defer s.unlockMessage(messageID, lock)

	message, account, err := s.loadMessageAndAccount(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if message.Status != enum.MessageStatusNeedsRedraft {
		err = errors.Wrapf(ErrIllegalTransition, "redraft from %s", message.Status)
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.draftStage(ctx, account, message, message.ValidationFeedback()); err != nil {
		tracing.TraceErr(span, err)
		s.failMessage(ctx, message, err)
		return err
	}
	if err := s.validateStage(ctx, account, message, true); err != nil {
		tracing.TraceErr(span, err)
		s.failMessage(ctx, message, err)
		return err
	}

	if message.Status == enum.MessageStatusReadyToSend && account.AutoSend {
		return s.dispatchReply(ctx, account, message, true)
	}
	return nil
}

// Send dispatches a validated draft on operator request. Without force only
// ready_to_send messages are accepted; force additionally allows sending a
// draft the validator rejected.
func (s *Service) Send(ctx context.Context, messageID string, force bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMessage(span, messageID)
	span.SetTag("force", force)

	lock := s.lockMessage(messageID)
	defer s.unlockMessage(messageID, lock)

	message, account, err := s.loadMessageAndAccount(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	eligible := message.Status == enum.MessageStatusReadyToSend ||
		(force && message.Status.IsSendEligible())
	if !eligible {
		err = errors.Wrapf(ErrNotSendEligible, "status %s", message.Status)
		tracing.TraceErr(span, err)
		return err
	}

	return s.dispatchReply(ctx, account, message, false)
}

// Preview runs the AI stages on an unsaved message. Nothing is persisted and
// nothing is sent; the annotated message is returned for inspection.
func (s *Service) Preview(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage) (*models.EmailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.Preview")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := s.classify(ctx, account, message); err != nil {
		return nil, err
	}
	if err := s.draft(ctx, account, message, ""); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, account, message); err != nil {
		return nil, err
	}
	message.ProcessedAt = utils.NowPtr()
	return message, nil
}

// runStages executes classify, draft and validate, persisting after each
// stage.
func (s *Service) runStages(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage) error {
	if err := s.classifyStage(ctx, account, message); err != nil {
		return err
	}
	if err := s.draftStage(ctx, account, message, ""); err != nil {
		return err
	}
	return s.validateStage(ctx, account, message, false)
}

func (s *Service) classifyStage(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage) error {
	if err := s.transition(ctx, message, enum.MessageStatusClassifying); err != nil {
		return err
	}
	if err := s.classify(ctx, account, message); err != nil {
		return err
	}
	return s.repositories.MessageRepository.Update(ctx, message)
}

func (s *Service) draftStage(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage, feedback string) error {
	if err := s.transition(ctx, message, enum.MessageStatusDrafting); err != nil {
		return err
	}
	if err := s.draft(ctx, account, message, feedback); err != nil {
		return err
	}
	return s.repositories.MessageRepository.Update(ctx, message)
}

// validateStage judges the current draft. The first rejection parks the
// message for a redraft; a rejection of the redraft escalates to a human.
func (s *Service) validateStage(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage, isRedraft bool) error {
	if err := s.validate(ctx, account, message); err != nil {
		return err
	}

	passed, _ := message.ValidationResult["passed"].(bool)
	next := enum.MessageStatusReadyToSend
	if !passed {
		next = enum.MessageStatusNeedsRedraft
		if isRedraft {
			next = enum.MessageStatusEscalate
		}
	}

	message.Status = next
	message.ProcessedAt = utils.NowPtr()
	if err := s.repositories.MessageRepository.Update(ctx, message); err != nil {
		return err
	}

	if next == enum.MessageStatusEscalate {
		s.publishEscalated(ctx, message)
	}
	return nil
}

func (s *Service) classify(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.classify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	response, err := s.ai.Classify(ctx, dto.ClassifyRequest{
		AccountEmail: account.EmailAddress,
		Persona:      account.Persona,
		Sender:       message.Sender,
		Subject:      message.Subject,
		Body:         message.Body,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "classification failed")
	}

	intents := response.Intents
	if len(intents) > maxIntents {
		intents = intents[:maxIntents]
	}

	stored := make(models.JSONList, 0, len(intents))
	for _, intent := range intents {
		stored = append(stored, map[string]interface{}{
			"id":             intent.ID,
			"name":           intent.Name,
			"description":    intent.Description,
			"confidence":     intent.Confidence,
			"guidance":       intent.Guidance,
			"meetingRelated": intent.MeetingRelated,
		})
	}
	message.Intents = stored
	span.LogKV("intents.count", len(stored))
	return nil
}

func (s *Service) draft(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage, feedback string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.draft")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("redraft", feedback != "")

	request := dto.DraftRequest{
		AccountEmail: account.EmailAddress,
		Persona:      account.Persona,
		Sender:       message.Sender,
		Subject:      message.Subject,
		Body:         message.Body,
		Intents:      intentsFromEnvelope(message),
		Feedback:     feedback,
	}
	request.Knowledge = s.lookupKnowledge(ctx, account, message)

	response, err := s.ai.Draft(ctx, request)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "drafting failed")
	}
	if strings.TrimSpace(response.Draft) == "" {
		err = errors.New("drafter returned an empty draft")
		tracing.TraceErr(span, err)
		return err
	}

	message.Draft = response.Draft
	message.DraftHTML = response.DraftHTML
	return nil
}

// lookupKnowledge is best effort: a failing knowledge base degrades the draft
// but never blocks it.
func (s *Service) lookupKnowledge(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage) []dto.KnowledgeItem {
	if s.knowledge == nil {
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.lookupKnowledge")
	defer span.Finish()

	response, err := s.knowledge.Lookup(ctx, dto.KnowledgeRequest{
		AccountEmail: account.EmailAddress,
		Query:        message.Subject + "\n" + message.Body,
		Limit:        5,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil
	}
	return response.Items
}

// validate asks the validator for a verdict and stores the parsed result on
// the envelope. The verdict line passes when it starts with PASS, anything
// else counts as a rejection with the full text kept as feedback.
func (s *Service) validate(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.validate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	response, err := s.ai.Validate(ctx, dto.ValidateRequest{
		AccountEmail: account.EmailAddress,
		Persona:      account.Persona,
		Sender:       message.Sender,
		Subject:      message.Subject,
		Body:         message.Body,
		Draft:        message.Draft,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "validation failed")
	}

	passed := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(response.Verdict)), enum.ValidationPass.String())
	feedback := response.Feedback
	if feedback == "" && !passed {
		feedback = response.Verdict
	}

	message.ValidationResult = models.JSONMap{
		"passed":   passed,
		"verdict":  response.Verdict,
		"feedback": feedback,
	}
	span.SetTag("passed", passed)
	return nil
}

// dispatchReply hands the draft to the SMTP sender and finalizes the status.
func (s *Service) dispatchReply(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage, autoSent bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipelineService.dispatchReply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMessage(span, message.ID)
	span.SetTag("autoSent", autoSent)

	replyMessageID, err := s.sender.SendReply(ctx, account, message)
	if err != nil {
		tracing.TraceErr(span, err)
		message.Status = enum.MessageStatusSendFailed
		message.Error = err.Error()
		if updateErr := s.repositories.MessageRepository.Update(ctx, message); updateErr != nil {
			tracing.TraceErr(span, updateErr)
		}
		return err
	}

	message.Status = enum.MessageStatusSent
	message.SentAt = utils.NowPtr()
	message.Error = ""
	if err := s.repositories.MessageRepository.Update(ctx, message); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.publishSent(ctx, message, replyMessageID, autoSent)
	return nil
}

// transition moves a message to the next status, enforcing the transition
// table, and persists the change immediately.
func (s *Service) transition(ctx context.Context, message *models.EmailMessage, to enum.MessageStatus) error {
	if !message.Status.CanTransition(to) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", message.Status, to)
	}
	message.Status = to
	return s.repositories.MessageRepository.UpdateStatus(ctx, message.ID, to)
}

// failMessage records a stage failure on the envelope. Errors here are
// swallowed; the original failure is what the caller reports.
func (s *Service) failMessage(ctx context.Context, message *models.EmailMessage, cause error) {
	message.Status = enum.MessageStatusError
	message.Error = cause.Error()
	if err := s.repositories.MessageRepository.Update(ctx, message); err != nil {
		span, _ := opentracing.StartSpanFromContext(ctx, "pipelineService.failMessage")
		defer span.Finish()
		tracing.TraceErr(span, err)
	}
}

func (s *Service) loadMessageAndAccount(ctx context.Context, messageID string) (*models.EmailMessage, *models.EmailAccount, error) {
	message, err := s.repositories.MessageRepository.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if message == nil {
		return nil, nil, repository.ErrMessageNotFound
	}

	account, err := s.repositories.AccountRepository.GetByID(ctx, message.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, repository.ErrAccountNotFound
	}
	return message, account, nil
}

func (s *Service) publishSent(ctx context.Context, message *models.EmailMessage, replyMessageID string, autoSent bool) {
	if s.publisher == nil {
		return
	}
	event := dto.ReplySent{
		MessageID:      message.ID,
		AccountID:      message.AccountID,
		ThreadID:       message.ThreadID,
		ReplyMessageID: replyMessageID,
		AutoSent:       autoSent,
		SentAt:         utils.Now(),
	}
	if err := s.publisher.PublishEvent(ctx, dto.EventReplySent, event); err != nil {
		span, _ := opentracing.StartSpanFromContext(ctx, "pipelineService.publishSent")
		defer span.Finish()
		tracing.TraceErr(span, err)
	}
}

func (s *Service) publishEscalated(ctx context.Context, message *models.EmailMessage) {
	if s.publisher == nil {
		return
	}
	event := dto.ReplyEscalated{
		MessageID: message.ID,
		AccountID: message.AccountID,
		ThreadID:  message.ThreadID,
		Feedback:  message.ValidationFeedback(),
	}
	if err := s.publisher.PublishEvent(ctx, dto.EventReplyEscalated, event); err != nil {
		span, _ := opentracing.StartSpanFromContext(ctx, "pipelineService.publishEscalated")
		defer span.Finish()
		tracing.TraceErr(span, err)
	}
}

func intentsFromEnvelope(message *models.EmailMessage) []dto.ClassifiedIntent {
	intents := make([]dto.ClassifiedIntent, 0, len(message.Intents))
	for _, raw := range message.Intents {
		intent := dto.ClassifiedIntent{}
		if v, ok := raw["id"].(string); ok {
			intent.ID = v
		}
		if v, ok := raw["name"].(string); ok {
			intent.Name = v
		}
		if v, ok := raw["description"].(string); ok {
			intent.Description = v
		}
		if v, ok := raw["confidence"].(float64); ok {
			intent.Confidence = v
		}
		if v, ok := raw["guidance"].(string); ok {
			intent.Guidance = v
		}
		if v, ok := raw["meetingRelated"].(bool); ok {
			intent.MeetingRelated = v
		}
		intents = append(intents, intent)
	}
	return intents
}
