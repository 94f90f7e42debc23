package imap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailpilot/mailpilot/dto"
	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/internal/utils"
	"github.com/mailpilot/mailpilot/services/email_processor"
)

const (
	syncStatusOK    = "ok"
	syncStatusError = "error"

	defaultAccountTimeout = 2 * time.Minute
)

// IMAPService polls every active account for new mail. One connection is kept
// per account and reused across sweeps; a broken connection is replaced on the
// next sweep rather than failing the whole cycle.
type IMAPService struct {
	repositories *repository.Repositories
	normalizer   *email_processor.Normalizer
	pipeline     interfaces.ReplyPipeline
	publisher    interfaces.EventPublisher

	clients      map[string]*client.Client
	clientsMutex sync.RWMutex

	statuses    map[string]interfaces.AccountStatus
	statusMutex sync.RWMutex

	accountTimeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	runMu   sync.Mutex

	// dispatchWG tracks detached pipeline goroutines so Stop can wait for
	// them.
	dispatchWG sync.WaitGroup
}

func NewIMAPService(repos *repository.Repositories, pipeline interfaces.ReplyPipeline, publisher interfaces.EventPublisher) *IMAPService {
	return &IMAPService{
		repositories:   repos,
		normalizer:     email_processor.NewNormalizer(),
		pipeline:       pipeline,
		publisher:      publisher,
		clients:        make(map[string]*client.Client),
		statuses:       make(map[string]interfaces.AccountStatus),
		accountTimeout: defaultAccountTimeout,
	}
}

func (s *IMAPService) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return errors.New("imap service already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	return nil
}

func (s *IMAPService) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return nil
	}
	s.cancel()
	s.dispatchWG.Wait()
	s.disconnectAllClients()
	s.running = false
	return nil
}

// PollAll runs one fetch cycle over every active account. A failing account is
// recorded and skipped; it never aborts the sweep.
func (s *IMAPService) PollAll(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPService.PollAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	accounts, err := s.repositories.AccountRepository.GetActive(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogKV("accounts.count", len(accounts))

	var failed int
	for _, account := range accounts {
		if err := s.pollAccountWithTimeout(ctx, account); err != nil {
			failed++
			tracing.TraceErr(span, errors.Wrap(err, account.EmailAddress))
		}
	}

	span.LogKV("accounts.failed", failed)
	return nil
}

// PollAccount runs one fetch cycle for a single account, on demand.
func (s *IMAPService) PollAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPService.PollAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		err = repository.ErrAccountNotFound
		tracing.TraceErr(span, err)
		return err
	}
	return s.pollAccountWithTimeout(ctx, account)
}

func (s *IMAPService) Status() map[string]interfaces.AccountStatus {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()

	statuses := make(map[string]interfaces.AccountStatus, len(s.statuses))
	for id, status := range s.statuses {
		statuses[id] = status
	}
	return statuses
}

func (s *IMAPService) pollAccountWithTimeout(ctx context.Context, account *models.EmailAccount) error {
	pollCtx, cancel := context.WithTimeout(ctx, s.accountTimeout)
	defer cancel()

	err := s.pollAccount(pollCtx, account)
	if err != nil {
		s.updateStatus(account.ID, interfaces.AccountStatus{
			Connected:   false,
			LastError:   err.Error(),
			LastUID:     account.LastUID,
			UIDValidity: account.UIDValidity,
			LastPolled:  utils.Now(),
		})
		if statusErr := s.repositories.AccountRepository.SetSyncStatus(ctx, account.ID, syncStatusError, err.Error()); statusErr != nil {
			return statusErr
		}
		return err
	}
	return nil
}

func (s *IMAPService) pollAccount(ctx context.Context, account *models.EmailAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPService.pollAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("account.email", account.EmailAddress)

	c, err := s.getClient(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	// go-imap commands do not observe the context; bound each round trip by
	// the poll deadline so a wedged server fails the poll instead of stalling
	// the sweep.
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	} else {
		c.Timeout = s.accountTimeout
	}

	result, err := s.fetchNewMessages(ctx, c, account)
	if err != nil {
		// Drop the connection so the next sweep dials fresh.
		s.disconnectClient(account.ID, c)
		tracing.TraceErr(span, err)
		return err
	}
	span.LogKV("messages.fetched", len(result.messages))

	created := s.storeMessages(ctx, account, result.messages)

	// Cursor advances past everything fetched, including messages that
	// failed to normalize, so one malformed email is skipped, not retried
	// forever.
	if err := s.repositories.AccountRepository.SaveCursor(ctx, account.ID, result.lastUID, result.uidValidity); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.repositories.AccountRepository.SetSyncStatus(ctx, account.ID, syncStatusOK, ""); err != nil {
		tracing.TraceErr(span, err)
	}

	s.updateStatus(account.ID, interfaces.AccountStatus{
		Connected:   true,
		LastUID:     result.lastUID,
		UIDValidity: result.uidValidity,
		LastPolled:  utils.Now(),
		NewMessages: len(created),
	})

	s.dispatch(created)
	return nil
}

// storeMessages normalizes and persists fetched messages, returning the ones
// that were new. A message that fails to parse is logged and skipped so one
// malformed email cannot wedge the cursor forever.
func (s *IMAPService) storeMessages(ctx context.Context, account *models.EmailAccount, fetched []fetchedMessage) []*models.EmailMessage {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPService.storeMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	var created []*models.EmailMessage
	for _, item := range fetched {
		message, err := s.normalizer.Normalize(ctx, account, item.uid, item.raw)
		if err != nil {
			tracing.TraceErr(span, errors.Wrapf(err, "uid %d", item.uid))
			continue
		}

		isNew, err := s.repositories.MessageRepository.Upsert(ctx, message)
		if err != nil {
			tracing.TraceErr(span, errors.Wrapf(err, "uid %d", item.uid))
			continue
		}
		if isNew {
			created = append(created, message)
		}
	}
	span.LogKV("messages.created", len(created))
	return created
}

// dispatch hands new messages to the reply pipeline without blocking the poll
// sweep.
func (s *IMAPService) dispatch(messages []*models.EmailMessage) {
	for _, message := range messages {
		message := message

		if s.publisher != nil {
			s.publishReceived(message)
		}

		if s.pipeline == nil {
			continue
		}
		s.dispatchWG.Add(1)
		go func() {
			defer s.dispatchWG.Done()
			span, ctx := tracing.StartTracerSpan(s.ctx, "IMAPService.dispatchMessage")
			defer span.Finish()
			tracing.TagMessage(span, message.ID)

			if err := s.pipeline.Process(ctx, message.ID); err != nil {
				tracing.TraceErr(span, err)
			}
		}()
	}
}

func (s *IMAPService) publishReceived(message *models.EmailMessage) {
	span, ctx := tracing.StartTracerSpan(context.Background(), "IMAPService.publishReceived")
	defer span.Finish()
	tracing.TagMessage(span, message.ID)

	event := dto.MessageReceived{
		MessageID:  message.ID,
		AccountID:  message.AccountID,
		ThreadID:   message.ThreadID,
		Sender:     message.Sender,
		Subject:    message.Subject,
		ReceivedAt: message.ReceivedAt,
	}
	if err := s.publisher.PublishEvent(ctx, dto.EventMessageReceived, event); err != nil {
		tracing.TraceErr(span, err)
	}
}

func (s *IMAPService) updateStatus(accountID string, status interfaces.AccountStatus) {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()
	s.statuses[accountID] = status
}

func accountAddr(account *models.EmailAccount) string {
	return fmt.Sprintf("%s:%d", account.ImapServer, account.ImapPort)
}
