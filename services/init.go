package services

import (
	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/services/ai"
	"github.com/mailpilot/mailpilot/services/events"
	"github.com/mailpilot/mailpilot/services/imap"
	"github.com/mailpilot/mailpilot/services/pipeline"
	"github.com/mailpilot/mailpilot/services/smtp"
)

type Services struct {
	EventsService    *events.EventsService
	AIService        interfaces.AIService
	KnowledgeService interfaces.KnowledgeService
	EmailSender      interfaces.EmailSender
	ReplyPipeline    interfaces.ReplyPipeline
	IMAPService      interfaces.IMAPService
}

func InitServices(rabbitmqURL string, aiConfig *ai.AIConfig, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	// events
	publisherConfig := &events.PublisherConfig{
		MessageTTL:          events.DefaultMessageTTL,
		MaxRetries:          events.DefaultMaxRetries,
		PublishTimeout:      events.DefaultPublishTimeout,
		ReconnectBackoff:    events.DefaultReconnectBackoff,
		MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
	}

	eventsService, err := events.NewEventsService(rabbitmqURL, log, publisherConfig)
	if err != nil {
		return nil, err
	}

	aiService := ai.NewAIService(aiConfig)
	knowledgeService := ai.NewKnowledgeService(aiConfig)
	emailSender := smtp.NewSMTPSender()
	replyPipeline := pipeline.NewService(repos, aiService, knowledgeService, emailSender, eventsService.Publisher)

	services := Services{
		EventsService:    eventsService,
		AIService:        aiService,
		KnowledgeService: knowledgeService,
		EmailSender:      emailSender,
		ReplyPipeline:    replyPipeline,
		IMAPService:      imap.NewIMAPService(repos, replyPipeline, eventsService.Publisher),
	}

	return &services, nil
}
