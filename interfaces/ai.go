package interfaces

import (
	"context"

	"github.com/mailpilot/mailpilot/dto"
)

type AIService interface {
	Classify(ctx context.Context, request dto.ClassifyRequest) (*dto.ClassifyResponse, error)
	Draft(ctx context.Context, request dto.DraftRequest) (*dto.DraftResponse, error)
	Validate(ctx context.Context, request dto.ValidateRequest) (*dto.ValidateResponse, error)
}

type KnowledgeService interface {
	Lookup(ctx context.Context, request dto.KnowledgeRequest) (*dto.KnowledgeResponse, error)
}
