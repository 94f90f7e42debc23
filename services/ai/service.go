package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailpilot/mailpilot/dto"
	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/tracing"
)

type AIConfig struct {
	URL    string `env:"AI_SERVICE_URL" validate:"required"`
	APIKey string `env:"AI_SERVICE_API_KEY"`
}

type aiService struct {
	config *AIConfig
	client *http.Client
}

func NewAIService(config *AIConfig) interfaces.AIService {
	return &aiService{
		config: config,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func NewKnowledgeService(config *AIConfig) interfaces.KnowledgeService {
	return &aiService{
		config: config,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (s *aiService) Classify(ctx context.Context, request dto.ClassifyRequest) (*dto.ClassifyResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aiService.Classify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "request", request)

	var response dto.ClassifyResponse
	if err := s.post(ctx, "/v1/classify", request, &response); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	tracing.LogObjectAsJson(span, "response", response)
	return &response, nil
}

func (s *aiService) Draft(ctx context.Context, request dto.DraftRequest) (*dto.DraftResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aiService.Draft")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("redraft", request.Feedback != "")

	var response dto.DraftResponse
	if err := s.post(ctx, "/v1/draft", request, &response); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &response, nil
}

func (s *aiService) Validate(ctx context.Context, request dto.ValidateRequest) (*dto.ValidateResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aiService.Validate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var response dto.ValidateResponse
	if err := s.post(ctx, "/v1/validate", request, &response); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogKV("verdict", response.Verdict)
	return &response, nil
}

func (s *aiService) Lookup(ctx context.Context, request dto.KnowledgeRequest) (*dto.KnowledgeResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aiService.Lookup")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var response dto.KnowledgeResponse
	if err := s.post(ctx, "/v1/knowledge/search", request, &response); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogKV("result.count", len(response.Items))
	return &response, nil
}

func (s *aiService) post(ctx context.Context, path string, request interface{}, response interface{}) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.URL+path, bytes.NewBuffer(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("X-MAILPILOT-API-KEY", s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "unable to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
