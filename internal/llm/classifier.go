package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stayontop/mailtriage/internal/gmail"
	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/token"
)

const (
	// maxBodyChars caps the body text sent to the model.
	maxBodyChars = 3000

	// maxSummaryChars caps the summary kept from a model reply.
	maxSummaryChars = 500

	// maxKeyPoints caps the key points kept from a model reply.
	maxKeyPoints = 3

	defaultModel   = openai.GPT3Dot5Turbo
	defaultTimeout = 30 * time.Second
	temperature    = 0.3
)

// Analysis is the structured classification of one email.
type Analysis struct {
	Sentiment      string   `json:"sentiment"`
	Priority       string   `json:"priority"`
	Category       string   `json:"category"`
	Summary        string   `json:"summary"`
	ActionRequired bool     `json:"action_required"`
	KeyPoints      []string `json:"key_points"`
}

// DefaultAnalysis is returned when the model is unavailable or its
// reply cannot be parsed.
func DefaultAnalysis() Analysis {
	return Analysis{
		Sentiment:      "neutral",
		Priority:       "medium",
		Category:       "other",
		Summary:        "Email analysis unavailable",
		ActionRequired: false,
		KeyPoints:      []string{},
	}
}

// completionAPI is the slice of the OpenAI client the classifier uses.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Classifier analyzes emails with an OpenAI chat model.
type Classifier struct {
	api     completionAPI
	model   string
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewClassifier creates a classifier using the given API key.
func NewClassifier(apiKey string) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is not set", token.ErrConfiguration)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	return &Classifier{
		api:     openai.NewClientWithConfig(cfg),
		model:   defaultModel,
		logger:  slog.Default(),
		metrics: &instrumentation.Metrics{},
	}, nil
}

// SetLogger sets a custom logger for the classifier.
func (c *Classifier) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics recorder for classification observability.
func (c *Classifier) SetMetrics(metrics *instrumentation.Metrics) {
	if metrics != nil {
		c.metrics = metrics
	}
}

const systemPrompt = `You are an email triage assistant. Classify the email you are given and reply with JSON only, using this shape:
{"sentiment": "positive|neutral|negative", "priority": "high|medium|low", "category": "work|personal|promotional|notification|other", "summary": "one or two sentences", "action_required": true|false, "key_points": ["...", "..."]}`

// Analyze classifies one email. It never returns an error for model or
// parse failures; callers always get a usable Analysis.
func (c *Classifier) Analyze(ctx context.Context, email *gmail.Email) Analysis {
	body := email.BodyText
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	prompt := fmt.Sprintf(`Please analyze this email:

From: %s
Subject: %s
Has Attachments: %t

Body:
%s

Provide the analysis in the requested JSON format.`, email.Sender, email.Subject, email.HasAttachments, body)

	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.ServiceOpenAI, instrumentation.OperationClassify)
	defer span.End()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   500,
	})
	duration := time.Since(start)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.metrics.RecordClassification(ctx, instrumentation.StatusError, duration)
		c.logger.Error("email analysis failed",
			slog.String("message_id", email.ID),
			slog.String("error", err.Error()))
		return DefaultAnalysis()
	}
	instrumentation.SetSpanSuccess(span)
	c.metrics.RecordClassification(ctx, instrumentation.StatusSuccess, duration)
	if len(resp.Choices) == 0 {
		c.logger.Warn("model returned no choices", slog.String("message_id", email.ID))
		return DefaultAnalysis()
	}
	return c.parseResponse(resp.Choices[0].Message.Content)
}

// parseResponse extracts and validates the JSON object from a model
// reply. Models sometimes wrap the JSON in prose, so it takes the
// outermost braces rather than parsing the whole reply.
func (c *Classifier) parseResponse(reply string) Analysis {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		c.logger.Warn("model reply contained no JSON object")
		return DefaultAnalysis()
	}

	var raw struct {
		Sentiment      string   `json:"sentiment"`
		Priority       string   `json:"priority"`
		Category       string   `json:"category"`
		Summary        string   `json:"summary"`
		ActionRequired bool     `json:"action_required"`
		KeyPoints      []string `json:"key_points"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		c.logger.Warn("failed to parse model reply", slog.String("error", err.Error()))
		return DefaultAnalysis()
	}

	summary := raw.Summary
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars]
	}
	points := raw.KeyPoints
	if len(points) > maxKeyPoints {
		points = points[:maxKeyPoints]
	}
	if points == nil {
		points = []string{}
	}

	return Analysis{
		Sentiment:      validateEnum(raw.Sentiment, "neutral", "positive", "neutral", "negative"),
		Priority:       validateEnum(raw.Priority, "medium", "high", "medium", "low"),
		Category:       validateEnum(raw.Category, "other", "work", "personal", "promotional", "notification", "other"),
		Summary:        summary,
		ActionRequired: raw.ActionRequired,
		KeyPoints:      points,
	}
}

// validateEnum returns value when it is one of allowed, otherwise
// fallback.
func validateEnum(value, fallback string, allowed ...string) string {
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	return fallback
}
