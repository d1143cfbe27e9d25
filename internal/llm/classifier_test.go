package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stayontop/mailtriage/internal/gmail"
	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/token"
)

type fakeAPI struct {
	reply   string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func newTestClassifier(api *fakeAPI) *Classifier {
	return &Classifier{api: api, model: defaultModel, logger: slog.Default(), metrics: &instrumentation.Metrics{}}
}

func testEmail() *gmail.Email {
	return &gmail.Email{
		ID:      "msg-001",
		Sender:  "billing@example.com",
		Subject: "Invoice due Friday",
	}
}

func TestNewClassifier_RequiresAPIKey(t *testing.T) {
	_, err := NewClassifier("")
	require.Error(t, err)
	assert.ErrorIs(t, err, token.ErrConfiguration)
}

func TestAnalyze_ParsesWellFormedReply(t *testing.T) {
	api := &fakeAPI{reply: `{"sentiment":"negative","priority":"high","category":"work","summary":"Invoice is due.","action_required":true,"key_points":["pay by Friday"]}`}

	analysis := newTestClassifier(api).Analyze(context.Background(), testEmail())

	assert.Equal(t, "negative", analysis.Sentiment)
	assert.Equal(t, "high", analysis.Priority)
	assert.Equal(t, "work", analysis.Category)
	assert.Equal(t, "Invoice is due.", analysis.Summary)
	assert.True(t, analysis.ActionRequired)
	assert.Equal(t, []string{"pay by Friday"}, analysis.KeyPoints)
}

func TestAnalyze_ExtractsJSONFromProse(t *testing.T) {
	api := &fakeAPI{reply: "Sure! Here is the analysis:\n" +
		`{"sentiment":"positive","priority":"low","category":"personal","summary":"A greeting.","action_required":false,"key_points":[]}` +
		"\nLet me know if you need more."}

	analysis := newTestClassifier(api).Analyze(context.Background(), testEmail())

	assert.Equal(t, "positive", analysis.Sentiment)
	assert.Equal(t, "personal", analysis.Category)
}

func TestAnalyze_InvalidEnumsFallBack(t *testing.T) {
	api := &fakeAPI{reply: `{"sentiment":"ecstatic","priority":"critical","category":"spam","summary":"x","action_required":false}`}

	analysis := newTestClassifier(api).Analyze(context.Background(), testEmail())

	assert.Equal(t, "neutral", analysis.Sentiment)
	assert.Equal(t, "medium", analysis.Priority)
	assert.Equal(t, "other", analysis.Category)
	assert.NotNil(t, analysis.KeyPoints)
}

func TestAnalyze_ModelErrorReturnsDefault(t *testing.T) {
	api := &fakeAPI{err: fmt.Errorf("rate limited")}

	analysis := newTestClassifier(api).Analyze(context.Background(), testEmail())

	assert.Equal(t, DefaultAnalysis(), analysis)
}

func TestAnalyze_GarbageReplyReturnsDefault(t *testing.T) {
	for _, reply := range []string{"", "no json here", "{broken"} {
		api := &fakeAPI{reply: reply}
		analysis := newTestClassifier(api).Analyze(context.Background(), testEmail())
		assert.Equal(t, DefaultAnalysis(), analysis, "reply %q", reply)
	}
}

func TestAnalyze_RecordsClassificationDuration(t *testing.T) {
	api := &fakeAPI{reply: `{"summary":"ok"}`}
	classifier := newTestClassifier(api)

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	metrics, err := instrumentation.NewMetrics(meter, false)
	require.NoError(t, err)
	classifier.SetMetrics(metrics)

	classifier.Analyze(context.Background(), testEmail())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var recorded uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "classification_duration_seconds" {
				continue
			}
			if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
				for _, dp := range hist.DataPoints {
					recorded += dp.Count
				}
			}
		}
	}
	assert.Equal(t, uint64(1), recorded)
}

func TestAnalyze_TruncatesLongBodies(t *testing.T) {
	api := &fakeAPI{reply: `{"summary":"x"}`}
	email := testEmail()
	email.BodyText = strings.Repeat("a", maxBodyChars+1000)

	newTestClassifier(api).Analyze(context.Background(), email)

	userMsg := api.lastReq.Messages[len(api.lastReq.Messages)-1].Content
	assert.Less(t, len(userMsg), maxBodyChars+500, "prompt should carry a truncated body")
}

func TestAnalyze_TruncatesSummaryAndKeyPoints(t *testing.T) {
	longSummary := strings.Repeat("s", maxSummaryChars+100)
	api := &fakeAPI{reply: fmt.Sprintf(
		`{"summary":%q,"key_points":["a","b","c","d","e"]}`, longSummary)}

	analysis := newTestClassifier(api).Analyze(context.Background(), testEmail())

	assert.Len(t, analysis.Summary, maxSummaryChars)
	assert.Len(t, analysis.KeyPoints, maxKeyPoints)
}
