package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Chative-data-agent/server/internal/agent/llm/llmtest"
	"github.com/Chative-data-agent/server/internal/agent/retry"
	errx "github.com/Chative-data-agent/server/internal/core/error"
)

func init() {
	retry.InitialBackoff = time.Millisecond
}

func TestClient_GenerateAppliesSampling(t *testing.T) {
	fake := llmtest.NewChatModel(llmtest.Response{
		Text:  "  SELECT 1  ",
		Usage: &schema.TokenUsage{PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100},
	})
	client, err := NewClient(context.Background(), fake, Settings{Model: "gemini-2.5-pro", Temperature: 0.1, MaxTokens: 4096})
	require.NoError(t, err)

	reply, err := client.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")}, WithTemperature(0))
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", reply.Text)
	assert.Equal(t, "gemini-2.5-pro", reply.Model)
	require.NotNil(t, reply.Usage)
	assert.Equal(t, 1100, reply.Usage.TotalTokens)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Temperature)
	assert.Equal(t, float32(0), *calls[0].Temperature)
	require.NotNil(t, calls[0].MaxTokens)
	assert.Equal(t, 4096, *calls[0].MaxTokens)
}

func TestClient_JSONOutputReachesModel(t *testing.T) {
	fake := llmtest.Texts(`{"approved": true, "reason": "ok"}`, "plain")
	client, err := NewClient(context.Background(), fake, Settings{Model: "m"})
	require.NoError(t, err)

	verdict := openapi3.NewObjectSchema().WithProperty("approved", openapi3.NewBoolSchema())
	_, err = client.Generate(context.Background(), []*schema.Message{schema.UserMessage("rate")}, WithJSONOutput(verdict))
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Same(t, verdict, ResponseSchema(calls[0].Options...))
	assert.Nil(t, ResponseSchema(calls[1].Options...))
}

func TestClient_RetriesTransientProviderErrors(t *testing.T) {
	fake := llmtest.NewChatModel(
		llmtest.Response{Err: genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"}},
		llmtest.Response{Text: "ok"},
	)
	client, err := NewClient(context.Background(), fake, Settings{Model: "m", TransientRetries: 3})
	require.NoError(t, err)

	reply, err := client.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
	assert.Equal(t, 2, fake.CallCount())
}

func TestClient_DoesNotRetryPermanentErrors(t *testing.T) {
	fake := llmtest.NewChatModel(llmtest.Response{Err: genai.APIError{Code: http.StatusBadRequest, Message: "bad"}})
	client, err := NewClient(context.Background(), fake, Settings{Model: "m", TransientRetries: 3})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.False(t, errx.IsTransient(err))
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	assert.Equal(t, 1, fake.CallCount())
}

func TestClassify(t *testing.T) {
	assert.True(t, errx.IsTransient(Classify(genai.APIError{Code: 503})))
	assert.True(t, errx.IsTransient(Classify(fmt.Errorf("wrapped: %w", genai.APIError{Code: 429}))))
	assert.True(t, errx.IsTransient(Classify(errors.New("model is overloaded"))))
	assert.False(t, errx.IsTransient(Classify(genai.APIError{Code: 400})))
	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
	assert.NoError(t, Classify(nil))
}

func TestImageMessageRoundTrip(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	msg := ImageMessage("rate this chart", png)

	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, "rate this chart", llmtest.MessageText(msg))

	blocks, err := userBlocks(msg)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	mime, data, err := splitDataURL(msg.MultiContent[1].ImageURL.URL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	decoded, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	assert.Equal(t, png, decoded)

	_, _, err = splitDataURL("https://example.com/x.png")
	assert.Error(t, err)
}
