package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var geminiTracer = otel.Tracer("chainflow.llm.gemini")

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	embedModel string
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiEmbedRequest struct {
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func NewGeminiClient() (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	model := os.Getenv("GEMINI_MODEL")
	embedModel := os.Getenv("GEMINI_EMBEDDING_MODEL")
	baseURL := os.Getenv("GEMINI_BASE_URL")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}
	if model == "" {
		model = "gemini-2.0-flash"
		slog.Warn("GEMINI_MODEL not set, defaulting to gemini-2.0-flash")
	}
	if embedModel == "" {
		embedModel = "text-embedding-004"
		slog.Warn("GEMINI_EMBEDDING_MODEL not set, defaulting to text-embedding-004")
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Gemini client", "model", model, "embedding_model", embedModel)
	return &GeminiClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
	}, nil
}

// Generate implements the LLMClient interface
func (g *GeminiClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return g.Chat(ctx, []datatypes.Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements the LLMClient interface
func (g *GeminiClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	ctx, span := geminiTracer.Start(ctx, "GeminiClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(messages)))
	slog.Debug("Generating text via Gemini", "model", g.model)

	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		// Gemini's API names the assistant role "model".
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	payload := geminiGenerateRequest{
		Contents: contents,
		GenerationConfig: &geminiGenConfig{
			Temperature:     params.Temperature,
			TopK:            params.TopK,
			TopP:            params.TopP,
			MaxOutputTokens: params.MaxTokens,
			StopSequences:   params.Stop,
		},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	respBody, err := g.post(ctx, url, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var genResp geminiGenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse JSON response from Gemini", "error", err)
		return "", fmt.Errorf("failed to parse Gemini response: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		slog.Warn("Gemini returned no candidates")
		return "", fmt.Errorf("Gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// Embed implements the Embedder interface
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := geminiTracer.Start(ctx, "GeminiClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.embedModel))

	payload := geminiEmbedRequest{Content: geminiContent{Parts: []geminiPart{{Text: text}}}}
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", g.baseURL, g.embedModel, g.apiKey)

	respBody, err := g.post(ctx, url, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var embedResp geminiEmbedResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse Gemini embedding response: %w", err)
	}
	if len(embedResp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("Gemini returned an empty embedding")
	}
	return embedResp.Embedding.Values, nil
}

// post sends one JSON request and returns the raw body. Non-200 statuses
// come back as *GenerationError so callers can branch on retryability.
func (g *GeminiClient) post(ctx context.Context, url string, payload any) ([]byte, error) {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request to Gemini: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request to Gemini: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Error("Gemini API call failed", "error", err)
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from Gemini: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("Gemini returned an error", "status_code", resp.StatusCode, "response", string(respBodyBytes))
		return nil, &GenerationError{Provider: "gemini", StatusCode: resp.StatusCode, Body: string(respBodyBytes)}
	}
	return respBodyBytes, nil
}
