package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/discoverly/edgeschema/internal/config"
	"github.com/discoverly/edgeschema/internal/schema"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAI generates JSON-LD through the OpenAI chat completions API.
type OpenAI struct {
	apiKey          string
	model           string
	maxContentChars int
	baseURL         string
	client          *http.Client
}

// NewOpenAI constructs the OpenAI provider from configuration.
func NewOpenAI(cfg config.AnalyzerConfig) *OpenAI {
	return &OpenAI{
		apiKey:          cfg.OpenAI.APIKey,
		model:           cfg.OpenAI.Model,
		maxContentChars: cfg.MaxContentChars,
		baseURL:         openAIBaseURL,
		client:          &http.Client{},
	}
}

// Name returns the provider identifier.
func (o *OpenAI) Name() string { return "openai" }

// Configured reports whether credentials are present.
func (o *OpenAI) Configured() bool { return o.apiKey != "" }

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat responseFmt   `json:"response_format"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate produces a JSON-LD document for the page. The caller controls the
// deadline through ctx.
func (o *OpenAI) Generate(ctx context.Context, html string, pageURL string) (schema.AnalysisResult, error) {
	start := time.Now()

	content := ExtractText(html, o.maxContentChars)
	reqBody, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(content, pageURL)},
		},
		ResponseFormat: responseFmt{Type: "json_object"},
		Temperature:    0.3,
		MaxTokens:      1500,
	})
	if err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("encode openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("build openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schema.AnalysisResult{}, fmt.Errorf("openai status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return schema.AnalysisResult{}, fmt.Errorf("empty response from openai")
	}

	var doc schema.JSONLD
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &doc); err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("decode generated json-ld: %w", err)
	}
	if err := validateSchema(doc); err != nil {
		return schema.AnalysisResult{}, err
	}

	return schema.AnalysisResult{
		Schema:       doc,
		Confidence:   0.9,
		ProcessingMs: time.Since(start).Milliseconds(),
	}, nil
}

func truncateBody(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
