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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini generates JSON-LD through the Gemini generateContent API.
type Gemini struct {
	apiKey          string
	model           string
	maxContentChars int
	baseURL         string
	client          *http.Client
}

// NewGemini constructs the Gemini provider from configuration.
func NewGemini(cfg config.AnalyzerConfig) *Gemini {
	return &Gemini{
		apiKey:          cfg.Gemini.APIKey,
		model:           cfg.Gemini.Model,
		maxContentChars: cfg.MaxContentChars,
		baseURL:         geminiBaseURL,
		client:          &http.Client{},
	}
}

// Name returns the provider identifier.
func (g *Gemini) Name() string { return "gemini" }

// Configured reports whether credentials are present.
func (g *Gemini) Configured() bool { return g.apiKey != "" }

type geminiRequest struct {
	SystemInstruction geminiContent    `json:"system_instruction"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  geminiGenConfig  `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate produces a JSON-LD document for the page. The caller controls the
// deadline through ctx.
func (g *Gemini) Generate(ctx context.Context, html string, pageURL string) (schema.AnalysisResult, error) {
	start := time.Now()

	content := ExtractText(html, g.maxContentChars)
	reqBody, err := json.Marshal(geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents:          []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(content, pageURL)}}}},
		GenerationConfig:  geminiGenConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schema.AnalysisResult{}, fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return schema.AnalysisResult{}, fmt.Errorf("empty response from gemini")
	}

	var doc schema.JSONLD
	if err := json.Unmarshal([]byte(parsed.Candidates[0].Content.Parts[0].Text), &doc); err != nil {
		return schema.AnalysisResult{}, fmt.Errorf("decode generated json-ld: %w", err)
	}
	if err := validateSchema(doc); err != nil {
		return schema.AnalysisResult{}, err
	}

	return schema.AnalysisResult{
		Schema:       doc,
		Confidence:   0.85,
		ProcessingMs: time.Since(start).Milliseconds(),
	}, nil
}
