// Package analyzer implements content-analyzer providers that turn page
// content into Schema.org JSON-LD.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/discoverly/edgeschema/internal/config"
	"github.com/discoverly/edgeschema/internal/schema"
)

// DefaultMaxContentChars bounds the sanitized text handed to a provider.
const DefaultMaxContentChars = 8000

// New selects the active provider from configuration.
func New(cfg config.AnalyzerConfig) (schema.Analyzer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAI(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported analyzer provider: %s", cfg.Provider)
	}
}

// ExtractText strips markup from HTML and returns collapsed visible text,
// truncated to maxChars runes.
func ExtractText(htmlContent string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxContentChars
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Text()), " ")
	runes := []rune(text)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return string(runes)
}

const systemPrompt = "You are an expert in Schema.org structured data. " +
	"Generate accurate JSON-LD markup for web pages. Always respond with valid JSON only."

func buildPrompt(content, pageURL string) string {
	return fmt.Sprintf(`Analyze the following webpage content and generate appropriate Schema.org JSON-LD structured data.

URL: %s
Content: %s

Requirements:
- Generate valid Schema.org JSON-LD markup
- Choose the most appropriate schema type (Article, Product, Organization, etc.)
- Include relevant properties based on the content
- Ensure the @context is "https://schema.org"
- Return only valid JSON without any markdown formatting

Respond with a JSON object in this format:
{
  "@context": "https://schema.org",
  "@type": "...",
  ...
}`, pageURL, content)
}

func validateSchema(doc schema.JSONLD) error {
	if !doc.Valid() {
		return schema.ErrInvalidSchema
	}
	return nil
}
