package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// maxClassifyChars bounds the complaint text embedded in the prompt.
const maxClassifyChars = 6000

type classifiedResponse struct {
	Ministry   string  `json:"ministry"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classifier maps free complaint text onto the current taxonomy. The
// primary path is one LLM call with a strict output schema; everything the
// model returns is re-validated against the taxonomy, and the deterministic
// fallback matcher takes over on low confidence, null fields, or any
// upstream failure. Classify never returns an error.
type Classifier struct {
	taxonomy *TaxonomyCache
	fallback *FallbackMatcher
	// ConfidenceThreshold is the minimum primary confidence accepted
	// without consulting the fallback matcher.
	ConfidenceThreshold float64

	// complete performs one LLM round trip. Tests replace it.
	complete func(systemPrompt, userPrompt string) (string, error)
}

func NewClassifier(cfg Config, taxonomy *TaxonomyCache, fallback *FallbackMatcher) *Classifier {
	model := cfg.LLMModel
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Classifier{
		taxonomy:            taxonomy,
		fallback:            fallback,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		complete: func(systemPrompt, userPrompt string) (string, error) {
			return callAnthropic(cfg.AnthropicAPIKey, model, systemPrompt, userPrompt)
		},
	}
}

// Classify resolves text to a ClassificationResult whose ministry and
// category are members of the current taxonomy (or both empty, which only
// happens when the taxonomy itself is empty).
func (c *Classifier) Classify(text string) ClassificationResult {
	tax := c.taxonomy.Get()
	if len(tax.Ministries) == 0 && len(tax.Categories) == 0 {
		log.Printf("classify empty taxonomy, returning null result")
		return ClassificationResult{Confidence: 0.1, UsedFallback: true}
	}

	primary, err := c.classifyPrimary(text, tax)
	if err != nil {
		log.Printf("classify primary error, using fallback: %v", err)
		return c.emergency(text, tax)
	}

	if primary.Ministry != "" && primary.Category != "" && primary.Confidence >= c.ConfidenceThreshold {
		return primary
	}

	log.Printf("classify low confidence=%0.2f ministry=%q category=%q, using fallback matcher",
		primary.Confidence, primary.Ministry, primary.Category)
	result := c.fallback.Match(text, tax)
	result.RawMinistry = primary.RawMinistry
	result.RawCategory = primary.RawCategory
	return result
}

func (c *Classifier) classifyPrimary(text string, tax Taxonomy) (ClassificationResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ClassificationResult{}, fmt.Errorf("empty complaint text")
	}
	if len(trimmed) > maxClassifyChars {
		trimmed = truncateText(trimmed, maxClassifyChars) + "..."
	}

	systemPrompt, userPrompt := buildClassifyPrompts(trimmed, tax)
	responseText, err := c.complete(systemPrompt, userPrompt)
	if err != nil {
		return ClassificationResult{}, err
	}

	parsed, err := parseClassifyResponse(responseText)
	if err != nil {
		return ClassificationResult{}, err
	}

	// Anything outside the taxonomy is coerced to null; the fallback
	// decides what to do with it.
	result := ClassificationResult{
		Ministry:    tax.CanonicalMinistry(parsed.Ministry),
		Category:    tax.CanonicalCategory(parsed.Category),
		Confidence:  parsed.Confidence,
		RawMinistry: strings.TrimSpace(parsed.Ministry),
		RawCategory: strings.TrimSpace(parsed.Category),
		Reasoning:   strings.TrimSpace(parsed.Reasoning),
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}

// emergency is the never-fails path: the fallback matcher, and if even
// that has nothing to work with, the first taxonomy entries at rock-bottom
// confidence.
func (c *Classifier) emergency(text string, tax Taxonomy) ClassificationResult {
	result := c.fallback.Match(text, tax)
	if result.Ministry == "" && len(tax.Ministries) > 0 {
		result.Ministry = tax.Ministries[0]
		result.Confidence = 0.1
	}
	if result.Category == "" && len(tax.Categories) > 0 {
		result.Category = tax.Categories[0]
		result.Confidence = 0.1
	}
	result.UsedFallback = true
	return result
}

func buildClassifyPrompts(text string, tax Taxonomy) (string, string) {
	var ministryLines strings.Builder
	for _, m := range tax.Ministries {
		ministryLines.WriteString("- " + m + "\n")
	}
	var categoryLines strings.Builder
	for _, c := range tax.Categories {
		categoryLines.WriteString("- " + c + "\n")
	}

	systemPrompt := fmt.Sprintf(`You classify citizen grievances for a public ombudsman service.
Choose exactly one ministry from:
%s
Choose exactly one category from:
%s
Use the exact names as listed. Set confidence between 0 and 1.

Respond with JSON only (no markdown):
{"ministry": "Ministry of Health", "category": "Service Delay", "confidence": 0.91, "reasoning": "..."}`,
		ministryLines.String(), categoryLines.String())

	userPrompt := "Classify this grievance:\n\n" + text
	return systemPrompt, userPrompt
}

func parseClassifyResponse(responseText string) (classifiedResponse, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var parsed classifiedResponse
	if err := json.Unmarshal([]byte(responseText), &parsed); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return classifiedResponse{}, fmt.Errorf("parsing classification response: %w (truncated response: %s)", err, truncated)
	}
	return parsed, nil
}

// --- Anthropic ---

func callAnthropic(apiKey, model, systemPrompt, userPrompt string) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	message, err := client.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}
