package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// maxAnalysisChars bounds how much document text is sent to the model.
// Analysis quality plateaus well before this; longer prompts only add cost.
const maxAnalysisChars = 8000

const analysisSystemPrompt = `You are a document analyst for a knowledge base.
Given a document, respond with ONLY a JSON object — no prose, no code fences — with exactly these fields:
{
  "summary": "2-3 sentence abstract",
  "primary_category": "single main topic category, lowercase",
  "secondary_categories": ["other relevant categories"],
  "keywords": ["5-10 salient terms"],
  "technical_level": 1,
  "entities": ["named organisations, products, people"],
  "quality_flags": ["warnings such as 'truncated' or 'boilerplate', often empty"],
  "confidence_score": 0.9
}
technical_level is an integer from 1 (introductory) to 10 (deeply technical).
confidence_score is a number from 0 to 1.`

// ModelAnalyzer implements Analyzer by prompting an LLM chat model for a
// strict-JSON analysis record. It is safe for concurrent use.
type ModelAnalyzer struct {
	// chatModel is the eino chat model that produces the analysis.
	chatModel model.ToolCallingChatModel
}

// NewModelAnalyzer constructs a ModelAnalyzer around the given chat model.
func NewModelAnalyzer(chatModel model.ToolCallingChatModel) (*ModelAnalyzer, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("analyzer: chat model must not be nil")
	}
	return &ModelAnalyzer{chatModel: chatModel}, nil
}

// Analyze prompts the model and parses its JSON response. Model and parse
// failures are returned to the caller, who treats them as non-fatal.
func (m *ModelAnalyzer) Analyze(ctx context.Context, text, sourceHint string) (*Analysis, error) {
	if len(text) > maxAnalysisChars {
		text = text[:maxAnalysisChars]
	}

	user := text
	if sourceHint != "" {
		user = fmt.Sprintf("Source: %s\n\n%s", sourceHint, text)
	}

	msg, err := m.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(analysisSystemPrompt),
		schema.UserMessage(user),
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer: model generate: %w", err)
	}

	analysis, err := parseAnalysis(msg.Content)
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// parseAnalysis decodes the model's response into an Analysis, tolerating
// the code fences some models insist on emitting, and clamping out-of-range
// numeric fields.
func parseAnalysis(content string) (*Analysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Some models wrap the object in prose; take the outermost braces.
	if start := strings.Index(content, "{"); start > 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var a Analysis
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return nil, fmt.Errorf("analyzer: parse model response: %w", err)
	}
	a.clamp()
	return &a, nil
}
