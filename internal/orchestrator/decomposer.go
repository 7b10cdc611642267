package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable indicates a request could not be decomposed into intents.
// It is surfaced to the user for clarification, never retried blindly.
var ErrUnparseable = errors.New("request could not be parsed into intents")

// Intent is one typed sub-intent extracted from a free-form request.
type Intent struct {
	// Intent is the intent name (e.g. "restart-service", "check-logs").
	Intent string `json:"intent"`
	// Parameters are the intent's extracted arguments.
	Parameters map[string]string `json:"parameters,omitempty"`
	// Confidence is how confident the parser is, in [0,1].
	Confidence float64 `json:"confidence"`
	// DependsOn lists the zero-based indices of intents that must complete
	// first.
	DependsOn []int `json:"depends_on,omitempty"`
}

// IntentParser turns free-form request text into typed sub-intents.
type IntentParser interface {
	Parse(ctx context.Context, requestText string) ([]Intent, error)
}

// intentKeywords maps trigger keywords to intent names. It is the single
// source of truth for keyword classification; first match per clause wins,
// most specific keywords first.
var intentKeywords = []struct {
	keyword string
	intent  string
}{
	{"restart", "restart-service"},
	{"redeploy", "deploy-service"},
	{"deploy", "deploy-service"},
	{"rollback", "rollback-service"},
	{"scale", "scale-service"},
	{"logs", "check-logs"},
	{"log", "check-logs"},
	{"status", "check-status"},
	{"health", "check-status"},
	{"check", "check-status"},
	{"backup", "backup-data"},
	{"migrate", "migrate-data"},
	{"clean", "cleanup"},
	{"diagnose", "diagnose"},
	{"investigate", "diagnose"},
	{"why", "diagnose"},
	{"analyze", "diagnose"},
}

// KeywordParser classifies requests by keyword lookup. It is the default
// parser: deterministic, offline, and cheap. Each clause (split on "and",
// "then", commas, semicolons) yields at most one intent; "then" introduces
// a dependency on the preceding clause.
type KeywordParser struct{}

// Parse implements IntentParser.
func (KeywordParser) Parse(ctx context.Context, requestText string) ([]Intent, error) {
	text := strings.TrimSpace(requestText)
	if text == "" {
		return nil, ErrUnparseable
	}

	var intents []Intent
	for _, clause := range splitClauses(text) {
		lower := strings.ToLower(clause.text)
		for _, kw := range intentKeywords {
			if !strings.Contains(lower, kw.keyword) {
				continue
			}
			intent := Intent{
				Intent:     kw.intent,
				Parameters: map[string]string{"request": strings.TrimSpace(clause.text)},
				Confidence: 0.75,
			}
			if clause.sequential && len(intents) > 0 {
				intent.DependsOn = []int{len(intents) - 1}
			}
			intents = append(intents, intent)
			break
		}
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnparseable, requestText)
	}
	return intents, nil
}

type clause struct {
	text string
	// sequential marks a clause introduced by "then": it depends on the
	// previous clause.
	sequential bool
}

func splitClauses(text string) []clause {
	var clauses []clause
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';'
	}) {
		for i, seq := range strings.Split(part, " then ") {
			for j, sub := range strings.Split(seq, " and ") {
				trimmed := strings.TrimSpace(sub)
				if trimmed == "" {
					continue
				}
				clauses = append(clauses, clause{text: trimmed, sequential: i > 0 && j == 0})
			}
		}
	}
	return clauses
}

// Completer produces a completion for a prompt. The fallback engine
// satisfies this.
type Completer interface {
	Complete(ctx context.Context, taskID, prompt string) (string, error)
}

// parsePrompt is the prompt template for model-backed intent extraction.
const parsePrompt = `Break this infrastructure request into typed intents. Return ONLY a JSON array (no other text):
[
  {"intent": "intent-name", "parameters": {"key": "value"}, "confidence": 0.9, "depends_on": []}
]

Use depends_on (zero-based indices into this array) only when an intent truly requires another to finish first.

Request:
%s`

// CompletionParser extracts intents with a reasoning backend, falling back
// to keyword classification when the backend fails or returns garbage.
type CompletionParser struct {
	// Completer is the backing reasoning implementation.
	Completer Completer
	// Fallback handles requests the backend cannot.
	Fallback IntentParser
}

// Parse implements IntentParser.
func (p *CompletionParser) Parse(ctx context.Context, requestText string) ([]Intent, error) {
	if strings.TrimSpace(requestText) == "" {
		return nil, ErrUnparseable
	}

	response, err := p.Completer.Complete(ctx, "", fmt.Sprintf(parsePrompt, requestText))
	if err != nil {
		return p.parseFallback(ctx, requestText)
	}

	intents, err := parseIntentResponse(response)
	if err != nil {
		return p.parseFallback(ctx, requestText)
	}
	return intents, nil
}

func (p *CompletionParser) parseFallback(ctx context.Context, requestText string) ([]Intent, error) {
	if p.Fallback == nil {
		return nil, ErrUnparseable
	}
	return p.Fallback.Parse(ctx, requestText)
}

// parseIntentResponse parses the model's JSON response. The model might
// include extra text around the array.
func parseIntentResponse(response string) ([]Intent, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no valid JSON array found in response")
	}

	var intents []Intent
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &intents); err != nil {
		return nil, fmt.Errorf("unmarshal intents: %w", err)
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("empty intent list returned")
	}

	for i, intent := range intents {
		if intent.Intent == "" {
			return nil, fmt.Errorf("intent %d has no name", i)
		}
		for _, dep := range intent.DependsOn {
			if dep < 0 || dep >= len(intents) || dep == i {
				return nil, fmt.Errorf("intent %d has invalid dependency %d", i, dep)
			}
		}
	}
	return intents, nil
}
