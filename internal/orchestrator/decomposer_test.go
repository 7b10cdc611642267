package orchestrator

import (
	"context"
	"errors"
	"testing"
)

func TestKeywordParserSplitsClauses(t *testing.T) {
	intents, err := KeywordParser{}.Parse(context.Background(), "restart nginx and check the logs")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(intents))
	}
	if intents[0].Intent != "restart-service" {
		t.Errorf("expected restart-service, got %q", intents[0].Intent)
	}
	if intents[1].Intent != "check-logs" {
		t.Errorf("expected check-logs, got %q", intents[1].Intent)
	}
	if len(intents[1].DependsOn) != 0 {
		t.Errorf("'and' clauses must be independent, got deps %v", intents[1].DependsOn)
	}
}

func TestKeywordParserThenCreatesDependency(t *testing.T) {
	intents, err := KeywordParser{}.Parse(context.Background(), "backup the database then restart postgres")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(intents))
	}
	if intents[0].Intent != "backup-data" {
		t.Errorf("expected backup-data, got %q", intents[0].Intent)
	}
	if len(intents[1].DependsOn) != 1 || intents[1].DependsOn[0] != 0 {
		t.Errorf("expected second intent to depend on first, got %v", intents[1].DependsOn)
	}
}

func TestKeywordParserUnparseable(t *testing.T) {
	for _, text := range []string{"", "   ", "make it nicer please"} {
		_, err := KeywordParser{}.Parse(context.Background(), text)
		if !errors.Is(err, ErrUnparseable) {
			t.Errorf("input %q: expected ErrUnparseable, got %v", text, err)
		}
	}
}

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, taskID, prompt string) (string, error) {
	return f.response, f.err
}

func TestCompletionParserParsesModelOutput(t *testing.T) {
	parser := &CompletionParser{
		Completer: &fakeCompleter{response: `Here is the breakdown:
[{"intent": "scale-service", "parameters": {"service": "api", "replicas": "5"}, "confidence": 0.92}]`},
		Fallback: KeywordParser{},
	}

	intents, err := parser.Parse(context.Background(), "scale the api to 5 replicas")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(intents) != 1 || intents[0].Intent != "scale-service" {
		t.Fatalf("unexpected intents %v", intents)
	}
	if intents[0].Parameters["replicas"] != "5" {
		t.Errorf("expected extracted replicas parameter, got %v", intents[0].Parameters)
	}
}

func TestCompletionParserFallsBackOnBackendFailure(t *testing.T) {
	parser := &CompletionParser{
		Completer: &fakeCompleter{err: errors.New("backend down")},
		Fallback:  KeywordParser{},
	}

	intents, err := parser.Parse(context.Background(), "restart nginx")
	if err != nil {
		t.Fatalf("expected keyword fallback, got %v", err)
	}
	if len(intents) != 1 || intents[0].Intent != "restart-service" {
		t.Errorf("unexpected fallback intents %v", intents)
	}
}

func TestCompletionParserRejectsInvalidDependencies(t *testing.T) {
	parser := &CompletionParser{
		Completer: &fakeCompleter{response: `[{"intent": "diagnose", "depends_on": [7]}]`},
	}

	_, err := parser.Parse(context.Background(), "why is the api slow")
	if !errors.Is(err, ErrUnparseable) {
		t.Errorf("expected ErrUnparseable without a fallback, got %v", err)
	}
}
