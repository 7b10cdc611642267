package config

import (
	"errors"
	"testing"
)

func TestGetAPIKeyPrefersEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")

	cfg := &Config{}
	cfg.Anthropic.APIKey = "sk-ant-config-key"

	key, err := GetAPIKey(cfg)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key != "sk-ant-env-key" {
		t.Errorf("expected env key to win, got %q", key)
	}
}

func TestGetAPIKeyFromConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := &Config{}
	cfg.Anthropic.APIKey = "sk-ant-config-key"

	key, err := GetAPIKey(cfg)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key != "sk-ant-config-key" {
		t.Errorf("expected config key, got %q", key)
	}
}

func TestGetAPIKeyMissing(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := GetAPIKey(&Config{})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestValidateAPIKey(t *testing.T) {
	cases := []struct {
		key     string
		wantErr bool
	}{
		{"", true},
		{"not-a-key", true},
		{"sk-ant-short", true},
		{"sk-ant-REDACTED", false},
	}
	for _, tc := range cases {
		err := ValidateAPIKey(tc.key)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tc.key, err, tc.wantErr)
		}
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey(""); got != "(not set)" {
		t.Errorf("expected (not set), got %q", got)
	}
	if got := MaskAPIKey("sk-ant-tiny"); got != "***" {
		t.Errorf("expected ***, got %q", got)
	}
	masked := MaskAPIKey("sk-ant-REDACTED")
	if masked != "sk-ant-...1234" {
		t.Errorf("unexpected mask %q", masked)
	}
}
