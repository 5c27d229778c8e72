package main

import (
	"strings"
	"testing"
)

func TestConfigCmd_Redacts(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api:
  base_url: https://api.example.test/
  key: super-secret-key
access:
  pin: "482913"
notify:
  slack:
    bot_token: xoxb-secret
    channel_id: C123
`)
	out, err := run(t, newRootCmd(), "", "config", "-c", path)
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	for _, secret := range []string{"super-secret-key", "482913", "xoxb-secret"} {
		if strings.Contains(out, secret) {
			t.Errorf("output leaks %q:\n%s", secret, out)
		}
	}
	for _, want := range []string{"base_url: https://api.example.test", "channel_id: C123", "poll_interval: 2s", "# access PIN: configured"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCmd_InvalidPIN(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "api:\n  base_url: http://localhost:9000\n  key: k\naccess:\n  pin: \"12ab\"\n")
	out, err := run(t, newRootCmd(), "", "config", "-c", path)
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if !strings.Contains(out, "missing or invalid") {
		t.Errorf("expected PIN warning, got:\n%s", out)
	}
}

func TestConfigCmd_MissingRequired(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "log:\n  level: debug\n")
	_, err := run(t, newRootCmd(), "", "config", "-c", path)
	if err == nil {
		t.Fatal("expected error for missing base url and key")
	}
	if !strings.Contains(err.Error(), "load config") || !strings.Contains(err.Error(), "api.base_url") {
		t.Errorf("error = %q", err.Error())
	}
}
