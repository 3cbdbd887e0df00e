package cliutil

import "testing"

func TestRedactSecrets(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"listening on :8080", "listening on :8080"},
		{"connect ${DATABASE_URL}", "connect ${[redacted]}"},
		{"DB_PASSWORD=hunter2 rejected", "DB_PASSWORD=[redacted] rejected"},
		{`api_key: "abc123"`, `api_key: "[redacted]"`},
	}
	for _, tc := range cases {
		if got := RedactSecrets(tc.in); got != tc.want {
			t.Fatalf("RedactSecrets(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactEnvMixedCaseAndNil(t *testing.T) {
	env := map[string]string{
		"PORT":         "8080",
		"GITHUB_TOKEN": "ghp_x",
		"DB_PASSWORD":  "",
		"AppSecret":    "s3cr3t",
	}
	got := RedactEnv(env)
	if got["PORT"] != "8080" {
		t.Fatalf("expected PORT to be kept, got %q", got["PORT"])
	}
	if got["GITHUB_TOKEN"] != redactedPlaceholder || got["AppSecret"] != redactedPlaceholder {
		t.Fatalf("expected secrets to be redacted, got %v", got)
	}
	if got["DB_PASSWORD"] != "" {
		t.Fatalf("empty values stay empty, got %q", got["DB_PASSWORD"])
	}
	if env["GITHUB_TOKEN"] != "ghp_x" {
		t.Fatalf("input map must not be modified")
	}
	if RedactEnv(nil) != nil {
		t.Fatalf("nil env must stay nil")
	}
}
