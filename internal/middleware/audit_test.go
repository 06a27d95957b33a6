package middleware

import (
	"strings"
	"testing"
)

func TestParseRouteInfo(t *testing.T) {
	cases := []struct {
		path, method   string
		module, action string
	}{
		{"/api/trades", "POST", "Trades", "Create"},
		{"/api/trades/:id/confirm", "POST", "Trades", "Confirm"},
		{"/api/trades/:id/request-changes", "POST", "Trades", "Request Changes"},
		{"/api/connections/:userId", "PUT", "Connections", "Update"},
		{"/api/system-logs/retention", "PUT", "System Logs", "Update"},
		{"/api/connections/:userId", "DELETE", "Connections", "Delete"},
		{"", "POST", "unknown", "Create"},
	}
	for _, tc := range cases {
		module, action := parseRouteInfo(tc.path, tc.method)
		if module != tc.module || action != tc.action {
			t.Errorf("parseRouteInfo(%q, %q) = %q, %q; want %q, %q", tc.path, tc.method, module, action, tc.module, tc.action)
		}
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	body := `{"username":"alice","password": "hunter2","refresh_token":"abc"}`
	masked := maskSensitiveFields(body)

	if strings.Contains(masked, "hunter2") || strings.Contains(masked, `"abc"`) {
		t.Errorf("secrets leaked: %s", masked)
	}
	if !strings.Contains(masked, `"alice"`) {
		t.Errorf("non-sensitive field was masked: %s", masked)
	}
}

func TestFormatAuditMessage(t *testing.T) {
	if got := formatAuditMessage("alice", "POST", "/api/trades", 201); got != "[Audit] alice POST /api/trades -> OK" {
		t.Errorf("unexpected message %q", got)
	}
	if got := formatAuditMessage("alice", "POST", "/api/trades", 409); !strings.HasSuffix(got, "Failed") {
		t.Errorf("unexpected message %q", got)
	}
}
