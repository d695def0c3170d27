package llm

import "testing"

func TestCapabilities(t *testing.T) {
	c := NewCapabilities()
	if c.Tools() != ToolSupportUnknown || !c.ToolsAllowed() {
		t.Fatalf("new capabilities = %v, allowed %v", c.Tools(), c.ToolsAllowed())
	}

	c.markToolsSupported()
	if c.Tools() != ToolSupportYes {
		t.Errorf("after success Tools() = %v, want supported", c.Tools())
	}

	if !c.markToolsUnsupported("jinja template error") {
		t.Error("first downgrade reported no change")
	}
	if c.markToolsUnsupported("again") {
		t.Error("second downgrade reported a change")
	}
	if c.ToolsAllowed() {
		t.Error("ToolsAllowed() = true after downgrade")
	}
	if c.Reason() != "jinja template error" {
		t.Errorf("Reason() = %q", c.Reason())
	}

	// A later success does not undo the downgrade.
	c.markToolsSupported()
	if c.Tools() != ToolSupportNo {
		t.Errorf("Tools() = %v after success following downgrade, want unsupported", c.Tools())
	}

	c.Reset()
	if c.Tools() != ToolSupportUnknown || c.Reason() != "" {
		t.Errorf("after Reset: %v %q", c.Tools(), c.Reason())
	}
}

func TestToolSupportString(t *testing.T) {
	tests := map[ToolSupport]string{
		ToolSupportUnknown: "unknown",
		ToolSupportYes:     "supported",
		ToolSupportNo:      "unsupported",
	}
	for ts, want := range tests {
		if got := ts.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(ts), got, want)
		}
	}
}

func TestHasToolSignature(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"tools param requires --jinja flag", true},
		{"Unknown method: tools", true},
		{"Error rendering Jinja template", true},
		{"model does not support tools", true},
		{"context length exceeded", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := hasToolSignature(tt.msg); got != tt.want {
			t.Errorf("hasToolSignature(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
