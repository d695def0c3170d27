package speech

import "testing"

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "The kitchen light is on", "The kitchen light is on"},
		{"emphasis", "The **kitchen** light is *on*.", "The kitchen light is on."},
		{"soft breaks", "The kitchen light\nis on.", "The kitchen light is on."},
		{"link", "See [the dashboard](http://ha.local:8123) for details.", "See the dashboard for details."},
		{"heading and list", "## Shopping list\n\n- milk\n- eggs!", "Shopping list. milk. eggs!"},
		{"code", "Run `ha core restart` now.", "Run ha core restart now."},
		{"fenced code", "Status:\n\n```\nall good\n```", "Status: all good."},
		{"html dropped", "Done <b>now</b>", "Done now"},
		{"image dropped", "Here ![cam](http://x/cam.jpg) it is.", "Here it is."},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
