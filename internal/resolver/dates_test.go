package resolver

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	// Wednesday.
	now := time.Date(2025, 6, 4, 16, 20, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC) }
	at := func(d, h, m int) time.Time { return time.Date(2025, 6, d, h, m, 0, 0, time.UTC) }

	tests := []struct {
		in       string
		want     time.Time
		dateOnly bool
		wantErr  bool
	}{
		{"today", day(4), true, false},
		{"Heute", day(4), true, false},
		{"tomorrow", day(5), true, false},
		{"morgen", day(5), true, false},
		{"yesterday", day(3), true, false},
		{"gestern", day(3), true, false},
		{"day after tomorrow", day(6), true, false},
		{"übermorgen", day(6), true, false},
		{"friday", day(6), true, false},
		{"next Monday", day(9), true, false},
		{"am Mittwoch", day(4), true, false},
		{"Samstag", day(7), true, false},
		{"2025-06-20", day(20), true, false},
		{"2025-06-20T09:15", at(20, 9, 15), false, false},
		{"2025-06-20T09:15:00Z", at(20, 9, 15), false, false},
		{"tomorrow at 3pm", at(5, 15, 0), false, false},
		{"morgen um 15 Uhr", at(5, 15, 0), false, false},
		{"today 18:30", at(4, 18, 30), false, false},
		{"tomorrow at 12am", at(5, 0, 0), false, false},
		{"2025-06-21 at 7:45", at(21, 7, 45), false, false},
		{"tomorrow at 25:00", time.Time{}, false, true},
		{"tomorrow maybe", time.Time{}, false, true},
		{"next fortnight", time.Time{}, false, true},
		{"", time.Time{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, dateOnly, err := parseDate(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(tt.want) || dateOnly != tt.dateOnly {
				t.Errorf("parseDate(%q) = %v (dateOnly %v), want %v (dateOnly %v)", tt.in, got, dateOnly, tt.want, tt.dateOnly)
			}
		})
	}
}
