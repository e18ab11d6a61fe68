package recurrence

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		kind string
	}{
		{name: "interval", raw: `{"type":"interval","hours":2,"minutes":30}`, kind: "interval"},
		{name: "daily", raw: `{"type":"daily","times":["09:00","16:00"]}`, kind: "daily"},
		{name: "weekly", raw: `{"type":"weekly","days":["monday","Friday"],"times":["12:00"]}`, kind: "weekly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode(%s): %v", tt.raw, err)
			}
			if r.Kind() != tt.kind {
				t.Fatalf("Kind = %s, want %s", r.Kind(), tt.kind)
			}
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown type", raw: `{"type":"monthly","times":["09:00"]}`},
		{name: "empty type", raw: `{}`},
		{name: "zero interval", raw: `{"type":"interval"}`},
		{name: "daily without times", raw: `{"type":"daily","times":[]}`},
		{name: "daily bad time", raw: `{"type":"daily","times":["25:00"]}`},
		{name: "weekly bad day", raw: `{"type":"weekly","days":["moonday"],"times":["09:00"]}`},
		{name: "weekly without days", raw: `{"type":"weekly","times":["09:00"]}`},
		{name: "not json", raw: `interval`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); err == nil {
				t.Fatalf("Decode(%s): expected error", tt.raw)
			}
		})
	}
}

func TestEncodeDecodeWeekly(t *testing.T) {
	t.Parallel()
	in := Weekly{
		Days:  []time.Weekday{time.Monday, time.Wednesday},
		Times: []TimeOfDay{{Hour: 12}, {Hour: 18, Minute: 30}},
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"monday"`) {
		t.Fatalf("encoded form missing lowercase day name: %s", data)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	w, ok := out.(Weekly)
	if !ok {
		t.Fatalf("decoded kind = %s, want weekly", out.Kind())
	}
	if len(w.Days) != 2 || len(w.Times) != 2 {
		t.Fatalf("round trip lost fields: %#v", w)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	t.Parallel()
	if _, err := Encode(Interval{}); err == nil {
		t.Fatal("expected error encoding zero interval")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tod, err := ParseTimeOfDay("23:15")
	if err != nil {
		t.Fatalf("ParseTimeOfDay: %v", err)
	}
	if tod.Hour != 23 || tod.Minute != 15 {
		t.Fatalf("unexpected result: %v", tod)
	}
	if tod.String() != "23:15" {
		t.Fatalf("String = %q", tod.String())
	}

	for _, bad := range []string{"24:00", "12:60", "9", "ab:cd", ""} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("ParseTimeOfDay(%q): expected error", bad)
		}
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()
	d, err := ParseWeekday(" Wednesday ")
	if err != nil {
		t.Fatalf("ParseWeekday: %v", err)
	}
	if d != time.Wednesday {
		t.Fatalf("got %v", d)
	}
	if _, err := ParseWeekday("wed"); err == nil {
		t.Fatal("short names are not accepted")
	}
}
