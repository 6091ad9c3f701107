package infra

import "testing"

func TestParseGrouped_SplitsOnLastColon(t *testing.T) {
	got := parseGrouped(map[string]string{
		"submit:allowed":           "5",
		"submit:denied":            "2",
		"/api/submit-form:allowed": "7",
		"general:bogus":            "9",
		"session:denied":           "x",
		"nocolon":                  "1",
	})
	if got["submit"] != (Counters{Allowed: 5, Denied: 2}) {
		t.Fatalf("unexpected submit counters: %+v", got["submit"])
	}
	if got["/api/submit-form"].Allowed != 7 {
		t.Fatalf("expected route counters, got %+v", got)
	}
	if len(got) != 2 {
		t.Fatalf("expected only valid groups, got %v", got)
	}
}

func TestParseCounters_MissingFieldsAreZero(t *testing.T) {
	if c := parseCounters(map[string]string{"allowed": "3"}); c != (Counters{Allowed: 3}) {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestRedisStatsStore_KeyLayout(t *testing.T) {
	s := NewRedisStatsStore(nil, WithStatsPrefix(":gw:stats:"))
	if got := s.key("tier"); got != "gw:stats:tier" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := s.key("minute", "202601011200"); got != "gw:stats:minute:202601011200" {
		t.Fatalf("unexpected key %q", got)
	}
}
