package invalidation

import (
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	ev := Event{Version: 1, Op: OpRefresh, ProviderID: "130077", TechCodes: []string{"50", "040"}, Seq: 3, TS: mustTS()}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := Event{Version: 1, Op: OpDelete, ProviderID: "1", TS: mustTS()}
	for name, mut := range map[string]func(*Event){
		"version":  func(e *Event) { e.Version = 2 },
		"op":       func(e *Event) { e.Op = "update" },
		"provider": func(e *Event) { e.ProviderID = "  " },
		"ts":       func(e *Event) { e.TS = time.Time{} },
		"tech":     func(e *Event) { e.TechCodes = []string{"fiber"} },
	} {
		t.Run(name, func(t *testing.T) {
			ev := base
			mut(&ev)
			if err := ev.Validate(); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}
