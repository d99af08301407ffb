package domain

import (
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalUsesWireNames(t *testing.T) {
	payload, err := sonic.Marshal(Task{URI: "urn:task:1", Title: "Title"})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	if !strings.Contains(string(payload), `"uri":"urn:task:1"`) || !strings.Contains(string(payload), `"title":"Title"`) {
		t.Fatalf("unexpected task payload %s", payload)
	}
}

func TestEventUnmarshalOmitsMissingFields(t *testing.T) {
	var ev Event
	if err := sonic.Unmarshal([]byte(`{"name":"task-completed","taskUri":"a"}`), &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Name != TaskCompleted || ev.TaskURI != "a" || ev.TaskTitle != "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Valid() {
		t.Fatalf("expected completion without title to fail the shape check")
	}
}

func TestEventValid(t *testing.T) {
	tests := map[string]struct {
		ev   Event
		want bool
	}{
		"complete":      {ev: Event{Name: TaskAdded, TaskURI: "a", TaskTitle: "x"}, want: true},
		"missing_name":  {ev: Event{TaskURI: "a", TaskTitle: "x"}},
		"missing_uri":   {ev: Event{Name: TaskAdded, TaskTitle: "x"}},
		"missing_title": {ev: Event{Name: TaskAdded, TaskURI: "a"}},
		"unknown_name":  {ev: Event{Name: "task-renamed", TaskURI: "a", TaskTitle: "x"}, want: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tt.ev.Valid(); got != tt.want {
				t.Fatalf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
