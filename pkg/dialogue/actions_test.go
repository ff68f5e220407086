package dialogue

import (
	"reflect"
	"testing"
)

func TestExtractActionsStripsDirective(t *testing.T) {
	clean, actions := ExtractActions("[DEMO_ACTION: highlight_pipeline]Here is your pipeline.")
	if clean != "Here is your pipeline." {
		t.Fatalf("clean text: %q", clean)
	}
	if !reflect.DeepEqual(actions, []string{"highlight_pipeline"}) {
		t.Fatalf("actions: %v", actions)
	}
}

func TestExtractActionsPreservesOrder(t *testing.T) {
	clean, actions := ExtractActions("[DEMO_ACTION: a] first [DEMO_ACTION: b] second [DEMO_ACTION: c]")
	if clean != "first second" {
		t.Fatalf("clean text: %q", clean)
	}
	if !reflect.DeepEqual(actions, []string{"a", "b", "c"}) {
		t.Fatalf("actions: %v", actions)
	}
}

func TestExtractActionsNoDirectives(t *testing.T) {
	clean, actions := ExtractActions("  plain reply  ")
	if clean != "plain reply" {
		t.Fatalf("clean text: %q", clean)
	}
	if actions != nil {
		t.Fatalf("expected nil actions, got %v", actions)
	}
}

func TestExtractActionsKeepsLineBreaks(t *testing.T) {
	clean, actions := ExtractActions("[DEMO_ACTION: open_report]First line.\nSecond line stays put.")
	if clean != "First line.\nSecond line stays put." {
		t.Fatalf("clean text: %q", clean)
	}
	if !reflect.DeepEqual(actions, []string{"open_report"}) {
		t.Fatalf("actions: %v", actions)
	}

	clean, _ = ExtractActions("Intro.\n[DEMO_ACTION: x] Body.\n\nOutro.")
	if clean != "Intro.\nBody.\n\nOutro." {
		t.Fatalf("multi-line clean text: %q", clean)
	}
}

func TestExtractActionsEmptyPayloadDropped(t *testing.T) {
	clean, actions := ExtractActions("[DEMO_ACTION: ]done")
	if clean != "done" {
		t.Fatalf("clean text: %q", clean)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no actions, got %v", actions)
	}
}
