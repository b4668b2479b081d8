package thread

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSenderRole_Valid(t *testing.T) {
	for _, r := range []SenderRole{SenderPatient, SenderAssistant, SenderClinician, SenderSystem} {
		if !r.Valid() {
			t.Errorf("expected %q to be valid", r)
		}
	}
	for _, r := range []SenderRole{"", "admin", "bot"} {
		if r.Valid() {
			t.Errorf("expected %q to be invalid", r)
		}
	}
}

func TestSenderRole_LLMRole(t *testing.T) {
	tests := []struct {
		role SenderRole
		want string
	}{
		{SenderPatient, "user"},
		{SenderAssistant, "assistant"},
		{SenderClinician, "system"},
		{SenderSystem, "system"},
		// The mapping is total: even an unexpected value lands on system.
		{SenderRole("other"), "system"},
	}
	for _, tt := range tests {
		if got := tt.role.LLMRole(); got != tt.want {
			t.Errorf("LLMRole(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestNewCitation(t *testing.T) {
	id := uuid.New()
	c := NewCitation(id, 0, 30)
	if c.Type != "message_span" {
		t.Errorf("expected message_span type, got %q", c.Type)
	}
	if c.MessageID != id || c.Start != 0 || c.End != 30 {
		t.Errorf("unexpected citation: %+v", c)
	}
}

func TestMessage_LLMContent(t *testing.T) {
	m := &Message{Content: "My name is John Doe", RedactedForLLM: "My name is [REDACTED]"}
	if got := m.LLMContent(); got != "My name is [REDACTED]" {
		t.Errorf("expected redacted content, got %q", got)
	}

	m = &Message{Content: "plain text"}
	if got := m.LLMContent(); got != "plain text" {
		t.Errorf("expected raw content fallback, got %q", got)
	}
}

func TestMessage_JSONShape(t *testing.T) {
	m := Message{
		ID:             uuid.New(),
		ThreadID:       uuid.New(),
		SenderRole:     SenderAssistant,
		Content:        "hello",
		RedactedForLLM: "should not appear",
		Citations:      []Citation{},
	}

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)

	if strings.Contains(s, "should not appear") {
		t.Error("redacted rendition must not be serialized to clients")
	}
	if !strings.Contains(s, `"citations":[]`) {
		t.Errorf("expected empty citations array, got %s", s)
	}
	if !strings.Contains(s, `"is_ground_truth":false`) {
		t.Errorf("expected is_ground_truth field, got %s", s)
	}
}
