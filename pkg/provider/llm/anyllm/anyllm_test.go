package anyllm

import (
	"strings"
	"testing"

	"github.com/voxkiosk/voxkiosk/pkg/provider/llm"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// TestNew_Validation checks constructor argument validation.
func TestNew_Validation(t *testing.T) {
	if _, err := New("", "qwen2.5:7b"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("not-a-backend", "qwen2.5:7b"); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

// TestName includes both backend and model for log attribution.
func TestName(t *testing.T) {
	p, err := NewOllama("qwen2.5:7b")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	if got := p.Name(); got != "anyllm/ollama/qwen2.5:7b" {
		t.Errorf("Name(): got %q", got)
	}
}

// TestConvertMessage checks role and content mapping.
func TestConvertMessage(t *testing.T) {
	m := types.Message{Role: "user", Content: "빅맥 하나 주세요"}
	got := convertMessage(m)
	if got.Role != "user" {
		t.Errorf("expected role user, got %q", got.Role)
	}
	if got.ContentString() != "빅맥 하나 주세요" {
		t.Errorf("unexpected content %q", got.ContentString())
	}
}

// TestBuildParams_JSONResponse checks that the JSON instruction is folded into
// the system prompt.
func TestBuildParams_JSONResponse(t *testing.T) {
	p, err := NewOllama("qwen2.5:7b")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You classify kiosk orders.",
		Messages: []types.Message{
			{Role: "user", Content: "콜라 하나요"},
		},
		JSONResponse: true,
	})

	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	system := params.Messages[0].ContentString()
	if !strings.Contains(system, "You classify kiosk orders.") {
		t.Errorf("system prompt missing caller text: %q", system)
	}
	if !strings.Contains(system, "JSON object") {
		t.Errorf("system prompt missing JSON instruction: %q", system)
	}
}

// TestBuildParams_Limits checks temperature and token cap propagation.
func TestBuildParams_Limits(t *testing.T) {
	p, err := NewOllama("qwen2.5:7b")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.3,
		MaxTokens:   128,
	})
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("unexpected temperature: %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Errorf("unexpected max tokens: %v", params.MaxTokens)
	}
}
