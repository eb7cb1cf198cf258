package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func completionJSON(text string, totalTokens int) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "deepseek/deepseek-chat",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": text},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     totalTokens - 5,
			"completion_tokens": 5,
			"total_tokens":      totalTokens,
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenRouter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenRouter(Config{
		BaseURL:    srv.URL + "/v1",
		APIKey:     "test-key",
		Model:      "deepseek/deepseek-chat",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestAnswerReturnsTextAndUsage(t *testing.T) {
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionJSON("Здравствуйте!", 37))
	})

	resp, err := c.Answer(context.Background(), Request{
		System:  "Ты ассистент.",
		History: []Message{{Role: "user", Content: "привет"}, {Role: "assistant", Content: "привет!"}},
		User:    "как дела?",
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Text != "Здравствуйте!" || resp.TotalTokens != 37 {
		t.Fatalf("resp = %+v", resp)
	}

	if len(gotBody.Messages) != 4 {
		t.Fatalf("sent %d messages, want 4 (system + 2 history + user)", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[3].Content != "как дела?" {
		t.Fatalf("messages = %+v", gotBody.Messages)
	}
}

func TestAnswerRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionJSON("ok", 10))
	})

	resp, err := c.Answer(context.Background(), Request{User: "ping"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Text != "ok" || calls.Load() != 2 {
		t.Fatalf("text=%q calls=%d, want ok/2", resp.Text, calls.Load())
	}
}

func TestAnswerDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": {"message": "bad key"}}`, http.StatusUnauthorized)
	})

	if _, err := c.Answer(context.Background(), Request{User: "ping"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 401)", calls.Load())
	}
}

func TestNewOpenRouterValidation(t *testing.T) {
	if _, err := NewOpenRouter(Config{Model: "m"}); err == nil {
		t.Fatal("missing API key must error")
	}
	if _, err := NewOpenRouter(Config{APIKey: "k"}); err == nil {
		t.Fatal("missing model must error")
	}
}
