package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siftlabs/kbharvest/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// openaiStub serves an OpenAI-shaped chat completion whose message content is
// the given reply. calls counts requests received.
func openaiStub(t *testing.T, reply string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func stubClassifier(srv *httptest.Server, delay time.Duration) *Classifier {
	client := NewLLMClient(LLMConfig{
		Provider:  ProviderOpenAI,
		Endpoint:  srv.URL,
		Model:     "test-model",
		MaxTokens: 256,
		ForceJSON: true,
	}, testLogger)
	return NewClassifier(client, delay, testLogger)
}

func TestClassifyURL(t *testing.T) {
	srv := openaiStub(t, `{"linkType": "post", "matchesWhatTheUserWants": true}`, nil)
	c := stubClassifier(srv, 0)

	got, err := c.ClassifyURL(context.Background(), "https://example.com/a-post", "posts about compilers")
	if err != nil {
		t.Fatalf("ClassifyURL: %v", err)
	}
	if got.Type != types.LinkTypePost {
		t.Errorf("type = %v, want post", got.Type)
	}
	if !got.Relevant {
		t.Error("relevant = false, want true")
	}
	if got.URL != "https://example.com/a-post" {
		t.Errorf("url = %q", got.URL)
	}
}

func TestClassifyURLChattyReply(t *testing.T) {
	reply := "Sure, here is the classification you asked for:\n```json\n{\"linkType\": \"directory\", \"matchesWhatTheUserWants\": false}\n```\nLet me know if you need anything else."
	srv := openaiStub(t, reply, nil)
	c := stubClassifier(srv, 0)

	got, err := c.ClassifyURL(context.Background(), "https://example.com/blog", "anything")
	if err != nil {
		t.Fatalf("ClassifyURL: %v", err)
	}
	if got.Type != types.LinkTypeDirectory || got.Relevant {
		t.Errorf("got %+v, want directory/false", got)
	}
}

func TestClassifyURLUnknownTypeString(t *testing.T) {
	srv := openaiStub(t, `{"linkType": "listicle", "matchesWhatTheUserWants": true}`, nil)
	c := stubClassifier(srv, 0)

	got, err := c.ClassifyURL(context.Background(), "https://example.com/x", "anything")
	if err != nil {
		t.Fatalf("ClassifyURL: %v", err)
	}
	if got.Type != types.LinkTypeUnknown {
		t.Errorf("unrecognized type string should map to unknown, got %v", got.Type)
	}
}

func TestClassifyURLNoJSONInReply(t *testing.T) {
	srv := openaiStub(t, "I cannot classify that URL.", nil)
	c := stubClassifier(srv, 0)

	_, err := c.ClassifyURL(context.Background(), "https://example.com/x", "anything")
	if err == nil {
		t.Fatal("expected error for JSON-free reply")
	}
	if !errors.Is(err, types.ErrOracleReply) {
		t.Errorf("error should wrap ErrOracleReply, got %v", err)
	}
	var ce *types.ClassifyError
	if !errors.As(err, &ce) {
		t.Errorf("error should be a *ClassifyError, got %T", err)
	}
}

func TestClassifyBatchPositional(t *testing.T) {
	// The stub echoes scrambled link fields; order is the contract.
	reply := `{"classifications": [
		{"link": "ignored-1", "linkType": "directory", "matchesWhatTheUserWants": false},
		{"link": "ignored-2", "linkType": "post", "matchesWhatTheUserWants": true},
		{"link": "ignored-3", "linkType": "weird", "matchesWhatTheUserWants": false}
	]}`
	srv := openaiStub(t, reply, nil)
	c := stubClassifier(srv, 0)

	urls := []string{
		"https://example.com/archive",
		"https://example.com/post-1",
		"https://example.com/mystery",
	}
	got, err := c.ClassifyBatch(context.Background(), urls, "anything")
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d classifications, want 3", len(got))
	}

	wantTypes := []types.LinkType{types.LinkTypeDirectory, types.LinkTypePost, types.LinkTypeUnknown}
	for i := range got {
		if got[i].URL != urls[i] {
			t.Errorf("result %d url = %q, want %q", i, got[i].URL, urls[i])
		}
		if got[i].Type != wantTypes[i] {
			t.Errorf("result %d type = %v, want %v", i, got[i].Type, wantTypes[i])
		}
	}
	if got[0].Relevant || !got[1].Relevant {
		t.Errorf("relevance flags wrong: %+v", got)
	}
}

func TestClassifyBatchCountMismatch(t *testing.T) {
	reply := `{"classifications": [{"link": "a", "linkType": "post", "matchesWhatTheUserWants": true}]}`
	srv := openaiStub(t, reply, nil)
	c := stubClassifier(srv, 0)

	_, err := c.ClassifyBatch(context.Background(), []string{"https://a.example", "https://b.example"}, "x")
	if err == nil {
		t.Fatal("expected error for count mismatch")
	}
	if !errors.Is(err, types.ErrOracleReply) {
		t.Errorf("error should wrap ErrOracleReply, got %v", err)
	}
}

func TestClassifyBatchTransportFailure(t *testing.T) {
	srv := openaiStub(t, "unused", nil)
	srv.Close() // force connection refused

	c := stubClassifier(srv, 0)
	_, err := c.ClassifyBatch(context.Background(), []string{"https://a.example"}, "x")
	if err == nil {
		t.Fatal("expected transport error")
	}
	var ce *types.ClassifyError
	if !errors.As(err, &ce) {
		t.Fatalf("error should be a *ClassifyError, got %T", err)
	}
	if ce.BatchSize != 1 {
		t.Errorf("batch size = %d, want 1", ce.BatchSize)
	}
}

func TestClassifyBatchEmptyInput(t *testing.T) {
	var calls atomic.Int64
	srv := openaiStub(t, "unused", &calls)
	c := stubClassifier(srv, 0)

	got, err := c.ClassifyBatch(context.Background(), nil, "x")
	if err != nil || got != nil {
		t.Fatalf("empty batch should be a no-op, got %v, %v", got, err)
	}
	if calls.Load() != 0 {
		t.Errorf("empty batch issued %d oracle calls", calls.Load())
	}
}

func TestClassifierEnforcesDelay(t *testing.T) {
	srv := openaiStub(t, `{"linkType": "post", "matchesWhatTheUserWants": false}`, nil)
	c := stubClassifier(srv, 100*time.Millisecond)

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := c.ClassifyURL(context.Background(), fmt.Sprintf("https://example.com/%d", i), "x"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("two calls finished in %v, delay not enforced", elapsed)
	}
}

func TestOpenAIRequestShape(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": [{"message": {"content": "{\"linkType\": \"unknown\", \"matchesWhatTheUserWants\": false}"}}]}`)
	}))
	t.Cleanup(srv.Close)

	c := stubClassifier(srv, 0)
	if _, err := c.ClassifyURL(context.Background(), "https://example.com", "x"); err != nil {
		t.Fatalf("ClassifyURL: %v", err)
	}

	msgs, ok := captured["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %v", captured["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
	if _, ok := captured["response_format"]; !ok {
		t.Error("response_format missing with ForceJSON set")
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"prefix {\"a\": {\"b\": 2}} suffix", `{"a": {"b": 2}}`},
		{"no json here", "{}"},
		{"{unterminated", "{}"},
	}
	for _, c := range cases {
		if got := extractJSON(c.in); got != c.want {
			t.Errorf("extractJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
