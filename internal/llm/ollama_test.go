package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaCompleter_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": `{"required_workers":["file"]}`},
		})
	}))
	defer srv.Close()

	c := NewOllamaCompleter(srv.URL)
	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"required_workers": {Type: "array", Items: &SchemaProperty{Type: "string"}},
		},
		Required: []string{"required_workers"},
	}
	got, err := c.Complete(context.Background(), Prompt("classify", "organize downloads"),
		Params{Model: "qwen2.5", Temperature: 0.2, MaxTokens: 128, Schema: schema})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"required_workers":["file"]}` {
		t.Errorf("got %q", got)
	}

	if body["model"] != "qwen2.5" {
		t.Errorf("model = %v", body["model"])
	}
	opts, _ := body["options"].(map[string]any)
	if opts["temperature"] != 0.2 || opts["num_predict"] != float64(128) {
		t.Errorf("options = %v", opts)
	}
	format, _ := body["format"].(map[string]any)
	props, _ := format["properties"].(map[string]any)
	workers, _ := props["required_workers"].(map[string]any)
	items, _ := workers["items"].(map[string]any)
	if items["type"] != "string" {
		t.Errorf("array items not forwarded: %v", format)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages = %v", msgs)
	}
}

func TestOllamaCompleter_IsRunningAndHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"qwen2.5:latest"}]}`))
	}))
	defer srv.Close()

	c := NewOllamaCompleter(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	if !c.HasModel(context.Background(), "qwen2.5") {
		t.Error("HasModel(qwen2.5) = false, want true")
	}
	if c.HasModel(context.Background(), "llama3.2") {
		t.Error("HasModel(llama3.2) = true, want false")
	}
}
