// Command openai-stub serves a deterministic OpenAI-compatible endpoint for
// local development and CI. It recognizes the three summarization stages by
// their system prompts and answers with progressively shorter canned text.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sys := ""
		if len(req.Messages) > 0 {
			sys = strings.TrimSpace(req.Messages[0].Content)
		}

		var content string
		switch {
		case strings.Contains(sys, "EXTREME summarization"):
			content = "Tool: install, configure, run. Flags: --output, --model, --target-tokens."
		case strings.Contains(sys, "extreme summarization"):
			content = "## Usage\n\nInstall the tool, set the model endpoint, and run. " +
				"Key flags: --output for the artifact directory, --target-tokens for the budget."
		case strings.Contains(sys, "technical documentation expert"):
			content = "## Summary\n\nThe tool crawls a documentation site, splits pages into " +
				"token-bounded chunks, and summarizes each chunk. Configure the model endpoint " +
				"with --base-url and --model; artifacts land under the output directory."
		default:
			http.Error(w, "unexpected system prompt", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	})

	log.Printf("openai-stub listening on %s (model=%s)", addr, model)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
