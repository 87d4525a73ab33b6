// Package translation adapts a local Ollama model to the Translator contract.
package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/domain"
)

var _ contract.Translator = (*OllamaGateway)(nil)

const DefaultTimeout = 30 * time.Second

const promptTemplate = `Translate the following text from %s to %s.
Only return the translated text, nothing else.

Text to translate: %s

Translation:`

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// OllamaGateway never fails outward: every failure resolves to the input text.
type OllamaGateway struct {
	log     *slog.Logger
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

func NewOllamaGateway(log *slog.Logger, url, model string, timeout time.Duration) *OllamaGateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OllamaGateway{
		log:     log,
		url:     url,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Translate makes a single attempt. Same source and target return text without a call.
func (g *OllamaGateway) Translate(ctx context.Context, text string, source, target domain.Language) string {
	if source == target {
		return text
	}
	translated, err := g.generate(ctx, text, source, target)
	if err != nil {
		g.log.Warn("Translation failed, keeping original text",
			"source", source, "target", target, "error", err)
		return text
	}
	return translated
}

func (g *OllamaGateway) generate(ctx context.Context, text string, source, target domain.Language) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: fmt.Sprintf(promptTemplate, source.DisplayName(), target.DisplayName(), text),
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	translated := strings.TrimSpace(out.Response)
	if translated == "" {
		return "", fmt.Errorf("empty translation")
	}
	return translated, nil
}
