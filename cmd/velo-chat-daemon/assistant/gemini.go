package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Reserved sender identity for synthetic assistant messages. These are
// injected into the local store with status read and never broadcast.
const (
	SenderID   = "gemini-ai"
	SenderName = "Velo AI"
)

// TriggerPrefix marks a message as an assistant prompt.
const TriggerPrefix = "@gemini"

const (
	defaultModel    = "gemini-3-flash-preview"
	defaultEndpoint = "https://generativelanguage.googleapis.com"

	systemInstruction = "You are Velo AI, a P2P networking assistant. Be extremely concise, technical, and helpful. Always emphasize privacy."

	// OfflineReply is returned when no API key is configured.
	OfflineReply = "Velo AI is offline. No API Key detected in Nexus environment."
	// FailureReply is the user-visible fallback when the call fails.
	FailureReply = "The AI handshake failed. Retrying sync..."
)

// Client produces an assistant reply for a prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Gemini calls the Gemini generateContent REST endpoint.
type Gemini struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

func NewGemini(apiKey string) *Gemini {
	return &Gemini{
		apiKey:     apiKey,
		model:      defaultModel,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type generateRequest struct {
	SystemInstruction *content  `json:"system_instruction,omitempty"`
	Contents          []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Complete fetches a reply for prompt. With no API key configured it
// returns the offline notice instead of an error so the chat still gets a
// message.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" {
		return OfflineReply, nil
	}

	body, err := json.Marshal(generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		Contents:          []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal assistant request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assistant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assistant returned status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode assistant response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("assistant returned no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
