package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"biblestudy-be/pkg/moderation"
)

// Client calls an OpenAI-compatible /moderations endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

var _ moderation.Moderator = &Client{}

func NewClient(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type moderationRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

func (c *Client) Moderate(ctx context.Context, text string) (*moderation.Result, error) {
	body, err := json.Marshal(moderationRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/moderations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moderation request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moderation error %d: %s", resp.StatusCode, string(respBody))
	}

	var modResp moderationResponse
	if err := json.Unmarshal(respBody, &modResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(modResp.Results) == 0 {
		return nil, fmt.Errorf("empty moderation results")
	}

	out := &moderation.Result{}
	for _, r := range modResp.Results {
		out.Flagged = out.Flagged || r.Flagged
		for name, hit := range r.Categories {
			if !hit {
				continue
			}
			out.Categories = append(out.Categories, name)
			if moderation.SelfHarmCategories[name] {
				out.SelfHarmFlagged = true
			}
		}
	}
	sort.Strings(out.Categories)
	// a self-harm hit always counts as flagged
	out.Flagged = out.Flagged || out.SelfHarmFlagged
	return out, nil
}
