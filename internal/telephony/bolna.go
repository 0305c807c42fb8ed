package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BolnaConfig configures the Bolna voice-AI adapter.
// Bolna runs the full ASR -> LLM -> TTS pipeline server-side; we only
// hand it an agent definition and a number to dial.
type BolnaConfig struct {
	ServerURL string
	APIKey    string

	// WebhookURL is where Bolna posts call status updates.
	WebhookURL string

	AgentName    string
	SystemPrompt string
	FirstMessage string
	Language     string

	LLMProvider string
	LLMModel    string

	// Carrier is the telephony layer Bolna dials through.
	Carrier string
}

func (c BolnaConfig) withDefaults() BolnaConfig {
	out := c
	if out.AgentName == "" {
		out.AgentName = "recruiter"
	}
	if out.Language == "" {
		out.Language = "hi"
	}
	if out.LLMProvider == "" {
		out.LLMProvider = "ollama"
	}
	if out.LLMModel == "" {
		out.LLMModel = "llama3.2"
	}
	if out.Carrier == "" {
		out.Carrier = "plivo"
	}
	return out
}

// BolnaProvider places conversational AI calls through a Bolna server.
type BolnaProvider struct {
	cfg    BolnaConfig
	client *http.Client
}

func NewBolnaProvider(cfg BolnaConfig) *BolnaProvider {
	return &BolnaProvider{
		cfg:    cfg.withDefaults(),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *BolnaProvider) Name() string { return "bolna" }

func (p *BolnaProvider) Config() Info {
	return Info{
		Name:       p.Name(),
		Kind:       "voice-ai",
		Configured: p.cfg.ServerURL != "",
		Endpoint:   p.cfg.ServerURL,
	}
}

func (p *BolnaProvider) Health(ctx context.Context) error {
	if p.cfg.ServerURL == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ServerURL+"/healthz", nil)
	if err != nil {
		return err
	}
	p.auth(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: health status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

// Start creates a one-shot agent and places the call. Bolna's API is
// two requests: POST /agent returns agent_id, POST /call dials.
func (p *BolnaProvider) Start(ctx context.Context, req StartRequest) (string, error) {
	if p.cfg.ServerURL == "" {
		return "", ErrNotConfigured
	}

	agentPayload := map[string]any{
		"agent_config": map[string]any{
			"agent_name":            p.cfg.AgentName,
			"agent_type":            "other",
			"agent_welcome_message": p.firstMessage(req.RecipientName),
		},
		"tasks": []map[string]any{{
			"task_type": "conversation",
			"toolchain": map[string]any{
				"execution": "parallel",
				"pipelines": [][]string{{"transcriber", "llm", "synthesizer"}},
			},
			"tools_config": map[string]any{
				"llm_agent": map[string]any{
					"agent_flow_type": "streaming",
					"provider":        p.cfg.LLMProvider,
					"model":           p.cfg.LLMModel,
					"temperature":     0.7,
				},
				"transcriber": map[string]any{
					"provider": "deepgram",
					"model":    "nova-2",
					"stream":   true,
					"language": p.cfg.Language,
				},
				"synthesizer": map[string]any{
					"provider":     "xtts",
					"stream":       true,
					"audio_format": "wav",
				},
				"input":  map[string]any{"provider": p.cfg.Carrier, "format": "wav"},
				"output": map[string]any{"provider": p.cfg.Carrier, "format": "wav"},
			},
			"task_config": map[string]any{
				"hangup_after_silence": 10,
				"incremental_delay":    300,
			},
		}},
	}

	var agentResp struct {
		AgentID string `json:"agent_id"`
	}
	if err := p.post(ctx, "/agent", agentPayload, &agentResp); err != nil {
		return "", err
	}

	callPayload := map[string]any{
		"agent_id":               agentResp.AgentID,
		"recipient_phone_number": FormatPhone(req.Phone),
		"webhook_url":            p.cfg.WebhookURL,
		"user_data": merge(map[string]string{
			"call_ref":      req.CallID,
			"system_prompt": p.cfg.SystemPrompt,
		}, req.Metadata),
	}

	var callResp struct {
		CallID string `json:"call_id"`
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.post(ctx, "/call", callPayload, &callResp); err != nil {
		return "", err
	}

	id := callResp.CallID
	if id == "" {
		id = callResp.ID
	}
	if id == "" {
		return "", fmt.Errorf("%w: call accepted without an id", ErrCallRejected)
	}
	return id, nil
}

func (p *BolnaProvider) Hangup(ctx context.Context, providerCallID string) error {
	if p.cfg.ServerURL == "" {
		return ErrNotConfigured
	}
	return p.post(ctx, "/call/"+providerCallID+"/hangup", map[string]any{}, nil)
}

func (p *BolnaProvider) firstMessage(name string) string {
	if p.cfg.FirstMessage != "" {
		return p.cfg.FirstMessage
	}
	return fmt.Sprintf("Hello %s, this is %s.", name, p.cfg.AgentName)
}

func (p *BolnaProvider) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.ServerURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	p.auth(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail := readErrorDetail(resp.Body)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, detail)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, detail)
		default:
			return fmt.Errorf("%w: status %d: %s", ErrCallRejected, resp.StatusCode, detail)
		}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *BolnaProvider) auth(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

// readErrorDetail extracts the "detail" field providers put in error
// bodies, falling back to a truncated raw body.
func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}
	var e struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return string(raw)
}

func merge(base map[string]string, extra map[string]string) map[string]string {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
