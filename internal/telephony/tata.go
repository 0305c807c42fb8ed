package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TataConfig configures the Tata click-to-call PBX adapter.
// A click-to-call bridges two legs: the agent is dialed first, then the
// recipient, with the virtual number as caller id.
type TataConfig struct {
	APIURL        string
	APIKey        string
	VirtualNumber string

	// AgentNumber is the first leg of the bridge.
	AgentNumber string

	// WebhookURL receives call events from the PBX.
	WebhookURL string
}

// TataProvider places bridged calls through the Tata CPaaS API.
type TataProvider struct {
	cfg    TataConfig
	client *http.Client
}

func NewTataProvider(cfg TataConfig) *TataProvider {
	return &TataProvider{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *TataProvider) Name() string { return "tata" }

func (p *TataProvider) configured() bool {
	return p.cfg.APIKey != "" && p.cfg.VirtualNumber != ""
}

func (p *TataProvider) Config() Info {
	return Info{
		Name:       p.Name(),
		Kind:       "pbx",
		Configured: p.configured(),
		Endpoint:   p.cfg.APIURL,
	}
}

func (p *TataProvider) Health(ctx context.Context) error {
	if !p.configured() {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIURL+"/status", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

func (p *TataProvider) Start(ctx context.Context, req StartRequest) (string, error) {
	if !p.configured() {
		return "", ErrNotConfigured
	}
	if p.cfg.AgentNumber == "" {
		return "", fmt.Errorf("%w: agent number missing", ErrNotConfigured)
	}

	payload := map[string]any{
		"from":         p.cfg.VirtualNumber,
		"first_party":  FormatPhone(p.cfg.AgentNumber),
		"second_party": FormatPhone(req.Phone),
		"caller_id":    p.cfg.VirtualNumber,
		"webhook_url":  p.cfg.WebhookURL,
		"custom_data":  merge(map[string]string{"call_ref": req.CallID}, req.Metadata),
	}

	var out struct {
		CallID string `json:"call_id"`
		ID     string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/click-to-call", payload, &out); err != nil {
		return "", err
	}
	id := out.CallID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return "", fmt.Errorf("%w: call accepted without an id", ErrCallRejected)
	}
	return id, nil
}

func (p *TataProvider) Hangup(ctx context.Context, providerCallID string) error {
	if !p.configured() {
		return ErrNotConfigured
	}
	return p.do(ctx, http.MethodPost, "/calls/"+providerCallID+"/hangup", map[string]any{}, nil)
}

func (p *TataProvider) do(ctx context.Context, method, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.APIURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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
