package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// oracleTimeout is the backend call timeout spec §5 fixes at 30s for
// LLM/Oracle calls.
const oracleTimeout = 30 * time.Second

// OracleClient is a thin HTTP client for the external text-generation
// service (glossary: "Oracle"). The core never calls it — text
// generation is delegated per spec §1's non-goals — but callers that
// embed the substrate (the scheduler job functions they register) use
// it to turn a rendered prompt into thought content before calling
// Save. Grounded on the teacher's embed.go HTTP-provider shape,
// generalized from embeddings to free text completion.
type OracleClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOracleClient creates a client for SUBSTRATE_ORACLE_URL, authorized
// with SUBSTRATE_ORACLE_KEY. baseURL may be empty, in which case
// Complete always returns ErrBackendUnavailable.
func NewOracleClient(baseURL, apiKey string) *OracleClient {
	return &OracleClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: oracleTimeout},
	}
}

type oracleCompleteRequest struct {
	Prompt string `json:"prompt"`
}

type oracleCompleteResponse struct {
	Text string `json:"text"`
}

// Complete sends prompt to the configured Oracle and returns its
// generated text.
func (o *OracleClient) Complete(ctx context.Context, prompt string) (string, error) {
	if o.baseURL == "" {
		return "", fmt.Errorf("%w: no oracle url configured", ErrBackendUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, oracleTimeout)
	defer cancel()

	body, err := json.Marshal(oracleCompleteRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/complete", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: oracle http: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: oracle %d: %s", ErrBackendUnavailable, resp.StatusCode, string(b[:min(len(b), 200)]))
	}

	var out oracleCompleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return out.Text, nil
}
