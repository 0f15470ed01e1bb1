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

// embeddingTimeout is the backend call timeout spec §5 fixes at 5s
// for embedding calls (30s is reserved for the Oracle/LLM backend).
// Individual embedders override it where the upstream API runs slower
// (Ollama's local model load, OpenAI's batching).
const embeddingTimeout = 5 * time.Second

// postEmbedJSON sends a JSON-encoded POST to an embedding backend and
// returns the raw response body. Gemini, OpenAI, and Ollama each speak
// a different request/response shape, but all three drive the same
// marshal/send/status-check/read skeleton, so it lives here once
// instead of three times. backend names the provider for error text.
func postEmbedJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, reqBody any, backend string) ([]byte, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s http: %v", ErrBackendUnavailable, backend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", backend, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s embed %d: %s", ErrBackendUnavailable, backend, resp.StatusCode, string(body[:min(len(body), 200)]))
	}
	return body, nil
}

// decodeEmbedResponse unmarshals an embedding backend's response body
// and reports ErrBackendUnavailable (rather than a bare decode error)
// so callers can treat it the same way as a transport failure.
func decodeEmbedResponse(body []byte, backend string, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s decode: %v", ErrBackendUnavailable, backend, err)
	}
	return nil
}

// float64sToVec narrows a backend's float64 embedding values to the
// float32 vectors the index stores.
func float64sToVec(values []float64) []float32 {
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v)
	}
	return vec
}
