package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Synthesizer converts text to raw PCM at the requested sample rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, sampleRate int) ([]byte, error)
}

// TTSClient posts to an HTTP synthesis endpoint and accepts either bare PCM
// or a WAV body in response.
type TTSClient struct {
	url    string
	client *http.Client
}

func NewTTSClient(url string, timeout time.Duration) *TTSClient {
	return &TTSClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (tc *TTSClient) Synthesize(ctx context.Context, text string, sampleRate int) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	reqBody, err := json.Marshal(map[string]any{
		"text":       text,
		"samplerate": sampleRate,
		"format":     "pcm_s16_le",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts API error (status %d): %s", resp.StatusCode, string(body))
	}

	return ExtractPCM(body)
}
