package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voxlist/voxlist-core/internal/config"
)

type httpClassifier struct {
	endpoint string
	client   *http.Client
}

type httpRequest struct {
	Text string `json:"text"`
}

// NewHTTPClassifier talks to a remote intent service over JSON/HTTP.
func NewHTTPClassifier(cfg config.NLUConfig) Classifier {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &httpClassifier{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *httpClassifier) Classify(ctx context.Context, text string) (Intent, error) {
	payload, err := json.Marshal(httpRequest{Text: text})
	if err != nil {
		return Intent{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Intent{}, fmt.Errorf("build nlu request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Intent{}, fmt.Errorf("nlu request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Intent{}, fmt.Errorf("nlu service returned status %d", resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return Intent{}, fmt.Errorf("decode nlu response: %w", err)
	}
	return intent, nil
}
