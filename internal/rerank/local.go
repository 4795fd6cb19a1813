package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// LocalConfig configures the on-host cross-encoder provider.
type LocalConfig struct {
	BaseURL string
	Model   string
	// BatchSize caps how many (query, text) pairs go to the server per
	// request.
	BatchSize int
	Timeout   time.Duration
}

// LocalClient scores candidates through an on-host inference server. The
// server loads the model when the first batch arrives; nothing is pulled
// until a search actually needs reranking.
type LocalClient struct {
	baseURL    string
	model      string
	batchSize  int
	httpClient *http.Client

	// mu guards the first-use handshake so concurrent callers do not
	// race the server's model initialization.
	mu    sync.Mutex
	ready bool
}

type localRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type localRerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Error string `json:"error,omitempty"`
}

// NewLocalClient creates the on-host reranker client.
func NewLocalClient(cfg LocalConfig) *LocalClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8087"
	}
	if cfg.Model == "" {
		cfg.Model = "bge-reranker-base"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &LocalClient{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}
}

// Score sends (query, text) pairs to the server in batches and returns the
// scores in input order.
func (c *LocalClient) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	scores := make([]float64, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := c.scoreBatch(ctx, query, texts[start:end], scores[start:end]); err != nil {
			return nil, err
		}
	}
	return scores, nil
}

// ensureReady performs the one-time server handshake. Failures are not
// sticky: a server that comes up later succeeds on the next call.
func (c *LocalClient) ensureReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("local reranker unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("local reranker unhealthy (status %d): %s", resp.StatusCode, string(data))
	}
	c.ready = true
	return nil
}

func (c *LocalClient) scoreBatch(ctx context.Context, query string, texts []string, out []float64) error {
	body, err := json.Marshal(localRerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: texts,
	})
	if err != nil {
		return fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("local reranker status %d: %s", resp.StatusCode, string(data))
	}

	var parsed localRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode rerank response: %w", err)
	}
	if parsed.Error != "" {
		return fmt.Errorf("local reranker error: %s", parsed.Error)
	}
	if len(parsed.Results) != len(texts) {
		return fmt.Errorf("local reranker returned %d scores for %d documents", len(parsed.Results), len(texts))
	}
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(out) {
			return fmt.Errorf("local reranker returned out-of-range document index %d", r.Index)
		}
		out[r.Index] = r.Score
	}
	return nil
}

// Name returns the billing provider name.
func (c *LocalClient) Name() string {
	return ProviderLocal
}

// Model returns the model being used.
func (c *LocalClient) Model() string {
	return c.model
}
