// Package llm provides the Anthropic messages API client used for
// recording-time action planning and vision-based verification.
package llm

import (
	"bytes"
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/resilience"
)

// defaultTemperature keeps planning and verification output near-deterministic.
const defaultTemperature = 0.3

// ClaudeClient talks to the Anthropic messages API with rate limiting,
// response caching, circuit breaking and usage metrics.
type ClaudeClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	maxRetries int
	httpClient *http.Client

	// Rate limiting
	rateLimiter *rate.Limiter

	// Caching
	cache        *LRUCache
	cacheTTL     time.Duration
	cacheEnabled bool

	// Circuit breaking
	breaker *resilience.Breaker

	// Metrics
	metrics *Metrics
	mu      sync.RWMutex
}

// Config for the Claude client.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Timeout       time.Duration
	RateLimitRPM  int // Requests per minute
	CacheTTL      time.Duration
	CacheSize     int
	MaxRetries    int
	EnableCaching bool

	CircuitBreakerEnabled  bool
	CircuitBreakerTimeout  time.Duration
	CircuitBreakerInterval time.Duration
	CircuitBreakerMinReqs  uint32
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:                "https://api.anthropic.com",
		Model:                  "claude-sonnet-4-20250514",
		MaxTokens:              8192,
		Timeout:                120 * time.Second,
		RateLimitRPM:           50,
		CacheTTL:               24 * time.Hour,
		CacheSize:              1000,
		MaxRetries:             3,
		EnableCaching:          true,
		CircuitBreakerEnabled:  true,
		CircuitBreakerTimeout:  30 * time.Second,
		CircuitBreakerInterval: 60 * time.Second,
		CircuitBreakerMinReqs:  5,
	}
}

// FromConfig maps application settings onto a client config.
func FromConfig(cc config.ClaudeConfig) Config {
	cfg := DefaultConfig()
	cfg.APIKey = cc.APIKey
	if cc.Model != "" {
		cfg.Model = cc.Model
	}
	if cc.MaxTokens > 0 {
		cfg.MaxTokens = cc.MaxTokens
	}
	if cc.Timeout > 0 {
		cfg.Timeout = cc.Timeout
	}
	if cc.RateLimitRPM > 0 {
		cfg.RateLimitRPM = cc.RateLimitRPM
	}
	if cc.CacheTTL > 0 {
		cfg.CacheTTL = cc.CacheTTL
	}
	if cc.CacheSize > 0 {
		cfg.CacheSize = cc.CacheSize
	}
	if cc.MaxRetries > 0 {
		cfg.MaxRetries = cc.MaxRetries
	}
	cfg.EnableCaching = cc.EnableCaching
	return cfg
}

// Metrics tracks API usage.
type Metrics struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalTokensIn   int64
	TotalTokensOut  int64
	TotalCost       float64
	TotalLatencyMs  int64
	CacheHits       int64
	CacheMisses     int64
}

// LRUCache is a bounded TTL cache for LLM responses. Entries move to the
// back on access; eviction removes the front.
type LRUCache struct {
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most capacity entries, each expiring
// after ttl.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a live entry and marks it most recently used.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToBack(el)
	return entry.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRUCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToBack(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).key)
		}
	}

	c.entries[key] = c.order.PushBack(&lruEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Size returns the number of entries currently held.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// NewClaudeClient creates a new Claude API client.
func NewClaudeClient(cfg Config) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	// Merge with defaults
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = def.RateLimitRPM
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}

	// Tokens per second = RPM / 60
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), 1)

	var breaker *resilience.Breaker
	if cfg.CircuitBreakerEnabled {
		bcfg := resilience.DefaultConfig("claude")
		if cfg.CircuitBreakerTimeout > 0 {
			bcfg.Timeout = cfg.CircuitBreakerTimeout
		}
		if cfg.CircuitBreakerInterval > 0 {
			bcfg.Interval = cfg.CircuitBreakerInterval
		}
		if cfg.CircuitBreakerMinReqs > 0 {
			minReqs := cfg.CircuitBreakerMinReqs
			bcfg.ReadyToTrip = func(counts resilience.Counts) bool {
				if counts.Requests < minReqs {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			}
		}
		breaker = resilience.NewBreaker(bcfg)
	}

	return &ClaudeClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter:  limiter,
		cache:        NewLRUCache(cfg.CacheSize, cfg.CacheTTL),
		cacheTTL:     cfg.CacheTTL,
		cacheEnabled: cfg.EnableCaching,
		breaker:      breaker,
		metrics:      &Metrics{},
	}, nil
}

// Request represents a Claude API request.
type Request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message represents a conversation message. Content is a block list so a
// single user turn can carry screenshots alongside text.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one text or image block within a message.
type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource carries base64 image data for an image block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds a base64 image content block from raw image bytes.
func ImageBlock(data []byte) ContentBlock {
	return ContentBlock{
		Type: "image",
		Source: &ImageSource{
			Type:      "base64",
			MediaType: detectMediaType(data),
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}
}

func detectMediaType(data []byte) string {
	if len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff {
		return "image/jpeg"
	}
	return "image/png"
}

// Response represents a Claude API response.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete sends a text completion request to Claude.
func (c *ClaudeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, *Usage, error) {
	return c.CompleteWithOptions(ctx, systemPrompt, userPrompt, defaultTemperature, c.cacheEnabled)
}

// CompleteWithOptions sends a text completion request with explicit
// temperature and cache control.
func (c *ClaudeClient) CompleteWithOptions(ctx context.Context, systemPrompt, userPrompt string, temperature float64, useCache bool) (string, *Usage, error) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{TextBlock(userPrompt)}},
	}

	cacheKey := ""
	if useCache {
		cacheKey = c.cacheKey(systemPrompt, userPrompt, temperature)
	}
	return c.complete(ctx, systemPrompt, messages, temperature, cacheKey)
}

// CompleteVision sends a completion request carrying one or more images
// ahead of the text prompt. Vision calls are never cached: screenshots
// differ run to run even when the prompt repeats.
func (c *ClaudeClient) CompleteVision(ctx context.Context, systemPrompt, userPrompt string, images ...[]byte) (string, *Usage, error) {
	blocks := make([]ContentBlock, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, ImageBlock(img))
	}
	blocks = append(blocks, TextBlock(userPrompt))

	messages := []Message{{Role: "user", Content: blocks}}
	return c.complete(ctx, systemPrompt, messages, defaultTemperature, "")
}

func (c *ClaudeClient) complete(ctx context.Context, systemPrompt string, messages []Message, temperature float64, cacheKey string) (string, *Usage, error) {
	atomic.AddInt64(&c.metrics.TotalRequests, 1)

	if cacheKey != "" {
		if cached, ok := c.cache.Get(cacheKey); ok {
			atomic.AddInt64(&c.metrics.CacheHits, 1)
			return string(cached), nil, nil
		}
		atomic.AddInt64(&c.metrics.CacheMisses, 1)
	}

	// Rate limiting
	if err := c.rateLimiter.Wait(ctx); err != nil {
		atomic.AddInt64(&c.metrics.FailedRequests, 1)
		return "", nil, fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()

	req := Request{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      systemPrompt,
		Messages:    messages,
		Temperature: temperature,
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		atomic.AddInt64(&c.metrics.FailedRequests, 1)
		return "", nil, err
	}

	atomic.AddInt64(&c.metrics.SuccessRequests, 1)
	atomic.AddInt64(&c.metrics.TotalTokensIn, int64(resp.Usage.InputTokens))
	atomic.AddInt64(&c.metrics.TotalTokensOut, int64(resp.Usage.OutputTokens))
	atomic.AddInt64(&c.metrics.TotalLatencyMs, time.Since(start).Milliseconds())

	c.mu.Lock()
	c.metrics.TotalCost += c.calculateCost(resp.Usage)
	c.mu.Unlock()

	if len(resp.Content) == 0 {
		return "", &resp.Usage, fmt.Errorf("empty response")
	}

	text := resp.Content[0].Text

	if cacheKey != "" {
		c.cache.Set(cacheKey, []byte(text))
	}

	return text, &resp.Usage, nil
}

// CompleteJSON sends a completion request and parses the JSON response into
// result, retrying on transport and parse failures.
func (c *ClaudeClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, result interface{}) (*Usage, error) {
	jsonSystemPrompt := systemPrompt + "\n\nIMPORTANT: Return ONLY valid JSON. No markdown, no code blocks, no explanations."

	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var totalUsage Usage

	for attempt := 0; attempt < attempts; attempt++ {
		text, usage, err := c.Complete(ctx, jsonSystemPrompt, userPrompt)
		if err != nil {
			lastErr = err
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return &totalUsage, ctx.Err()
			}
			continue
		}

		if usage != nil {
			totalUsage.InputTokens += usage.InputTokens
			totalUsage.OutputTokens += usage.OutputTokens
		}

		jsonStr := extractJSON(text)
		if jsonStr == "" {
			lastErr = fmt.Errorf("no JSON found in response")
			continue
		}

		if err := json.Unmarshal([]byte(jsonStr), result); err != nil {
			lastErr = fmt.Errorf("invalid JSON: %w", err)
			continue
		}

		return &totalUsage, nil
	}

	return &totalUsage, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// doRequest performs the HTTP request, routed through the circuit breaker
// when one is configured.
func (c *ClaudeClient) doRequest(ctx context.Context, req Request) (*Response, error) {
	if c.breaker == nil {
		return c.send(ctx, req)
	}

	result, err := c.breaker.Do(ctx, func(ctx context.Context) (any, error) {
		return c.send(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (c *ClaudeClient) send(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return &apiResp, nil
}

// calculateCost calculates the cost of a request.
func (c *ClaudeClient) calculateCost(usage Usage) float64 {
	// Claude Sonnet pricing: $3 per million input tokens, $15 per million
	// output tokens
	inputCost := float64(usage.InputTokens) / 1000000 * 3.00
	outputCost := float64(usage.OutputTokens) / 1000000 * 15.00
	return inputCost + outputCost
}

// cacheKey derives a collision-resistant key from everything that shapes
// the response.
func (c *ClaudeClient) cacheKey(systemPrompt, userPrompt string, temperature float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%.2f\x00%s\x00%s", c.model, temperature, systemPrompt, userPrompt)
	return hex.EncodeToString(h.Sum(nil))
}

// GetMetrics returns current metrics.
func (c *ClaudeClient) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Metrics{
		TotalRequests:   atomic.LoadInt64(&c.metrics.TotalRequests),
		SuccessRequests: atomic.LoadInt64(&c.metrics.SuccessRequests),
		FailedRequests:  atomic.LoadInt64(&c.metrics.FailedRequests),
		TotalTokensIn:   atomic.LoadInt64(&c.metrics.TotalTokensIn),
		TotalTokensOut:  atomic.LoadInt64(&c.metrics.TotalTokensOut),
		TotalCost:       c.metrics.TotalCost,
		TotalLatencyMs:  atomic.LoadInt64(&c.metrics.TotalLatencyMs),
		CacheHits:       atomic.LoadInt64(&c.metrics.CacheHits),
		CacheMisses:     atomic.LoadInt64(&c.metrics.CacheMisses),
	}
}

// GetModel returns the model being used.
func (c *ClaudeClient) GetModel() string {
	return c.model
}

// GetCacheSize returns the number of cached responses.
func (c *ClaudeClient) GetCacheSize() int {
	return c.cache.Size()
}

// GetCircuitBreakerState reports the breaker state, or "disabled" when no
// breaker is configured.
func (c *ClaudeClient) GetCircuitBreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// IsHealthy reports whether the client is accepting requests.
func (c *ClaudeClient) IsHealthy() bool {
	if c.breaker == nil {
		return true
	}
	return c.breaker.State() != resilience.StateOpen
}

// truncateString shortens s to maxLen, marking the cut with an ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// extractJSON extracts JSON from a string that might contain markdown or
// other text.
func extractJSON(text string) string {
	// First, try to find JSON in code blocks
	codeBlockPattern := regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	matches := codeBlockPattern.FindStringSubmatch(text)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	// Try to find JSON object or array directly
	text = strings.TrimSpace(text)

	// Find the first { or [
	startObj := strings.Index(text, "{")
	startArr := strings.Index(text, "[")

	start := -1
	isArray := false

	if startObj >= 0 && (startArr < 0 || startObj < startArr) {
		start = startObj
	} else if startArr >= 0 {
		start = startArr
		isArray = true
	}

	if start < 0 {
		return ""
	}

	// Find matching closing bracket
	text = text[start:]
	depth := 0
	inString := false
	escaped := false

	openBracket := byte('{')
	closeBracket := byte('}')
	if isArray {
		openBracket = '['
		closeBracket = ']'
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}

		if ch == '\\' && inString {
			escaped = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if ch == openBracket {
			depth++
		} else if ch == closeBracket {
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}

	return ""
}
