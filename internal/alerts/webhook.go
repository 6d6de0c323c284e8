package alerts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradewire/bridge/internal/observ"
)

// Alert is an escalation handed to the notification collaborator.
type Alert struct {
	Category  string    `json:"category"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Snapshot  any       `json:"snapshot,omitempty"`
	Attempts  int       `json:"recovery_attempts"`
	Timestamp time.Time `json:"timestamp"`
}

type Config struct {
	Enabled       bool
	WebhookURL    string
	RatePerMinute int
	Timeout       time.Duration
	MaxRetries    int
}

// Client delivers alerts over a configured webhook. Every alert is first
// written to the durable journal; delivery then happens asynchronously
// with dedupe, rate limiting and bounded retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	journal    *Journal
	limiter    *rate.Limiter
	queue      chan Alert

	mu     sync.Mutex
	dedupe map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(cfg Config, journal *Journal) *Client {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		journal:    journal,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute),
		queue:      make(chan Alert, 100),
		dedupe:     make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.worker()
	return c
}

// Send journals the alert and queues webhook delivery. Never blocks the
// caller; a full queue drops delivery but the journal entry remains.
func (c *Client) Send(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	if err := c.journal.Append("alert", a); err != nil {
		observ.LogError("alert_journal_failed", err, nil)
	}
	observ.IncCounter("alerts_raised_total", map[string]string{"category": a.Category, "severity": a.Severity})

	if !c.cfg.Enabled || c.cfg.WebhookURL == "" {
		return nil
	}

	if c.isDuplicate(a) {
		return nil
	}
	if !c.limiter.Allow() {
		observ.IncCounter("alerts_rate_limited_total", nil)
		return nil
	}

	select {
	case c.queue <- a:
	default:
		observ.IncCounter("alerts_dropped_total", nil)
	}
	return nil
}

// isDuplicate suppresses identical alerts inside a 60s window.
func (c *Client) isDuplicate(a Alert) bool {
	h := sha256.Sum256([]byte(a.Category + "|" + a.Severity + "|" + a.Message))
	key := hex.EncodeToString(h[:8])

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.dedupe[key]; ok && time.Since(last) < 60*time.Second {
		return true
	}
	c.dedupe[key] = time.Now()
	for k, t := range c.dedupe {
		if time.Since(t) > 5*time.Minute {
			delete(c.dedupe, k)
		}
	}
	return false
}

func (c *Client) worker() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			// Drain what is already queued before giving up.
			for {
				select {
				case a := <-c.queue:
					c.deliver(a)
				default:
					return
				}
			}
		case a := <-c.queue:
			c.deliver(a)
		}
	}
}

func (c *Client) deliver(a Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		observ.LogError("alert_marshal_failed", err, nil)
		return
	}

	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		err := c.post(body)
		if err == nil {
			observ.IncCounter("alerts_delivered_total", nil)
			return
		}
		observ.LogError("alert_delivery_failed", err, map[string]any{"attempt": attempt})
		if attempt < c.cfg.MaxRetries {
			select {
			case <-c.ctx.Done():
				// One last immediate try during shutdown drain.
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	observ.IncCounter("alerts_undeliverable_total", nil)
}

func (c *Client) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Close stops the worker after draining queued deliveries.
func (c *Client) Close() {
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}
}
