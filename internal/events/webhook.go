package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// WebhookConfig configures delivery to an HTTP endpoint
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
	// BatchSize > 0 queues events and posts them as a JSON array
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// OAuth2 authenticates deliveries with a client credentials token
	OAuth2 *WebhookOAuth2Config `mapstructure:"oauth2"`
}

// WebhookOAuth2Config holds the client credentials grant for a receiver
// behind an authorization server
type WebhookOAuth2Config struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// WebhookPublisher POSTs events as JSON
type WebhookPublisher struct {
	cfg       *WebhookConfig
	client    *http.Client
	queue     chan *Event
	batch     []*Event
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebhookPublisher creates a webhook publisher, starting the batch loop when batching is on
func NewWebhookPublisher(cfg *WebhookConfig) (*WebhookPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	if o := cfg.OAuth2; o != nil {
		if o.TokenURL == "" || o.ClientID == "" {
			return nil, fmt.Errorf("webhook oauth2 requires token_url and client_id")
		}
		cc := &clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
		}
		// tokens are cached and refreshed by the transport
		client = cc.Client(context.Background())
		client.Timeout = timeout
	}

	wp := &WebhookPublisher{
		cfg:     cfg,
		client:  client,
		queue:   make(chan *Event, 1000),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.BatchSize > 0 {
		go wp.loop()
	} else {
		close(wp.done)
	}
	return wp, nil
}

func (wp *WebhookPublisher) loop() {
	defer close(wp.done)

	interval := wp.cfg.FlushInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case event := <-wp.queue:
			wp.batch = append(wp.batch, event)
			if len(wp.batch) >= wp.cfg.BatchSize {
				wp.flush()
			}
		case <-ticker.C:
			wp.flush()
		case <-wp.closeCh:
			// drain what is already queued
			for {
				select {
				case event := <-wp.queue:
					wp.batch = append(wp.batch, event)
				default:
					wp.flush()
					return
				}
			}
		}
	}
}

func (wp *WebhookPublisher) flush() {
	if len(wp.batch) == 0 {
		return
	}
	data, err := json.Marshal(wp.batch)
	wp.batch = wp.batch[:0]
	if err != nil {
		slog.Error("failed to marshal event batch", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wp.client.Timeout)
	defer cancel()
	if err := wp.send(ctx, data); err != nil {
		slog.Error("failed to deliver event batch", "url", wp.cfg.URL, "error", err)
	}
}

// Publish implements Publisher. With batching enabled the event is queued and
// sent directly only when the queue is full.
func (wp *WebhookPublisher) Publish(ctx context.Context, event *Event) error {
	if wp.cfg.BatchSize > 0 {
		select {
		case wp.queue <- event:
			return nil
		default:
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return wp.send(ctx, data)
}

func (wp *WebhookPublisher) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wp.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wp.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := wp.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the batch loop after flushing queued events
func (wp *WebhookPublisher) Close() error {
	wp.closeOnce.Do(func() {
		close(wp.closeCh)
	})
	<-wp.done
	return nil
}
