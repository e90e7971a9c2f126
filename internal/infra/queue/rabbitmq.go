package queue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tg-channel-digest/internal/domain"
	"tg-channel-digest/internal/infra/metrics"
)

const defaultPollInterval = time.Second

// RabbitPostQueue реализует очередь входящих постов через HTTP API RabbitMQ.
type RabbitPostQueue struct {
	client       *http.Client
	baseURL      *url.URL
	vhost        string
	queue        string
	username     string
	password     string
	pollInterval time.Duration
}

// NewRabbitPostQueue создаёт очередь с использованием AMQP URL и Management API URL.
func NewRabbitPostQueue(amqpURL, managementURL, queue string) (*RabbitPostQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	parsed, err := url.Parse(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("parse amqp url: %w", err)
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	username := parsed.User.Username()
	password, _ := parsed.User.Password()
	vhost := strings.TrimPrefix(parsed.Path, "/")
	if vhost == "" {
		vhost = "/"
	}
	base := strings.TrimSpace(managementURL)
	if base == "" {
		scheme := "http"
		if parsed.Scheme == "amqps" {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s:15672", scheme, parsed.Hostname())
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse management url: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/")
	return &RabbitPostQueue{
		client:       &http.Client{Timeout: 10 * time.Second},
		baseURL:      baseURL,
		vhost:        vhost,
		queue:        queue,
		username:     username,
		password:     password,
		pollInterval: defaultPollInterval,
	}, nil
}

// Enqueue публикует пост в очередь.
func (q *RabbitPostQueue) Enqueue(ctx context.Context, post domain.InboundPost) error {
	payload, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}
	reqBody := map[string]any{
		"properties":       map[string]any{},
		"routing_key":      q.queue,
		"payload":          base64.StdEncoding.EncodeToString(payload),
		"payload_encoding": "base64",
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	endpoint := q.baseURL.ResolveReference(&url.URL{Path: fmt.Sprintf("/api/exchanges/%s/amq.default/publish", url.PathEscape(q.vhost))})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	q.applyAuth(req)
	start := time.Now()
	resp, err := q.client.Do(req)
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("publish failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

// Pop блокирующе читает пост из очереди.
func (q *RabbitPostQueue) Pop(ctx context.Context) (domain.InboundPost, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.InboundPost{}, err
		}
		messages, err := q.fetchMessages(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.InboundPost{}, ctx.Err()
				}
				continue
			}
			return domain.InboundPost{}, err
		}
		if len(messages) == 0 {
			select {
			case <-ctx.Done():
				return domain.InboundPost{}, ctx.Err()
			case <-time.After(q.pollInterval):
			}
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(messages[0].Payload)
		if err != nil {
			return domain.InboundPost{}, fmt.Errorf("decode payload: %w", err)
		}
		var post domain.InboundPost
		if err := json.Unmarshal(payload, &post); err != nil {
			return domain.InboundPost{}, fmt.Errorf("decode post: %w", err)
		}
		return post, nil
	}
}

func (q *RabbitPostQueue) fetchMessages(ctx context.Context) ([]rabbitMessage, error) {
	reqBody := map[string]any{
		"count":    1,
		"ackmode":  "ack_requeue_false",
		"encoding": "base64",
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := q.baseURL.ResolveReference(&url.URL{Path: fmt.Sprintf("/api/queues/%s/%s/get", url.PathEscape(q.vhost), url.PathEscape(q.queue))})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	q.applyAuth(req)
	start := time.Now()
	resp, err := q.client.Do(req)
	metrics.ObserveNetworkRequest("rabbitmq", "get", q.queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch messages failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var messages []rabbitMessage
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return messages, nil
}

func (q *RabbitPostQueue) applyAuth(req *http.Request) {
	if q.username != "" {
		req.SetBasicAuth(q.username, q.password)
	}
}

type rabbitMessage struct {
	Payload string `json:"payload"`
}
