// Package audit streams discrepancy reports from the Anthropic Messages API.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrNoAPIKey is returned before any network I/O when no key is configured.
var ErrNoAPIKey = errors.New("anthropic api key is not configured")

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultMaxTokens = 8192
	jpegQuality      = 85
)

// ImageGroup is a labelled run of images appended after the instruction.
type ImageGroup struct {
	Label  string // e.g. "SOURCE IMAGES:"
	Images []image.Image
}

// Request is one audit call.
type Request struct {
	Instruction string
	Images      []ImageGroup
}

// Options configures a Client.
type Options struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// Client calls the Anthropic Messages API in streaming mode.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	backoff    func(attempt int) time.Duration
	log        *slog.Logger
}

func NewClient(opts Options, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	log = log.With("component", "audit")

	c := &Client{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		maxTokens:  opts.MaxTokens,
		httpClient: &http.Client{}, // streams are bounded by ctx, not a client timeout
		backoff:    Backoff,
		log:        log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "anthropic-messages",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || (!IsRetryable(err) && !isTransport(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
	Messages    []anthropicMessage `json:"messages"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// transportError marks failures to reach the API at all.
type transportError struct{ err error }

func (e *transportError) Error() string { return "claude api: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransport(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// Stream sends req and yields report text as it arrives. Iteration ends
// after the message completes, on the first error, or when the consumer
// stops; in every case the connection is closed.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if c.apiKey == "" {
			yield("", ErrNoAPIKey)
			return
		}

		body, err := c.encodeRequest(req)
		if err != nil {
			yield("", err)
			return
		}

		resp, err := c.connect(ctx, body)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		for text, err := range readEvents(resp.Body) {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield("", err)
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// connect opens the streaming response, retrying transient failures.
func (c *Client) connect(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := range MaxRetries {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.open(ctx, body)
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if (!IsRetryable(err) && !isTransport(err)) || ctx.Err() != nil {
			break
		}
		if attempt == MaxRetries-1 {
			break
		}
		c.log.Warn("retryable audit error", "attempt", attempt, "error", err)
		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) open(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transportError{err: err}
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	return nil, fmt.Errorf("claude api status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
}

func (c *Client) encodeRequest(req Request) ([]byte, error) {
	blocks := []contentBlock{{Type: "text", Text: req.Instruction}}
	for _, g := range req.Images {
		if len(g.Images) == 0 {
			continue
		}
		blocks = append(blocks, contentBlock{Type: "text", Text: "\n" + g.Label})
		for i, img := range g.Images {
			data, err := encodeJPEG(img)
			if err != nil {
				return nil, fmt.Errorf("encode %s image %d: %w", g.Label, i+1, err)
			}
			blocks = append(blocks, contentBlock{
				Type: "image",
				Source: &imageSource{
					Type:      "base64",
					MediaType: "image/jpeg",
					Data:      data,
				},
			})
		}
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0,
		Stream:      true,
		Messages:    []anthropicMessage{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

func encodeJPEG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// readEvents parses a Messages API event stream and yields text deltas.
func readEvents(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 4<<20)

		for sc.Scan() {
			line := sc.Text()
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				yield("", fmt.Errorf("decode stream event: %w", err))
				return
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
					if !yield(ev.Delta.Text, nil) {
						return
					}
				}
			case "error":
				msg := "unknown error"
				if ev.Error != nil {
					msg = ev.Error.Type + ": " + ev.Error.Message
				}
				yield("", fmt.Errorf("claude stream error: %s", msg))
				return
			case "message_stop":
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield("", fmt.Errorf("read stream: %w", err))
			return
		}
		yield("", fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF))
	}
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
