package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shohag/dispatchrelay/internal/signing"
)

// Message is the body posted to the push gateway for one device token.
type Message struct {
	Token    string          `json:"token"`
	Platform string          `json:"platform"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type SendResult struct {
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Error        string
}

// OK reports whether the gateway accepted the message.
func (r *SendResult) OK() bool {
	return r.Error == "" && IsSuccess(r.StatusCode)
}

type Sender struct {
	client  *http.Client
	url     string
	secret  string
	version string
}

func NewSender(url, secret string, timeout time.Duration) *Sender {
	return &Sender{
		client:  &http.Client{Timeout: timeout},
		url:     url,
		secret:  secret,
		version: "1.0",
	}
}

func (s *Sender) Send(ctx context.Context, notificationID int64, msg Message) *SendResult {
	start := time.Now()

	payload, err := json.Marshal(msg)
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("failed to encode message: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DispatchRelay/"+s.version)
	req.Header.Set("X-Dispatch-Notification", strconv.FormatInt(notificationID, 10))
	if s.secret != "" {
		signature, timestamp := signing.Sign(s.secret, payload, time.Now())
		req.Header.Set(signing.TimestampHeader, strconv.FormatInt(timestamp, 10))
		req.Header.Set(signing.SignatureHeader, signature)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}
