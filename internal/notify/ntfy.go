package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NtfyChannel posts plain-text messages to an ntfy topic URL.
type NtfyChannel struct {
	endpoint string
	client   *http.Client
}

// NewNtfy builds a channel for the given topic URL.
func NewNtfy(topic string, timeout time.Duration) *NtfyChannel {
	return &NtfyChannel{
		endpoint: strings.TrimSpace(topic),
		client:   newHTTPClient(timeout),
	}
}

func (n *NtfyChannel) Name() string { return "ntfy" }

func (n *NtfyChannel) Send(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return permanent(n.Name(), fmt.Errorf("build ntfy request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}
	if msg.Priority != "" && msg.Priority != "default" {
		req.Header.Set("Priority", msg.Priority)
	}
	if msg.URL != "" {
		req.Header.Set("Click", msg.URL)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return transportError(n.Name(), fmt.Errorf("send ntfy notification: %w", err))
	}
	defer resp.Body.Close()
	if de := responseError(n.Name(), resp); de != nil {
		return de
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
