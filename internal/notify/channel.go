package notify

import (
	"context"
	"net/http"
	"time"
)

const userAgent = "stockwatch/0.1.0"

// Channel sends a rendered message to one destination. Implementations must
// be safe for concurrent use and return *DeliveryError on failure.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
