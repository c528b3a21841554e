package ports

import "context"

// Publisher delivers a raw JSON payload to a topic.
type Publisher interface {
	PublishRaw(ctx context.Context, arn string, payload []byte) error
}
