package bridge

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a deterministic in-process client for tests and local dry
// runs: sends are recorded, events are fed by the test.
type MockClient struct {
	mu       sync.Mutex
	nextRef  int
	Sent     []SentMessage
	Edited   []string
	PingErr  error
	SendErr  error
	operator string
}

type SentMessage struct {
	Ref      string
	Text     string
	Controls []Row
}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) SetOperator(operator string) { c.operator = operator }

func (c *MockClient) SendMessage(_ context.Context, text string, controls []Row) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.nextRef++
	ref := fmt.Sprintf("msg-%d", c.nextRef)
	c.Sent = append(c.Sent, SentMessage{Ref: ref, Text: text, Controls: controls})
	return ref, nil
}

func (c *MockClient) EditControls(_ context.Context, messageRef string, _ []Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Edited = append(c.Edited, messageRef)
	return nil
}

func (c *MockClient) Ping(context.Context) error { return c.PingErr }

func (c *MockClient) ValidateSender(sender string) bool {
	return c.operator == "" || sender == c.operator
}

func (c *MockClient) Receive(ctx context.Context, _ chan<- Event) error {
	<-ctx.Done()
	return ctx.Err()
}

// LastSent returns the most recent send, nil when nothing was sent.
func (c *MockClient) LastSent() *SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sent) == 0 {
		return nil
	}
	msg := c.Sent[len(c.Sent)-1]
	return &msg
}
