package transport

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Message is a transport-agnostic view of a NATS message: subject, optional
// reply-to subject, and raw payload. Handler and AgentNotifier decode Data
// into the domain types declared in messages.go.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
}

// Client wraps the NATS connection the coordination core uses to reach
// agents: heartbeats and status flow in, votes/task assignment/intervention
// delivery flow out. A single Client is shared by Handler and AgentNotifier.
type Client struct {
	conn *nc.Conn
}

// NewClient dials the agent-facing NATS URL with indefinite reconnect, since
// a dropped connection to the message bus must not bring the core down —
// agents keep heartbeating and the core keeps dispatching once it reconnects.
func NewClient(url string) (*Client, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				fmt.Printf("[TRANSPORT] disconnected from agent bus: %v\n", err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			fmt.Printf("[TRANSPORT] reconnected to agent bus at %s\n", conn.ConnectedUrl())
		}),
		nc.ClosedHandler(func(conn *nc.Conn) {
			fmt.Println("[TRANSPORT] agent bus connection closed")
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent transport: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Close closes the connection to the agent bus.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Publish sends raw data to subject, used under PublishJSON for every
// published swarm message (task assignment, intervention delivery); vote
// requests go through Request instead.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it to subject. Every swarm message
// type in messages.go travels this way.
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(subject, data)
}

// Subscribe registers an asynchronous handler for subject. Handler uses this
// for every inbound agent message (heartbeat, status, task report,
// intervention ack).
func (c *Client) Subscribe(subject string, handler func(*Message)) (*nc.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(&Message{
			Subject: msg.Subject,
			Reply:   msg.Reply,
			Data:    msg.Data,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Request sends data to subject and blocks for a reply, underlying
// RequestJSON's vote-request/response round trip.
func (c *Client) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	msg, err := c.conn.Request(subject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", subject, err)
	}
	return &Message{
		Subject: msg.Subject,
		Reply:   msg.Reply,
		Data:    msg.Data,
	}, nil
}

// RequestJSON marshals req, sends it to subject, and unmarshals the reply
// into resp. AgentNotifier.RequestVote uses this to implement
// consensus.Voter over the agent transport.
func (c *Client) RequestJSON(subject string, req interface{}, resp interface{}, timeout time.Duration) error {
	reqData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := c.Request(subject, reqData, timeout)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// Flush blocks until all buffered outbound data has been sent, letting tests
// observe publish completion deterministically instead of sleeping blind.
func (c *Client) Flush() error {
	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the agent transport connection is currently
// up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
