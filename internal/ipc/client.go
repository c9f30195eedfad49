package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/goccy/go-json"
)

// ErrRemote wraps error responses returned by the daemon
var ErrRemote = errors.New("daemon error")

// Client is a synchronous control socket client. It is not safe for
// concurrent use.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	pushes []PushMessage
}

// Dial connects to a running daemon
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the connection
func (c *Client) Close() error { return c.conn.Close() }

// Call sends one command and decodes the response data into out, which
// may be nil. Push messages read while waiting are queued for Next.
func (c *Client) Call(ctx context.Context, cmd CommandType, data, out any) error {
	req := Request{Cmd: cmd}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		req.Data = raw
	}
	line, err := EncodeRequest(&req)
	if err != nil {
		return err
	}

	c.setDeadline(ctx)
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}

	for {
		msg, err := c.reader.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("read %s response: %w", cmd, err)
		}
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &probe) == nil && probe.Type != "" {
			var push PushMessage
			if err := json.Unmarshal(msg, &push); err == nil {
				c.pushes = append(c.pushes, push)
			}
			continue
		}

		resp, err := DecodeResponse(msg)
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("%w: %s", ErrRemote, resp.Error)
		}
		if out != nil && len(resp.Data) > 0 {
			return json.Unmarshal(resp.Data, out)
		}
		return nil
	}
}

// Next returns the next push message, blocking until one arrives or ctx ends
func (c *Client) Next(ctx context.Context) (PushMessage, error) {
	if len(c.pushes) > 0 {
		push := c.pushes[0]
		c.pushes = c.pushes[1:]
		return push, nil
	}

	c.setDeadline(ctx)
	msg, err := c.reader.ReadBytes('\n')
	if err != nil {
		return PushMessage{}, err
	}
	var push PushMessage
	if err := json.Unmarshal(msg, &push); err != nil {
		return PushMessage{}, err
	}
	if push.Type == "" {
		return PushMessage{}, errors.New("unexpected response while waiting for push")
	}
	return push, nil
}

func (c *Client) setDeadline(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	c.conn.SetDeadline(deadline)
}
