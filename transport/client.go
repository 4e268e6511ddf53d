package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dnstrail/dnstrail/record"
)

type Config struct {
	Addr string
	// Zero timeouts wait indefinitely.
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client delivers each record over its own TCP connection.
type Client struct {
	cfg    Config
	dialer net.Dialer
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
	}
}

func (c *Client) Send(ctx context.Context, rec record.Record) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dialing collector %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	if c.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	if _, err := conn.Write(record.Encode(rec)); err != nil {
		return fmt.Errorf("writing record to %s: %w", c.cfg.Addr, err)
	}
	return nil
}
