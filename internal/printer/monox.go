package printer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MonoXClient speaks the Anycubic Mono X plain-text protocol. Requests and
// replies are comma-separated ASCII on a single TCP connection; one request
// is in flight at a time, serialized by the mutex. A failed exchange drops
// the connection so the next call reconnects.
type MonoXClient struct {
	address        string
	connectTimeout time.Duration
	requestTimeout time.Duration
	logger         *zap.Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
}

func NewMonoXClient(host string, port int, connectTimeout, requestTimeout time.Duration, logger *zap.Logger) *MonoXClient {
	return &MonoXClient{
		address:        fmt.Sprintf("%s:%d", host, port),
		connectTimeout: connectTimeout,
		requestTimeout: requestTimeout,
		logger:         logger.Named("printer"),
	}
}

func (c *MonoXClient) Status(ctx context.Context) (Status, error) {
	raw, err := c.roundTrip(ctx, "getstatus")
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(raw)
}

func (c *MonoXClient) Pause(ctx context.Context) error {
	return c.command(ctx, "gopause")
}

func (c *MonoXClient) Resume(ctx context.Context) error {
	return c.command(ctx, "goresume")
}

func (c *MonoXClient) Stop(ctx context.Context) error {
	return c.command(ctx, "gostop,end")
}

func (c *MonoXClient) ListFiles(ctx context.Context) ([]File, error) {
	raw, err := c.roundTrip(ctx, "getfile")
	if err != nil {
		return nil, err
	}
	return parseFileList(raw)
}

func (c *MonoXClient) StartPrint(ctx context.Context, internalName string) error {
	if internalName == "" {
		return protocolError("goprint", "empty file name")
	}
	return c.command(ctx, fmt.Sprintf("goprint,%s,end", internalName))
}

func (c *MonoXClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected = false
	return err
}

// command sends a control verb and checks the reply for a firmware error
// marker. The firmware does not acknowledge uniformly, so anything that is
// not an explicit ERROR counts as accepted.
func (c *MonoXClient) command(ctx context.Context, verb string) error {
	op := verb
	if i := strings.IndexByte(verb, ','); i > 0 {
		op = verb[:i]
	}

	raw, err := c.roundTrip(ctx, verb)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToUpper(raw), "ERROR") {
		return protocolError(op, fmt.Sprintf("printer rejected command: %s", strings.TrimSpace(raw)))
	}
	return nil
}

func (c *MonoXClient) roundTrip(ctx context.Context, verb string) (string, error) {
	op := verb
	if i := strings.IndexByte(verb, ','); i > 0 {
		op = verb[:i]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(op); err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.requestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	c.conn.SetWriteDeadline(deadline)
	if _, err := c.conn.Write([]byte(verb)); err != nil {
		c.drop()
		return "", classify(op, err)
	}

	c.conn.SetReadDeadline(deadline)

	var reply strings.Builder
	buf := make([]byte, 4096)

	n, err := c.conn.Read(buf)
	if err != nil {
		c.drop()
		return "", classify(op, err)
	}
	reply.Write(buf[:n])

	// File lists span several packets, and short replies never carry the
	// "end" terminator. Drain whatever arrives within a grace window.
	for !strings.HasSuffix(strings.TrimRight(reply.String(), "\r\n "), "end") {
		c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := c.conn.Read(buf)
		if n > 0 {
			reply.Write(buf[:n])
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			c.drop()
			break
		}
	}

	raw := reply.String()
	c.logger.Debug("printer exchange",
		zap.String("request", verb),
		zap.String("reply", strings.TrimSpace(raw)))
	return raw, nil
}

func (c *MonoXClient) ensureConnected(op string) error {
	if c.connected {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.address, c.connectTimeout)
	if err != nil {
		return classify(op, err)
	}

	c.conn = conn
	c.connected = true
	c.logger.Debug("connected to printer", zap.String("address", c.address))
	return nil
}

// drop discards the connection after an IO failure. The next round trip
// reconnects.
func (c *MonoXClient) drop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.connected = false
}

