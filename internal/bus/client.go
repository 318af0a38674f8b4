package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/pipeline"
	"github.com/lectorlabs/lector-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Client wraps the NATS connection with the helpers the engine needs.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("lector-engine"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// PublishJSON marshals and publishes on a subject.
func (c *Client) PublishJSON(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

// RunEvent implements the pipeline's event sink: progress snapshots go out
// on the per-run progress subject, everything else on the diagnostics
// subject. Publish failures are logged and dropped so a flaky bus never
// stalls a run.
func (c *Client) RunEvent(ctx context.Context, runID, kind string, payload any) {
	if c == nil || c.conn == nil {
		return
	}
	subject := protocol.SubjectRunDiagnostics
	var body any = map[string]any{"run_id": runID, "kind": kind, "payload": payload}

	if p, ok := payload.(pipeline.Progress); ok {
		subject = protocol.ProgressSubject(runID)
		body = protocol.RunProgress{
			RunID:        p.RunID,
			Stage:        p.Stage,
			State:        string(p.State),
			WindowsTotal: p.WindowsTotal,
			WindowsDone:  p.WindowsDone,
			Retries:      p.Retries,
			Message:      p.Message,
			At:           p.At,
		}
	}

	if err := c.PublishJSON(subject, body); err != nil {
		c.log.Warn("bus publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

// AnnounceCompletion publishes the run summary.
func (c *Client) AnnounceCompletion(msg protocol.RunCompleted) {
	if c == nil || c.conn == nil {
		return
	}
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	if err := c.PublishJSON(protocol.SubjectRunCompleted, msg); err != nil {
		c.log.Warn("bus publish failed",
			slog.String("subject", protocol.SubjectRunCompleted),
			slog.String("error", err.Error()))
	}
}
