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

	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/protocol"
	"github.com/nats-io/nats.go"
)

// HistoryStream is the JetStream stream that retains meeting events when
// JetStream is enabled. Ticks and interim text are not retained.
const HistoryStream = "MEETING_HISTORY"

const historyMaxAge = 7 * 24 * time.Hour

var historySubjects = []string{
	protocol.SubjectMeetingState,
	protocol.SubjectMeetingLine,
	protocol.SubjectMeetingSpeaker,
	protocol.SubjectMeetingError,
}

// Client is the daemon's connection to the message bus.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log = log.With(slog.String("component", "bus"))

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, connectOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	c := &Client{conn: conn, log: log}

	if cfg.JetStream {
		if err := c.ensureHistory(); err != nil {
			conn.Close()
			return nil, err
		}
	}
	log.Info("connected to NATS", slog.String("servers", url), slog.Bool("history", c.js != nil))
	return c, nil
}

func connectOptions(cfg config.BusConfig, log *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name("loqa-minutes"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("bus disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("bus reconnected", slog.String("url", nc.ConnectedUrlRedacted()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("bus error", slog.String("subject", subject), slog.String("error", err.Error()))
		}),
	}
	if cfg.Username != "" || cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		opts = append(opts, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts
}

// ensureHistory creates or updates the history stream.
func (c *Client) ensureHistory() error {
	js, err := c.conn.JetStream()
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}
	streamCfg := &nats.StreamConfig{
		Name:     HistoryStream,
		Subjects: historySubjects,
		Storage:  nats.FileStorage,
		MaxAge:   historyMaxAge,
	}
	_, err = js.StreamInfo(HistoryStream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = js.AddStream(streamCfg)
	case err == nil:
		_, err = js.UpdateStream(streamCfg)
	}
	if err != nil {
		return fmt.Errorf("ensure %s stream: %w", HistoryStream, err)
	}
	c.js = js
	return nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// PublishJSON marshals v and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// History returns the JetStream context, or nil when history is disabled.
func (c *Client) History() nats.JetStreamContext {
	return c.js
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}
