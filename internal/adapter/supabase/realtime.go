package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/city-pulse/internal/backend"
)

const (
	// DefaultHeartbeat is how often the Phoenix heartbeat is sent.
	DefaultHeartbeat = 25 * time.Second

	joinTimeout = 10 * time.Second
	schema      = "public"
)

// Phoenix channel events.
const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
)

// Realtime implements backend.ChangeFeed over the Supabase Realtime
// websocket. Each subscription holds its own connection.
type Realtime struct {
	wsURL     string
	key       string
	dialer    *websocket.Dialer
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewRealtime creates a change feed for the project at baseURL.
func NewRealtime(baseURL, key string, logger *slog.Logger) (*Realtime, error) {
	wsURL, err := websocketURL(baseURL, key)
	if err != nil {
		return nil, err
	}
	return &Realtime{
		wsURL:     wsURL,
		key:       key,
		dialer:    websocket.DefaultDialer,
		heartbeat: DefaultHeartbeat,
		logger:    logger,
	}, nil
}

// websocketURL maps https://ref.supabase.co to
// wss://ref.supabase.co/realtime/v1/websocket.
func websocketURL(baseURL, key string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid supabase url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid supabase url scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {key}, "vsn": {"1.0.0"}}.Encode()
	return u.String(), nil
}

// message is a Phoenix channel frame.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	Data struct {
		Type      string      `json:"type"`
		Table     string      `json:"table"`
		Record    backend.Row `json:"record"`
		OldRecord backend.Row `json:"old_record"`
	} `json:"data"`
}

// Subscribe dials the websocket, joins the table's channel and streams its
// changes until Unsubscribe or a connection failure.
func (r *Realtime) Subscribe(ctx context.Context, table string, fn func(backend.Change)) (backend.Subscription, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	ch := &channel{
		conn:   conn,
		topic:  "realtime:" + schema + ":" + table,
		table:  table,
		logger: r.logger,
		sub:    backend.NewBaseSubscription(),
	}
	if err := ch.join(ctx, r.key); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go ch.heartbeatLoop(r.heartbeat)
	go ch.readLoop(r.heartbeat, fn)
	go func() {
		select {
		case <-ch.sub.Stopping():
			ch.leave()
		case <-ch.sub.Done():
		}
	}()

	r.logger.Info("realtime channel joined", "table", table)
	return ch.sub, nil
}

// channel is one joined Phoenix channel on its own connection.
type channel struct {
	conn   *websocket.Conn
	topic  string
	table  string
	logger *slog.Logger
	sub    *backend.BaseSubscription

	writeMu sync.Mutex
	ref     atomic.Int64
}

func (c *channel) nextRef() string {
	return strconv.FormatInt(c.ref.Add(1), 10)
}

func (c *channel) send(topic, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ref := c.nextRef()
	msg := message{Topic: topic, Event: event, Payload: data, Ref: ref}
	if event == eventJoin {
		msg.JoinRef = ref
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return "", err
	}
	return ref, nil
}

// join sends phx_join and waits for the matching reply.
func (c *channel) join(ctx context.Context, key string) error {
	var p joinPayload
	p.Config.PostgresChanges = []changeFilter{{Event: "*", Schema: schema, Table: c.table}}
	p.AccessToken = key

	ref, err := c.send(c.topic, eventJoin, p)
	if err != nil {
		return fmt.Errorf("realtime join: %w", err)
	}

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("realtime join: %w", err)
		}
		if msg.Event != eventReply || msg.Ref != ref {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("realtime join: decode reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("realtime join %s: %s %s", c.table, reply.Status, string(reply.Response))
		}
		return nil
	}
}

func (c *channel) leave() {
	if _, err := c.send(c.topic, eventLeave, struct{}{}); err != nil {
		c.logger.Debug("realtime leave failed", "table", c.table, "error", err)
	}
	_ = c.conn.Close()
}

func (c *channel) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sub.Done():
			return
		case <-ticker.C:
			if _, err := c.send("phoenix", eventHeartbeat, struct{}{}); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// readLoop delivers changes until the connection fails. A missed
// heartbeat reply shows up as a read deadline error.
func (c *channel) readLoop(heartbeat time.Duration, fn func(backend.Change)) {
	err := c.read(heartbeat, fn)
	_ = c.conn.Close()
	c.sub.Finish(err)
}

func (c *channel) read(heartbeat time.Duration, fn func(backend.Change)) error {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("realtime read: %w", err)
		}
		if msg.Topic != c.topic {
			continue
		}

		switch msg.Event {
		case eventPostgresChanges:
			change, err := decodeChanges(msg.Payload, c.table)
			if err != nil {
				c.logger.Warn("undecodable realtime change", "table", c.table, "error", err)
				continue
			}
			fn(change)
		case eventError:
			return errors.New("realtime channel error")
		case eventClose:
			return errors.New("realtime channel closed")
		}
	}
}

func decodeChanges(payload json.RawMessage, table string) (backend.Change, error) {
	var p changesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return backend.Change{}, err
	}
	t, err := backend.ParseChangeType(p.Data.Type)
	if err != nil {
		return backend.Change{}, err
	}
	if p.Data.Table != "" {
		table = p.Data.Table
	}
	return backend.Change{Type: t, Table: table, Record: p.Data.Record, OldRecord: p.Data.OldRecord}, nil
}
