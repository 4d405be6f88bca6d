// Package kurento drives a Kurento Media Server over its JSON-RPC 2.0
// WebSocket protocol.
package kurento

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2ws "github.com/sourcegraph/jsonrpc2/websocket"
)

const (
	defaultPingInterval = 240 * time.Second

	eventIceCandidate = "IceCandidateFound"
	eventEndOfStream  = "EndOfStream"
)

// Connector dials Kurento. The zero value is usable.
type Connector struct {
	Dialer       *websocket.Dialer
	PingInterval time.Duration
}

func (c Connector) Connect(ctx context.Context, uri string) (core.MediaClient, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, err
	}
	interval := c.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	cl := &Client{
		uri:      uri,
		handlers: make(map[handlerKey]func(eventData)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	// Handle only queues; callbacks run in arrival order on dispatchEvents,
	// off the read loop, so they may issue calls of their own.
	cl.rpc = jsonrpc2.NewConn(context.Background(), jsonrpc2ws.NewObjectStream(ws), cl)
	go cl.dispatchEvents()
	if err := cl.ping(ctx, interval); err != nil {
		_ = cl.rpc.Close()
		return nil, err
	}
	go cl.keepalive(interval)
	log.Info().Str("module", "kurento").Str("uri", uri).Msg("connected")
	return cl, nil
}

// Error is a Kurento error reply. Its text is the server message alone.
type Error struct {
	Method  string
	Code    int64
	Message string
}

func (e *Error) Error() string { return e.Message }

type handlerKey struct {
	object string
	event  string
}

// Client is one JSON-RPC session with the media server.
type Client struct {
	uri string
	rpc *jsonrpc2.Conn

	mu        sync.Mutex
	sessionID string
	handlers  map[handlerKey]func(eventData)

	evMu   sync.Mutex
	events []eventParams
	wake   chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

type rpcResult struct {
	Value     json.RawMessage `json:"value"`
	SessionID string          `json:"sessionId"`
}

// call sends one request, stamping and learning the Kurento session id.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.sessionID != "" {
		params["sessionId"] = c.sessionID
	}
	c.mu.Unlock()

	var res rpcResult
	err := c.rpc.Call(ctx, method, params, &res)
	if err != nil {
		metrics.MediaCallsTotal.WithLabelValues(method, "error").Inc()
		var rpcErr *jsonrpc2.Error
		if errors.As(err, &rpcErr) {
			return nil, &Error{Method: method, Code: rpcErr.Code, Message: rpcErr.Message}
		}
		return nil, fmt.Errorf("kurento %s: %w", method, err)
	}
	metrics.MediaCallsTotal.WithLabelValues(method, "ok").Inc()

	if res.SessionID != "" {
		c.mu.Lock()
		c.sessionID = res.SessionID
		c.mu.Unlock()
	}
	return res.Value, nil
}

func (c *Client) create(ctx context.Context, typ string, ctor map[string]any) (string, error) {
	v, err := c.call(ctx, "create", map[string]any{
		"type":              typ,
		"constructorParams": ctor,
		"properties":        map[string]any{},
	})
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(v, &id); err != nil {
		return "", fmt.Errorf("kurento create %s: %w", typ, err)
	}
	return id, nil
}

func (c *Client) invoke(ctx context.Context, object, operation string, params map[string]any, out any) error {
	req := map[string]any{"object": object, "operation": operation}
	if params != nil {
		req["operationParams"] = params
	}
	v, err := c.call(ctx, "invoke", req)
	if err != nil {
		return err
	}
	if out == nil || len(v) == 0 {
		return nil
	}
	return json.Unmarshal(v, out)
}

// subscribe registers fn before asking the server, so an event racing the
// reply is not lost.
func (c *Client) subscribe(ctx context.Context, object, event string, fn func(eventData)) error {
	key := handlerKey{object: object, event: event}
	c.mu.Lock()
	c.handlers[key] = fn
	c.mu.Unlock()

	if _, err := c.call(ctx, "subscribe", map[string]any{"object": object, "type": event}); err != nil {
		c.mu.Lock()
		delete(c.handlers, key)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) release(ctx context.Context, object string) error {
	c.mu.Lock()
	for k := range c.handlers {
		if k.object == object {
			delete(c.handlers, k)
		}
	}
	c.mu.Unlock()
	_, err := c.call(ctx, "release", map[string]any{"object": object})
	return err
}

func (c *Client) ping(ctx context.Context, interval time.Duration) error {
	_, err := c.call(ctx, "ping", map[string]any{"interval": interval.Milliseconds()})
	return err
}

func (c *Client) keepalive(interval time.Duration) {
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.rpc.DisconnectNotify():
			log.Warn().Str("module", "kurento").Str("uri", c.uri).Msg("media server connection lost")
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval/2)
			if err := c.ping(ctx, interval); err != nil {
				log.Warn().Err(err).Str("module", "kurento").Msg("ping failed")
			}
			cancel()
		}
	}
}

type eventParams struct {
	Value struct {
		Object string    `json:"object"`
		Type   string    `json:"type"`
		Data   eventData `json:"data"`
	} `json:"value"`
}

type eventData struct {
	Source    string        `json:"source"`
	Type      string        `json:"type"`
	Candidate *iceCandidate `json:"candidate,omitempty"`
}

// Handle implements jsonrpc2.Handler for server notifications. It runs on
// the read loop and must not block.
func (c *Client) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method != "onEvent" || req.Params == nil {
		log.Debug().Str("module", "kurento").Str("method", req.Method).Msg("ignored server request")
		return
	}
	var p eventParams
	if err := json.Unmarshal(*req.Params, &p); err != nil {
		log.Warn().Err(err).Str("module", "kurento").Msg("bad onEvent params")
		return
	}
	c.evMu.Lock()
	c.events = append(c.events, p)
	c.evMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) dispatchEvents() {
	for {
		select {
		case <-c.done:
			return
		case <-c.rpc.DisconnectNotify():
			return
		case <-c.wake:
		}
		c.evMu.Lock()
		batch := c.events
		c.events = nil
		c.evMu.Unlock()
		for _, p := range batch {
			c.dispatch(p)
		}
	}
}

func (c *Client) dispatch(p eventParams) {
	object := p.Value.Object
	if object == "" {
		object = p.Value.Data.Source
	}
	event := p.Value.Type
	// Older servers still emit the deprecated name.
	if event == "OnIceCandidate" {
		event = eventIceCandidate
	}

	c.mu.Lock()
	fn := c.handlers[handlerKey{object: object, event: event}]
	c.mu.Unlock()
	if fn == nil {
		return
	}
	fn(p.Value.Data)
}

func (c *Client) CreatePipeline(ctx context.Context) (core.Pipeline, error) {
	id, err := c.create(ctx, "MediaPipeline", map[string]any{})
	if err != nil {
		return nil, err
	}
	return &pipeline{element{c: c, id: id}}, nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.rpc.Close()
	})
	return err
}
