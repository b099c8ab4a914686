package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/volley/api"
	"github.com/xraph/volley/stream"
)

// Event is one stream event. Data stays raw so callers decode only the
// payloads they care about.
type Event struct {
	Type      stream.EventType `json:"type"`
	Timestamp time.Time        `json:"ts"`
	Topic     string           `json:"topic,omitempty"`
	Data      json.RawMessage  `json:"data"`
}

// Decode unmarshals the event payload into v, typically one of the
// stream.*EventData types.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Subscription is a live websocket connection to GET /v1/stream.
type Subscription struct {
	conn   net.Conn
	logger *slog.Logger

	wmu    sync.Mutex
	events chan Event
	done   chan struct{}
	once   sync.Once

	errMu sync.Mutex
	err   error
}

// Subscribe dials the event stream for the given topics. No topics means
// the firehose. The subscription ends when ctx is cancelled, Close is
// called or the server goes away.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/stream"
	q := url.Values{}
	for _, t := range topics {
		q.Add("topic", t)
	}
	q.Set("format", string(stream.FormatJSON))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	var statusErr *APIError
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(header),
		OnStatusError: func(status int, _ []byte, resp io.Reader) {
			var e api.ErrorResponse
			raw, _ := io.ReadAll(io.LimitReader(resp, 64<<10))
			if json.Unmarshal(raw, &e) != nil {
				e.Error = strings.TrimSpace(string(raw))
			}
			statusErr = &APIError{StatusCode: status, Message: e.Error}
		},
	}

	conn, br, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		if statusErr != nil {
			return nil, statusErr
		}
		return nil, fmt.Errorf("volley/client: dial stream: %w", err)
	}

	s := &Subscription{
		conn:   conn,
		logger: c.logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	var src io.Reader = conn
	if br != nil {
		src = io.MultiReader(br, conn)
	}
	go s.readLoop(src)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Events returns the event channel. It is closed when the subscription
// ends; Err then reports why.
func (s *Subscription) Events() <-chan Event { return s.events }

// Err returns the reason the subscription ended: nil after Close, a
// wsutil.ClosedError when the server closed the stream, or the read error.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// AddCredits grants the server n more events before it starts dropping.
func (s *Subscription) AddCredits(n int64) error {
	return s.send(api.StreamControl{Credits: n})
}

// Add subscribes to more topics.
func (s *Subscription) Add(topics ...string) error {
	return s.send(api.StreamControl{Subscribe: topics})
}

// Remove unsubscribes from topics.
func (s *Subscription) Remove(topics ...string) error {
	return s.send(api.StreamControl{Unsubscribe: topics})
}

// Close sends a normal close frame and tears the connection down. It is
// safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wmu.Lock()
		//nolint:errcheck // best-effort close frame before disconnect
		ws.WriteFrame(s.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
		s.wmu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) send(msg api.StreamControl) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("volley/client: marshal control: %w", err)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := wsutil.WriteClientText(s.conn, data); err != nil {
		return fmt.Errorf("volley/client: write control: %w", err)
	}
	return nil
}

// control answers ping and close frames from the server.
func (s *Subscription) control(hdr ws.Header, r io.Reader) error {
	var buf bytes.Buffer
	err := wsutil.ControlFrameHandler(&buf, ws.StateClientSide)(hdr, r)
	if buf.Len() > 0 {
		s.wmu.Lock()
		_, werr := s.conn.Write(buf.Bytes())
		s.wmu.Unlock()
		if err == nil {
			err = werr
		}
	}
	return err
}

func (s *Subscription) readLoop(src io.Reader) {
	defer close(s.events)

	rd := &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: s.control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			s.finish(err)
			return
		}
		if hdr.OpCode.IsControl() {
			if err := s.control(hdr, rd); err != nil {
				s.finish(err)
				return
			}
			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			s.finish(err)
			return
		}
		if hdr.OpCode != ws.OpText {
			continue
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Warn("volley/client: invalid stream event", slog.String("error", err.Error()))
			continue
		}
		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}

// finish records why the read loop stopped. Errors caused by our own
// Close are not reported.
func (s *Subscription) finish(err error) {
	if s.closing() {
		return
	}
	var closed wsutil.ClosedError
	if !errors.As(err, &closed) {
		s.logger.Debug("volley/client: stream read failed", slog.String("error", err.Error()))
	}
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	_ = s.conn.Close()
}
