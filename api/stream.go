package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/volley/stream"
)

// StreamControl is a text message a stream client may send to adjust its
// subscription while connected.
type StreamControl struct {
	// Credits replenishes flow-control credits.
	Credits int64 `json:"credits,omitempty"`

	Subscribe   []string `json:"subscribe,omitempty"`
	Unsubscribe []string `json:"unsubscribe,omitempty"`
}

// streamTopics parses the topic query values. Each value may itself be a
// comma-separated list. No topics means the firehose.
func streamTopics(values []string) ([]string, error) {
	var topics []string
	seen := make(map[string]struct{})
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if err := stream.ValidateTopic(t); err != nil {
				return nil, err
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	return topics, nil
}

// streamConn serializes frame writes from the event pump and the control
// frame replies of the reader.
type streamConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *streamConn) write(op ws.OpCode, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteServerMessage(c.conn, op, data)
}

func (c *streamConn) close(code ws.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	//nolint:errcheck // best-effort close frame before disconnect
	ws.WriteFrame(c.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
}

// control answers ping and close frames.
func (c *streamConn) control(hdr ws.Header, r io.Reader) error {
	var buf bytes.Buffer
	err := wsutil.ControlFrameHandler(&buf, ws.StateServerSide)(hdr, r)
	if buf.Len() > 0 {
		c.mu.Lock()
		_, werr := c.conn.Write(buf.Bytes())
		c.mu.Unlock()
		if err == nil {
			err = werr
		}
	}
	return err
}

// stream upgrades to a websocket and forwards broker events until either
// side goes away. Query parameters: topic (repeatable) and format
// ("json" or "msgpack"; msgpack events travel in binary frames).
func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		writeError(w, http.StatusNotImplemented, "event stream is not enabled")
		return
	}
	q := r.URL.Query()
	format, err := stream.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	topics, err := streamTopics(q["topic"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.logger.Warn("api: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	sc := &streamConn{conn: conn}
	defer conn.Close()

	sub := a.broker.Subscribe("", topics...)
	defer a.broker.RemoveSubscriber(sub.ID())

	a.logger.Info("api: stream connected",
		slog.String("subscriber", sub.ID()),
		slog.String("topics", strings.Join(topics, ",")),
		slog.String("format", string(format)),
	)
	defer a.logger.Info("api: stream disconnected", slog.String("subscriber", sub.ID()))

	var src io.Reader = conn
	if rw != nil {
		src = rw.Reader
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.readControl(sc, src, sub)
	}()

	op := ws.OpText
	if format.Binary() {
		op = ws.OpBinary
	}
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				sc.close(ws.StatusGoingAway, "scheduler shutting down")
				return
			}
			data, encErr := stream.Encode(evt, format)
			if encErr != nil {
				a.logger.Warn("api: encode stream event failed",
					slog.String("type", string(evt.Type)),
					slog.String("error", encErr.Error()),
				)
				continue
			}
			if writeErr := sc.write(op, data); writeErr != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readControl consumes client frames until the connection fails or the
// client closes it.
func (a *API) readControl(sc *streamConn, src io.Reader, sub *stream.Subscriber) {
	rd := &wsutil.Reader{
		Source:         src,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: sc.control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if err := sc.control(hdr, rd); err != nil {
				var closed wsutil.ClosedError
				if !errors.As(err, &closed) {
					a.logger.Debug("api: stream control frame failed", slog.String("error", err.Error()))
				}
				return
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		var msg StreamControl
		if err := json.NewDecoder(rd).Decode(&msg); err != nil {
			a.logger.Debug("api: bad stream control message", slog.String("error", err.Error()))
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}
		if err := rd.Discard(); err != nil {
			return
		}
		a.applyControl(sub, msg)
	}
}

func (a *API) applyControl(sub *stream.Subscriber, msg StreamControl) {
	if msg.Credits > 0 {
		sub.AddCredits(msg.Credits)
	}
	var valid []string
	for _, t := range msg.Subscribe {
		if err := stream.ValidateTopic(t); err != nil {
			a.logger.Debug("api: ignoring stream topic", slog.String("topic", t), slog.String("error", err.Error()))
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) > 0 {
		a.broker.SubscribeTo(sub.ID(), valid...)
	}
	if len(msg.Unsubscribe) > 0 {
		a.broker.Unsubscribe(sub.ID(), msg.Unsubscribe...)
	}
}
