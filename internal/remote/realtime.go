package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/realtime"
)

const (
	// Time allowed to write a frame to the server.
	wsWriteWait = 10 * time.Second

	// Time allowed between frames from the server. The server pings more
	// often than this, so silence means the connection is gone.
	wsReadWait = 90 * time.Second
)

// Subscription is a live change feed for one relation.
type Subscription struct {
	relation string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	once     sync.Once
	stop     chan struct{}
	done     chan struct{}
	client   *Client
}

// Subscribe opens a websocket, subscribes to relation and calls handle for
// every change event until Unsubscribe is called or the connection drops.
// handle is called from one goroutine at a time.
func (c *Client) Subscribe(ctx context.Context, relation string, handle func(model.ChangeEvent)) (*Subscription, error) {
	u, err := url.Parse(c.baseURL + "/realtime/v1/websocket")
	if err != nil {
		return nil, fmt.Errorf("remote: realtime url: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	q := u.Query()
	q.Set(APIKeyHeader, c.anonKey)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set(APIKeyHeader, c.anonKey)
	if s := c.Session(); s != nil {
		header.Set("Authorization", "Bearer "+s.AccessToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, mapStatus("subscribe", resp.StatusCode, errorBody{Message: resp.Status})
		}
		return nil, apperror.Network("subscribe", err)
	}

	sub := &Subscription{
		relation: relation,
		conn:     conn,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		client:   c,
	}

	if err := sub.write(realtime.Message{Type: realtime.TypeSubscribe, Relation: relation}); err != nil {
		_ = conn.Close()
		return nil, apperror.Network("subscribe", err)
	}

	// Events can race ahead of the acknowledgement; deliver them.
	_ = conn.SetReadDeadline(time.Now().Add(wsWriteWait))
	for {
		var msg realtime.Message
		if err := conn.ReadJSON(&msg); err != nil {
			_ = conn.Close()
			return nil, apperror.Network("subscribe", err)
		}
		if msg.Type == realtime.TypeEvent && msg.Event != nil {
			handle(*msg.Event)
			continue
		}
		if msg.Type == realtime.TypeSubscribed {
			break
		}
		_ = conn.Close()
		return nil, apperror.ValidationFailed("relation", fmt.Sprintf("subscribe to %s rejected: %s", relation, msg.Error))
	}

	go sub.read(handle)
	c.logger.Debug("realtime subscribed", "relation", relation)
	return sub, nil
}

func (s *Subscription) write(msg realtime.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(msg)
}

func (s *Subscription) read(handle func(model.ChangeEvent)) {
	defer close(s.done)

	_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait))
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var msg realtime.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !s.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.client.logger.Warn("realtime connection lost", "relation", s.relation, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait))

		if msg.Type == realtime.TypeEvent && msg.Event != nil {
			handle(*msg.Event)
		}
	}
}

func (s *Subscription) closed() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Done is closed when the subscription has stopped delivering events.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe tells the server to stop and closes the connection. It is
// safe to call more than once and waits for the reader to exit.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		_ = s.write(realtime.Message{Type: realtime.TypeUnsubscribe, Relation: s.relation})
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
		_ = s.conn.Close()
	})
	<-s.done
}

// Watch is Subscribe for callers that only need a cancel function and a
// channel that closes when the feed stops, whether cancelled or dropped.
func (c *Client) Watch(ctx context.Context, relation string, handle func(model.ChangeEvent)) (func(), <-chan struct{}, error) {
	sub, err := c.Subscribe(ctx, relation, handle)
	if err != nil {
		return nil, nil, err
	}
	return sub.Unsubscribe, sub.Done(), nil
}
