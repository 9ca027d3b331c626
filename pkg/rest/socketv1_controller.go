package rest

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/inbucket/mailvault/pkg/msghub"
	"github.com/inbucket/mailvault/pkg/rest/model"
	"github.com/inbucket/mailvault/pkg/server/web"
	"github.com/inbucket/mailvault/pkg/stringutil"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var errClosed = errors.New("listener closed")

// options for gorilla connection upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// msgListener handles updates from the msghub
type msgListener struct {
	hub     *msghub.Hub        // Global update hub
	c       chan msghub.Update // Queue of updates from Receive()
	done    chan struct{}      // Closed by Close()
	account string             // Account to monitor, "" == all accounts
	mailbox string             // Name of mailbox to monitor, "" == all mailboxes

	once sync.Once
}

// newMsgListener creates a listener and registers it.  Optional account and mailbox parameters
// will restrict updates sent to WebSocket to that mailbox only.
func newMsgListener(hub *msghub.Hub, account, mailbox string) *msgListener {
	ml := &msgListener{
		hub:     hub,
		c:       make(chan msghub.Update, 100),
		done:    make(chan struct{}),
		account: account,
		mailbox: mailbox,
	}
	hub.AddListener(ml)
	return ml
}

// Receive handles an incoming update.  It returns an error once the listener is closed, which
// makes the hub drop it.
func (ml *msgListener) Receive(u msghub.Update) error {
	acct, mb := u.Mailbox()
	if ml.account != "" && (ml.account != acct || ml.mailbox != mb) {
		// Did not match mailbox
		return nil
	}
	select {
	case <-ml.done:
		return errClosed
	case ml.c <- u:
		return nil
	}
}

// WSReader makes sure the websocket client is still connected, discards any messages from client
func (ml *msgListener) WSReader(conn *websocket.Conn) {
	slog := log.With().Str("module", "rest").Str("proto", "WebSocket").
		Str("remote", conn.RemoteAddr().String()).Logger()
	defer ml.Close()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		slog.Debug().Msg("Got pong")
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				// Unexpected close code
				slog.Warn().Err(err).Msg("Socket error")
			} else {
				slog.Debug().Msg("Closing socket")
			}
			break
		}
	}
}

// WSWriter makes sure the websocket client is still connected
func (ml *msgListener) WSWriter(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ml.Close()
	}()

	// Handle updates from hub until msgListener is closed
	for {
		select {
		case <-ml.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case u := <-ml.c:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if conn.WriteJSON(toMonitorEvent(u)) != nil {
				// Write failed
				return
			}
		case <-ticker.C:
			// Send ping
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if conn.WriteMessage(websocket.PingMessage, []byte{}) != nil {
				// Write error
				return
			}
			log.Debug().Str("module", "rest").Str("proto", "WebSocket").
				Str("remote", conn.RemoteAddr().String()).Msg("Sent ping")
		}
	}
}

// Close removes the listener registration
func (ml *msgListener) Close() {
	ml.once.Do(func() {
		close(ml.done)
		ml.hub.RemoveListener(ml)
	})
}

func toMonitorEvent(u msghub.Update) *model.JSONMonitorEventV1 {
	switch {
	case u.Message != nil:
		msg := u.Message
		from := ""
		if msg.From != nil {
			from = msg.From.String()
		}
		return &model.JSONMonitorEventV1{
			Variant: "message",
			Header: &model.JSONMessageHeaderV1{
				Account:     msg.Account,
				Mailbox:     msg.Mailbox,
				MessageID:   msg.MessageID,
				From:        from,
				To:          stringutil.StringAddressList(msg.To),
				Subject:     msg.Subject,
				Date:        msg.Date,
				PosixMillis: msg.Date.UnixMilli(),
				Size:        msg.Size,
				Spam:        msg.Spam,
				Attachments: msg.Attachments,
			},
		}
	case u.Cycle != nil:
		c := u.Cycle
		return &model.JSONMonitorEventV1{
			Variant: "cycle",
			Cycle: &model.JSONCycleV1{
				ID:         c.ID,
				Account:    c.Account,
				Mailbox:    c.Mailbox,
				Criterion:  c.Criterion,
				Started:    c.Started,
				Millis:     c.Duration.Milliseconds(),
				Fetched:    c.Fetched,
				Stored:     c.Stored,
				Duplicates: c.Duplicates,
				Skipped:    c.Skipped,
				Failed:     c.Failed,
				Error:      c.Error,
			},
		}
	}
	return &model.JSONMonitorEventV1{}
}

// MonitorAllMessagesV1 is a web handler which upgrades the connection to a websocket and notifies
// the client of all messages archived and cycles completed.
func MonitorAllMessagesV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	return monitor(w, req, ctx, "", "")
}

// MonitorMailboxMessagesV1 is a web handler which upgrades the connection to a websocket and
// notifies the client of messages archived into a particular mailbox.
func MonitorMailboxMessagesV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	mb := lookupMailbox(ctx)
	if mb == nil {
		http.NotFound(w, req)
		return nil
	}
	return monitor(w, req, ctx, mb.Account.ID, mb.Name)
}

func monitor(w http.ResponseWriter, req *http.Request, ctx *web.Context, account, mailbox string) error {
	// Upgrade to Websocket.
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Debug().Str("module", "rest").Err(err).Msg("WebSocket upgrade failed")
		return nil
	}
	web.ExpWebSocketConnectsCurrent.Add(1)
	defer func() {
		_ = conn.Close()
		web.ExpWebSocketConnectsCurrent.Add(-1)
	}()
	log.Debug().Str("module", "rest").Str("proto", "WebSocket").
		Str("remote", conn.RemoteAddr().String()).Msg("Upgraded to WebSocket")
	// Create, register listener; then interact with conn.
	ml := newMsgListener(ctx.MsgHub, account, mailbox)
	go ml.WSWriter(conn)
	ml.WSReader(conn)
	return nil
}
