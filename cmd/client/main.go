// Terminal client for the chatsync gateway. Keeps a local reconciled view of
// one conversation: sends are rendered optimistically, acks and pushes are
// merged through the reconciler, and receipt updates move messages through
// sent/delivered/delivered_read. Survives reconnects by re-joining and
// retrying pending sends.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oakline/chatsync/internal/handlers/ws"
	"github.com/oakline/chatsync/internal/models"
	"github.com/oakline/chatsync/internal/reconcile"
)

const historyPageSize = 50

type client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	state   *reconcile.Reconciler
	convID  uint
	selfID  uint
	apiBase string
	token   string
}

func (c *client) send(msgType string, payload interface{}) error {
	data, err := json.Marshal(ws.Envelope{Type: msgType, Payload: payload})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// drainOutbox flushes auto-read receipts produced by the last reconciler
// mutation. Best effort; a lost receipt is re-derived on the next join.
func (c *client) drainOutbox() {
	for _, rr := range c.state.DrainOutbox() {
		receipt := ws.MessageReceipt{
			ConversationID: rr.ConversationID,
			MessageID:      rr.MessageID,
			Read:           true,
		}
		if err := c.send("receipt", receipt); err != nil {
			log.Println("receipt write:", err)
			return
		}
	}
}

func (c *client) join() error {
	return c.send("join", ws.MessageJoin{ConversationID: c.convID})
}

// retryPending re-submits non-durable sends after a reconnect, oldest first
// so server-assigned order matches compose order. Client IDs are reused, so
// a send that actually landed before the drop dedups server-side.
func (c *client) retryPending() {
	for _, e := range c.state.PendingSends(c.convID) {
		c.state.RetrySend(c.convID, e.ClientID)
		chat := ws.MessageChat{
			ConversationID: e.ConversationID,
			ClientID:       e.ClientID,
			Content:        e.Content,
			Category:       e.Category,
		}
		if err := c.send("chat", chat); err != nil {
			c.state.FailSend(c.convID, e.ClientID)
			log.Println("retry write:", err)
			return
		}
	}
}

func (c *client) handleEvent(raw []byte) {
	var env ws.SerializedMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unparseable frame: %s", raw)
		return
	}

	switch env.Type {
	case ws.EventJoined:
		var ev ws.JoinedEvent
		if json.Unmarshal(env.Payload, &ev) != nil {
			return
		}
		c.state.Open(ev.ConversationID)
		if ev.PeerViewing {
			fmt.Print("\r(peer is viewing)\n> ")
		}
		c.drainOutbox()

	case ws.EventChatAck:
		var ev ws.ChatAckEvent
		if json.Unmarshal(env.Payload, &ev) != nil {
			return
		}
		c.state.AckSend(ev.Message.ConversationID, ev.Message)

	case ws.EventMessage:
		var ev ws.NewMessageEvent
		if json.Unmarshal(env.Payload, &ev) != nil {
			return
		}
		c.state.ApplyPush(ev.Message.ConversationID, ev.Message)
		if ev.Message.AuthorID != c.selfID {
			fmt.Printf("\ruser %d: %s\n> ", ev.Message.AuthorID, ev.Message.Content)
		}
		c.drainOutbox()

	case ws.EventReceiptUpdate:
		var ev ws.ReceiptUpdateEvent
		if json.Unmarshal(env.Payload, &ev) != nil {
			return
		}
		c.state.ApplyReceipt(ev.Update.ConversationID, ev.Update)
		fmt.Printf("\r(message %d is now %s)\n> ", ev.Update.MessageID, ev.Status)

	case ws.EventTyping:
		var ev ws.TypingEvent
		if json.Unmarshal(env.Payload, &ev) != nil {
			return
		}
		c.state.SetTyping(ev.ConversationID, ev.UserID, ev.IsTyping)
		if ev.IsTyping {
			fmt.Printf("\ruser %d is typing...\n> ", ev.UserID)
		}

	case ws.EventPresence:
		var ev ws.PresenceEvent
		if json.Unmarshal(env.Payload, &ev) != nil {
			return
		}
		if ev.Viewing {
			fmt.Printf("\ruser %d opened the conversation\n> ", ev.UserID)
		} else {
			fmt.Printf("\ruser %d left the conversation\n> ", ev.UserID)
		}

	case "error":
		// Error frames are flat, not enveloped.
		var ev ws.ErrorResponse
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		fmt.Printf("\rserver error [%s]: %s\n> ", ev.Code, ev.Error)

	default:
		log.Printf("unknown event type %q", env.Type)
	}
}

// fetchHistory pulls the next older page over REST and merges it through the
// reconciler. The cursor is the oldest rendered entry's timestamp; no entries
// yet means the latest page. A page arriving after the conversation switched
// is discarded by the fetch token.
func (c *client) fetchHistory() {
	var before *time.Time
	if entries := c.state.Messages(c.convID); len(entries) > 0 {
		before = entries[len(entries)-1].SentAt
	}
	fetch := c.state.BeginHistoryFetch(c.convID)

	reqURL := fmt.Sprintf("%s/api/messages?conversation_id=%d&limit=%d", c.apiBase, c.convID, historyPageSize)
	if before != nil {
		reqURL += "&before=" + url.QueryEscape(before.Format(time.RFC3339Nano))
	}
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		log.Println("history request:", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Println("history fetch:", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("history fetch: status %d", resp.StatusCode)
		return
	}

	var page struct {
		Messages []models.MessageResponse `json:"messages"`
		HasMore  bool                     `json:"has_more"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		log.Println("history decode:", err)
		return
	}

	if !c.state.ApplyHistoryPage(c.convID, fetch, page.Messages, historyPageSize) {
		return // stale fetch, conversation switched underneath
	}
	c.drainOutbox()
	printHistory(c)
}

func dial(addr, token string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), http.Header{})
	return conn, err
}

func printHistory(c *client) {
	entries := c.state.Messages(c.convID)
	// Entries are newest first; print oldest first.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		marker := ""
		if e.AuthorID == c.selfID {
			marker = fmt.Sprintf(" [%s]", e.Status)
		}
		fmt.Printf("user %d: %s%s\n", e.AuthorID, e.Content, marker)
	}
}

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway address")
	apiBase := flag.String("api", "http://localhost:8080", "REST base URL")
	token := flag.String("token", os.Getenv("CHATSYNC_TOKEN"), "access token")
	userID := flag.Uint("user", 0, "own user id (must match the token subject)")
	convID := flag.Uint("conversation", 0, "conversation id to open")
	flag.Parse()

	if *token == "" || *userID == 0 || *convID == 0 {
		log.Fatal("-token, -user and -conversation are required")
	}

	c := &client{
		state:   reconcile.NewReconciler(uint(*userID)),
		convID:  uint(*convID),
		selfID:  uint(*userID),
		apiBase: strings.TrimRight(*apiBase, "/"),
		token:   *token,
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Stdin loop; reads commands and hands sends to whatever connection is
	// current at write time.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case text == "/history":
				printHistory(c)
			case text == "/fetch":
				c.fetchHistory()
			case text == "/typing":
				typing := ws.MessageTyping{ConversationID: c.convID, IsTyping: true}
				if err := c.send("typing", typing); err != nil {
					log.Println("write:", err)
				}
			default:
				clientID := uuid.NewString()
				c.state.StartSend(c.convID, clientID, text)
				chat := ws.MessageChat{
					ConversationID: c.convID,
					ClientID:       clientID,
					Content:        text,
					Category:       models.UserMessage,
				}
				if err := c.send("chat", chat); err != nil {
					c.state.FailSend(c.convID, clientID)
					log.Println("write:", err)
				}
			}
			fmt.Print("> ")
		}
	}()

	// Connect loop with reconnect. Each attempt re-joins and retries
	// anything still pending from before the drop.
	backoff := time.Second
	for {
		conn, err := dial(*addr, *token)
		if err != nil {
			log.Printf("dial failed: %v (retrying in %s)", err, backoff)
			select {
			case <-interrupt:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		log.Printf("connected to %s", *addr)

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		if err := c.join(); err != nil {
			log.Println("join write:", err)
			conn.Close()
			continue
		}
		c.retryPending()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					log.Println("read:", err)
					return
				}
				c.handleEvent(raw)
			}
		}()

		select {
		case <-done:
			c.state.Close(c.convID)
			conn.Close()
			log.Println("disconnected, reconnecting...")
		case <-interrupt:
			log.Println("interrupt")
			err := conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
