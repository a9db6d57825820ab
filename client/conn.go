package client

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yeyu-labs/chatlink/messages"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	backoffFactor   = 1.5
)

// ConnState is the socket lifecycle state.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// wsConn bundles one physical connection with its write pump plumbing.
type wsConn struct {
	conn      *websocket.Conn
	writeChan chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
}

func (c *wsConn) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Start initiates the first connection attempt.
func (e *Engine) Start() {
	go e.connect()
}

func (e *Engine) connect() {
	e.mu.Lock()
	if e.closed || e.connState != StateClosed {
		e.mu.Unlock()
		return
	}
	e.connState = StateConnecting
	e.mu.Unlock()

	log.Printf("🔌 Attempting connection to %s...", e.cfg.ServerURL)

	dialer := websocket.Dialer{HandshakeTimeout: e.cfg.ConnectionTimeout}
	conn, _, err := dialer.Dial(e.cfg.ServerURL, nil)
	if err != nil {
		log.Printf("⚠️ Connection to %s failed: %v", e.cfg.ServerURL, err)
		e.mu.Lock()
		e.connState = StateClosed
		e.mu.Unlock()
		e.scheduleReconnect()
		return
	}

	c := &wsConn{
		conn:      conn,
		writeChan: make(chan []byte, writeBufferSize),
		stop:      make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.cur = c
	e.connState = StateOpen
	e.attempts = 0
	stored := e.state.LastActiveSessionID()
	if stored != "" {
		e.activeID = stored
	}
	toggles := messages.ToggleStates{
		Gemini:    e.toggles.UseGemini,
		Eval:      e.toggles.EvalMode,
		Grounding: e.toggles.GroundingMode,
	}
	e.mu.Unlock()

	log.Println("✅ Connected successfully.")

	go e.writePump(c)
	go e.readLoop(c)

	// Reconciliation handshake: announce readiness with the remembered
	// session hint and our current toggle beliefs, then ask for the list.
	sid := stored
	if sid == "" {
		sid = transientID("client_temp_cfg_")
	}
	log.Printf("📤 Sending config. Initial session hint: %s", orNone(stored))
	e.sendWithSession(messages.NewConfig(stored, toggles), sid)
	e.sendWithSession(messages.NewLoadSessionsRequest(), sid)
	e.change()
}

func (e *Engine) readLoop(c *wsConn) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			e.handleConnClose(c, err)
			return
		}
		e.dispatch(data)
	}
}

// writePump owns all writes on one connection
func (e *Engine) writePump(c *wsConn) {
	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.writeChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

			// Drain whatever else queued up while writing
			n := len(c.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.writeChan:
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
				}
			}
		}
	}
}

func (e *Engine) handleConnClose(c *wsConn, err error) {
	e.mu.Lock()
	if e.cur != c {
		// A stale connection's late close must not disturb the current one
		e.mu.Unlock()
		return
	}
	e.cur = nil
	e.connState = StateClosed
	shuttingDown := e.closed
	e.mu.Unlock()

	c.shutdown()
	c.conn.Close()

	if shuttingDown {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		log.Printf("🔌 Closed cleanly (%v), not auto-reconnecting.", err)
		e.change()
		return
	}

	log.Printf("🔌 Abnormal closure (%v), attempting reconnect...", err)
	e.change()
	e.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer. The previous timer is always
// cleared first so at most one is in flight.
func (e *Engine) scheduleReconnect() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.attempts++
	attempt := e.attempts
	delay := reconnectDelay(attempt, e.cfg.ReconnectBase, e.cfg.ReconnectCap)
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
	}
	e.reconnectTimer = time.AfterFunc(delay, func() {
		e.mu.RLock()
		skip := e.closed || e.connState != StateClosed
		state := e.connState
		e.mu.RUnlock()
		if skip {
			log.Printf("🔌 Reconnect attempt %d skipped: state is %s.", attempt, state)
			return
		}
		log.Println("🔌 Executing reconnect attempt...")
		e.connect()
	})
	e.mu.Unlock()

	log.Printf("🔌 Reconnecting attempt %d in %s...", attempt, delay)
}

// reconnectDelay computes min(ceil, base * 1.5^(attempt-1)).
func reconnectDelay(attempt int, base, ceil time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(backoffFactor, float64(attempt-1)))
	if d > ceil {
		return ceil
	}
	return d
}

// Close tears the engine down: timers cancelled, socket closed with a normal
// code (suppressing reconnection), playback stopped, devices released.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	c := e.cur
	e.cur = nil
	e.connState = StateClosed
	capturing := e.capturing
	e.capturing = false
	e.mu.Unlock()

	if capturing && e.capture != nil {
		e.capture.Stop()
	}

	if c != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"),
		)
		c.shutdown()
		c.conn.Close()
	}

	e.queue.Close()
	return e.state.Close()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
