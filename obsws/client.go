package obsws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pss-service/logger"
	"pss-service/pkg/common"
)

const (
	// PingInterval is the interval for sending ping messages.
	PingInterval = 30 * time.Second

	// ReconnectDelay is the delay before reconnecting.
	ReconnectDelay = 5 * time.Second

	// RequestTimeout bounds how long a request waits for its response.
	RequestTimeout = 10 * time.Second

	// handshakeDeadline bounds the connect-time handshake.
	handshakeDeadline = 15 * time.Second
)

// StateHandler receives normalized output state changes.
type StateHandler func(ev StateEvent)

// DisconnectHandler is invoked whenever the connection drops.
type DisconnectHandler func(err error)

// Client is a connection to one recording/streaming backend. The wire dialect
// is fixed per connection at construction; callers use the dialect-free
// operation set. Failures are scoped to this connection only.
type Client struct {
	id       string
	url      string
	password string
	dialect  Dialect

	mu            sync.RWMutex
	conn          *websocket.Conn
	isConnected   bool
	autoReconnect bool
	stopChan      chan struct{}

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *response

	stateHandler      StateHandler
	disconnectHandler DisconnectHandler
}

// NewClient creates a backend client. id is the backend connection id used
// for session bookkeeping.
func NewClient(id, url, password string, dialect Dialect) *Client {
	return &Client{
		id:            id,
		url:           url,
		password:      password,
		dialect:       dialect,
		autoReconnect: true,
		stopChan:      make(chan struct{}),
		pending:       make(map[string]chan *response),
	}
}

// ID returns the backend connection id.
func (c *Client) ID() string { return c.id }

// Dialect returns the negotiated wire dialect.
func (c *Client) Dialect() Dialect { return c.dialect }

// OnState registers the state change handler. Must be set before Connect.
func (c *Client) OnState(h StateHandler) { c.stateHandler = h }

// OnDisconnect registers the disconnect handler. Must be set before Connect.
func (c *Client) OnDisconnect(h DisconnectHandler) { c.disconnectHandler = h }

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// Connect establishes the WebSocket connection and runs the dialect
// handshake. The read and ping loops start after a successful handshake.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.isConnected {
		c.mu.Unlock()
		return common.ErrAlreadyConnected
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
	if err := c.handshake(conn); err != nil {
		conn.Close()
		return err
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.isConnected = true
	c.mu.Unlock()

	logger.Printf("[OBS] Backend %s connected (%s dialect)", c.id, c.dialect)

	go c.readMessages(conn)
	go c.pingHandler()
	return nil
}

// Disconnect closes the connection politely and disables reconnection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.isConnected {
		c.mu.Unlock()
		return common.ErrNotConnected
	}
	c.autoReconnect = false
	conn := c.conn
	c.isConnected = false
	c.mu.Unlock()

	close(c.stopChan)

	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		logger.Errorf("[OBS] Error sending close to %s: %v", c.id, err)
	}
	return conn.Close()
}

// handshake runs the connect-time authentication for the dialect.
func (c *Client) handshake(conn *websocket.Conn) error {
	switch c.dialect {
	case DialectLegacy:
		return c.legacyHandshake(conn)
	case DialectModern:
		return c.modernHandshake(conn)
	}
	return fmt.Errorf("unknown dialect %d", c.dialect)
}

// legacyHandshake asks whether auth is required and answers the challenge.
func (c *Client) legacyHandshake(conn *websocket.Conn) error {
	authID := uuid.NewString()
	frame, err := encodeLegacyRequest("GetAuthRequired", authID, nil)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("handshake write failed: %w", err)
	}

	var authInfo struct {
		AuthRequired bool   `json:"authRequired"`
		Challenge    string `json:"challenge"`
		Salt         string `json:"salt"`
	}
	resp, err := c.awaitLegacyResponse(conn, authID)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", common.ErrAuthFailed, resp.ErrMsg)
	}
	if err := json.Unmarshal(resp.Data, &authInfo); err != nil {
		return fmt.Errorf("malformed auth info: %w", err)
	}

	if !authInfo.AuthRequired {
		return nil
	}

	auth := legacyAuthResponse(c.password, authInfo.Salt, authInfo.Challenge)
	loginID := uuid.NewString()
	frame, err = encodeLegacyRequest("Authenticate", loginID, map[string]interface{}{"auth": auth})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("auth write failed: %w", err)
	}

	resp, err = c.awaitLegacyResponse(conn, loginID)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", common.ErrAuthFailed, resp.ErrMsg)
	}
	return nil
}

// awaitLegacyResponse reads frames until the response with the given id.
func (c *Client) awaitLegacyResponse(conn *websocket.Conn, id string) (*response, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("handshake read failed: %w", err)
		}
		resp, _, err := decodeLegacyFrame(data)
		if err != nil {
			return nil, err
		}
		if resp != nil && resp.ID == id {
			return resp, nil
		}
	}
}

// modernHandshake waits for Hello, identifies (with auth when challenged),
// and waits for Identified.
func (c *Client) modernHandshake(conn *websocket.Conn) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake read failed: %w", err)
	}

	var env modernEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("malformed hello: %w", err)
	}
	if env.Op != modernOpHello {
		return fmt.Errorf("expected hello, got op %d", env.Op)
	}

	var hello modernHello
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("malformed hello payload: %w", err)
	}

	var authentication string
	if hello.Authentication != nil {
		authentication = modernAuthResponse(c.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	frame, err := encodeModernIdentify(authentication)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("identify write failed: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: identify rejected: %v", common.ErrAuthFailed, err)
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("malformed identify reply: %w", err)
		}
		if env.Op == modernOpIdentified {
			return nil
		}
	}
}

// request sends one operation and waits for its correlated response.
func (c *Client) request(op Op, params map[string]interface{}) (json.RawMessage, error) {
	c.mu.RLock()
	conn := c.conn
	connected := c.isConnected
	c.mu.RUnlock()
	if !connected {
		return nil, common.ErrNotConnected
	}

	id := uuid.NewString()
	frame, err := encodeRequest(c.dialect, op, id, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("request write failed: %w", err)
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			return nil, fmt.Errorf("backend rejected request: %s", resp.ErrMsg)
		}
		return resp.Data, nil
	case <-time.After(RequestTimeout):
		return nil, common.ErrRequestTimeout
	case <-c.stopChan:
		return nil, common.ErrNotConnected
	}
}

// GetCurrentScene returns the active scene name.
func (c *Client) GetCurrentScene() (string, error) {
	data, err := c.request(OpGetCurrentScene, nil)
	if err != nil {
		return "", err
	}
	if c.dialect == DialectLegacy {
		return legacyCurrentScene(data), nil
	}
	return modernCurrentScene(data), nil
}

// SetCurrentScene switches the active scene.
func (c *Client) SetCurrentScene(name string) error {
	params := map[string]interface{}{"sceneName": name}
	if c.dialect == DialectLegacy {
		params = map[string]interface{}{"scene-name": name}
	}
	_, err := c.request(OpSetCurrentScene, params)
	return err
}

// ListScenes returns the backend's scene names.
func (c *Client) ListScenes() ([]string, error) {
	data, err := c.request(OpListScenes, nil)
	if err != nil {
		return nil, err
	}
	if c.dialect == DialectLegacy {
		return legacySceneNames(data), nil
	}
	return modernSceneNames(data), nil
}

// StartRecording starts the backend's recording output.
func (c *Client) StartRecording() error {
	_, err := c.request(OpStartRecording, nil)
	return err
}

// StopRecording stops the backend's recording output.
func (c *Client) StopRecording() error {
	_, err := c.request(OpStopRecording, nil)
	return err
}

// GetRecordingState queries the recording output state.
func (c *Client) GetRecordingState() (RecordingState, error) {
	data, err := c.request(OpGetRecordingState, nil)
	if err != nil {
		return RecordingState{}, err
	}
	if c.dialect == DialectLegacy {
		return legacyRecordingState(data), nil
	}
	return modernRecordingState(data), nil
}

// StartReplayBuffer starts the rolling replay buffer.
func (c *Client) StartReplayBuffer() error {
	_, err := c.request(OpStartReplayBuffer, nil)
	return err
}

// StopReplayBuffer stops the rolling replay buffer.
func (c *Client) StopReplayBuffer() error {
	_, err := c.request(OpStopReplayBuffer, nil)
	return err
}

// SaveReplayBuffer persists the current replay buffer contents.
func (c *Client) SaveReplayBuffer() error {
	_, err := c.request(OpSaveReplayBuffer, nil)
	return err
}

// readMessages dispatches inbound frames until the connection drops, then
// reconnects when enabled.
func (c *Client) readMessages(conn *websocket.Conn) {
	var readErr error
	defer func() {
		c.mu.Lock()
		wasConnected := c.isConnected
		c.isConnected = false
		reconnect := c.autoReconnect
		c.mu.Unlock()

		if wasConnected && c.disconnectHandler != nil {
			c.disconnectHandler(readErr)
		}
		if reconnect {
			go c.reconnect()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Errorf("[OBS] Backend %s read error: %v", c.id, err)
				}
				readErr = err
				return
			}
			c.dispatch(data)
		}
	}
}

// dispatch routes one inbound frame to the pending request or state handler.
func (c *Client) dispatch(data []byte) {
	var resp *response
	var state *StateEvent
	var err error

	switch c.dialect {
	case DialectLegacy:
		resp, state, err = decodeLegacyFrame(data)
	case DialectModern:
		resp, state, err = decodeModernFrame(data)
	}
	if err != nil {
		logger.Errorf("[OBS] Backend %s sent malformed frame: %v", c.id, err)
		return
	}

	if resp != nil {
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	if state != nil && c.stateHandler != nil {
		c.stateHandler(*state)
	}
}

// pingHandler sends periodic ping messages.
func (c *Client) pingHandler() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			connected := c.isConnected
			c.mu.RUnlock()
			if !connected {
				return
			}

			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				logger.Errorf("[OBS] Backend %s ping failed: %v", c.id, err)
			}
		}
	}
}

// reconnect retries the connection until it succeeds or the client stops.
func (c *Client) reconnect() {
	for {
		select {
		case <-c.stopChan:
			return
		case <-time.After(ReconnectDelay):
			logger.Printf("[OBS] Reconnecting to backend %s...", c.id)

			if err := c.Connect(); err != nil {
				logger.Errorf("[OBS] Backend %s reconnect failed: %v", c.id, err)
				continue
			}

			logger.Printf("[OBS] Backend %s reconnected", c.id)
			return
		}
	}
}
