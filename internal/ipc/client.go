package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient talks to a running autokeyd over its control socket.
type IPCClient struct {
	mu       sync.RWMutex
	conn     net.Conn
	writeMu  sync.Mutex
	clientID string
	version  string

	connected atomic.Bool

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	eventChan chan *Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "autokeyctl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	def := DefaultClientConfig(cfg.SocketPath)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &IPCClient{
		pending:   make(map[uint32]chan *Message),
		eventChan: make(chan *Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		config:    cfg,
	}
}

// Connect dials the daemon and performs the handshake.
func (c *IPCClient) Connect() error {
	c.mu.Lock()
	if c.connected.Load() {
		c.mu.Unlock()
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.config.SocketPath)
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}
	c.conn = conn
	c.connected.Store(true)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop()

	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

// Close closes the connection to the daemon
func (c *IPCClient) Close() error {
	c.cancel()
	c.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(c.eventChan)
	case <-time.After(2 * time.Second):
	}
	return nil
}

// close drops the connection and fails every pending request.
func (c *IPCClient) close() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
	c.mu.Unlock()

	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// ClientID returns the ID the server assigned during the handshake.
func (c *IPCClient) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// ServerVersion returns the daemon version reported during the handshake.
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Events returns the stream of events after Subscribe.
func (c *IPCClient) Events() <-chan *Event {
	return c.eventChan
}

func (c *IPCClient) handshake() error {
	var ack HandshakeResponse
	err := c.call(MsgHandshake, MsgHandshakeAck, &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}, &ack)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.clientID = ack.ClientID
	c.version = ack.ServerVersion
	c.mu.Unlock()
	return nil
}

// call sends a request, waits for the reply and decodes it into out. An
// error reply becomes a *RemoteError.
func (c *IPCClient) call(msgType, want MessageType, payload, out any) error {
	resp, err := c.request(msgType, payload, c.config.RequestTimeout)
	if err != nil {
		return err
	}
	if resp.Header.Type == MsgError {
		var e ErrorResponse
		if err := Decode(resp.Payload, &e); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &RemoteError{Code: e.Code, Message: e.Message}
	}
	if resp.Header.Type != want {
		return fmt.Errorf("unexpected response type: %#04x", uint16(resp.Header.Type))
	}
	if out == nil {
		return nil
	}
	return Decode(resp.Payload, out)
}

func (c *IPCClient) request(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	reqID := c.nextReqID.Add(1) &^ (1 << 31)
	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(NewMessage(msgType, reqID, data)); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (c *IPCClient) write(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(conn)
}

func (c *IPCClient) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() == nil {
				c.close()
			}
			return
		}

		switch msg.Header.Type {
		case MsgPing:
			c.write(NewMessage(MsgPong, msg.Header.RequestID, nil))
		case MsgEvent:
			var ev Event
			if Decode(msg.Payload, &ev) == nil {
				select {
				case c.eventChan <- &ev:
				default:
				}
			}
		default:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.Header.RequestID]
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

// Ping checks the daemon is responsive and returns the round trip time.
func (c *IPCClient) Ping() (time.Duration, error) {
	start := time.Now()
	if err := c.call(MsgPing, MsgPong, nil, nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Status returns daemon status.
func (c *IPCClient) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(MsgStatusRequest, MsgStatusResponse, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause stops monitoring; abbreviations and hotkeys stop firing.
func (c *IPCClient) Pause() (bool, error) {
	return c.serviceState(MsgPause)
}

// Unpause resumes monitoring.
func (c *IPCClient) Unpause() (bool, error) {
	return c.serviceState(MsgUnpause)
}

// Toggle flips monitoring and reports the new state.
func (c *IPCClient) Toggle() (bool, error) {
	return c.serviceState(MsgToggle)
}

func (c *IPCClient) serviceState(msgType MessageType) (bool, error) {
	var resp ServiceStateResponse
	if err := c.call(msgType, MsgServiceState, nil, &resp); err != nil {
		return false, err
	}
	return resp.Running, nil
}

// RunPhrase expands the phrase with the given description.
func (c *IPCClient) RunPhrase(name string) error {
	return c.call(MsgRunPhrase, MsgRunResult, &RunRequest{Name: name}, nil)
}

// RunScript runs the named script with args and returns what it stored as
// its result, if anything.
func (c *IPCClient) RunScript(name string, args []string) (string, error) {
	var resp RunResponse
	if err := c.call(MsgRunScript, MsgRunResult, &RunRequest{Name: name, Args: args}, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// RunFolder pops up the menu for the named folder.
func (c *IPCClient) RunFolder(name string) error {
	return c.call(MsgRunFolder, MsgRunResult, &RunRequest{Name: name}, nil)
}

// Errors lists remembered script errors, clearing them when clear is set.
func (c *IPCClient) Errors(clear bool) ([]ScriptErrorInfo, error) {
	var resp ErrorsResponse
	if err := c.call(MsgErrorsRequest, MsgErrorsResponse, &ErrorsRequest{Clear: clear}, &resp); err != nil {
		return nil, err
	}
	return resp.Errors, nil
}

// Reload asks the daemon to re-read its configuration and item tree.
func (c *IPCClient) Reload() (*ReloadResponse, error) {
	var resp ReloadResponse
	if err := c.call(MsgReload, MsgReloadResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subscribe starts streaming the given events, or all events when none are
// named, to Events().
func (c *IPCClient) Subscribe(events ...EventType) error {
	return c.call(MsgSubscribe, MsgSubscribeResp, &SubscribeRequest{Events: events}, nil)
}

// IsNotFound reports whether err is a daemon reply saying the named item
// does not exist.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == ErrNotFound
}
