// Package kabaw is a client for Kabaw chat servers. It keeps one websocket
// to a channel open, reconnecting with bounded exponential backoff after
// abnormal closes, and records every frame the server pushes.
package kabaw

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client manages the connection to one channel.
type Client struct {
	cfg        Config
	machine    Machine
	dialer     Dialer
	dialErr    error
	scheduler  Scheduler
	dispatcher Dispatcher

	mu          sync.Mutex
	logger      Logger
	model       Model
	messages    []ChatMessage
	handles     map[string]Transport
	timer       Timer
	timerID     uint64
	pendingLogs []LogEffect // written by unlock

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup // dial and read goroutines
	closers sync.WaitGroup // close handshakes
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
// An invalid cfg is reported by Connect. Nothing is dialed until Connect.
// Call Close to release the client.
func NewClient(cfg Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg: cfg,
		machine: Machine{
			Params:           cfg.Params(),
			Policy:           cfg.ReconnectPolicy(),
			MaxMessageLength: cfg.MaxMessageLength,
		},
		scheduler: realScheduler{},
		logger:    noopLogger{},
		handles:   make(map[string]Transport),
		ctx:       ctx,
		cancel:    cancel,
	}
	switch err := cfg.Validate(); {
	case err != nil:
		c.dialErr = err
	case cfg.Dialer != nil:
		c.dialer = cfg.Dialer
	default:
		c.dialer, c.dialErr = NewDialer(cfg)
	}
	c.dispatcher.Start()
	return c
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// OnMessage registers callback for every message appended to the log.
func (c *Client) OnMessage(fn func(ChatMessage)) { c.dispatcher.SetOnMessage(fn) }

// OnStateChanged registers callback for connection state changes.
func (c *Client) OnStateChanged(fn func(StateEvent)) { c.dispatcher.SetOnStateChanged(fn) }

// OnSession registers callback for session id changes. An empty id means
// the session ended.
func (c *Client) OnSession(fn func(string)) { c.dispatcher.SetOnSession(fn) }

// OnReconnect registers callback for scheduled reconnects.
func (c *Client) OnReconnect(fn func(ReconnectEvent)) { c.dispatcher.SetOnReconnect(fn) }

// OnError registers callback for connection errors.
func (c *Client) OnError(fn func(error)) { c.dispatcher.SetOnError(fn) }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.State
}

// SessionID returns the id the server assigned to this connection, if any.
func (c *Client) SessionID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.SessionID, c.model.SessionID != ""
}

// Messages returns a copy of the message log, oldest first.
func (c *Client) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Err returns the latest connection error, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Err
}

// Attempts returns the number of consecutive automatic reconnects.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Attempts
}

// Connect starts opening a connection and returns without waiting for it.
// It is a no-op while a connection is being opened or is open. The outcome
// is reported through State, Err and the callbacks; the returned error is
// only set when no dial could be started at all.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.unlock()

	if c.model.Closed {
		return ErrClosed
	}
	prev := c.model
	if c.dialErr != nil {
		next := prev
		next.State = StateDisconnected
		next.Err = WrapError(ErrorConnectFailed, msgConnectFailed, c.dialErr)
		c.commit(prev, next, []Effect{LogEffect{Level: LevelError, Msg: "failed to create transport", Fields: errFields(c.dialErr)}})
		return next.Err
	}

	next := c.stepLocked(ConnectRequested{ConnID: uuid.NewString()})
	if next.Err != nil && next.Err != prev.Err && CodeOf(next.Err) == ErrorConnectFailed {
		return next.Err
	}
	return nil
}

// Disconnect closes the connection with a normal closure and cancels any
// pending reconnect. It is safe to call in any state.
func (c *Client) Disconnect() {
	c.step(DisconnectRequested{})
}

// SendMessage sends content as a chat message and reports whether it was
// written. Content is trimmed; empty or overlong content is not sent.
func (c *Client) SendMessage(content string) bool {
	return c.Send(c.ctx, content) == nil
}

// Send sends content as a chat message. The message is not added to the
// log; the server echoes it back.
func (c *Client) Send(ctx context.Context, content string) error {
	c.mu.Lock()
	connID, frame, err := c.machine.PrepareSend(c.model, content)
	t := c.handles[connID]
	logger := c.logger
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if t == nil {
		return ErrNotConnected
	}
	if err := t.Write(ctx, frame); err != nil {
		logger.Error("failed to send message", map[string]any{"conn_id": connID, "error": err.Error()})
		return WrapError(ErrorConnection, "failed to send message", err)
	}
	return nil
}

// Close cancels any pending reconnect, closes the connection and waits for
// every goroutine the client started. The client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.model.Closed {
		c.unlock()
		return nil
	}
	c.stepLocked(Disposed{})
	c.unlock()

	c.closers.Wait()
	c.cancel()
	c.workers.Wait()
	c.dispatcher.Stop()
	return nil
}

// unlock releases c.mu, then hands the log records queued by commit to the
// Logger, so a Logger may call back into the Client.
func (c *Client) unlock() {
	logs := c.pendingLogs
	c.pendingLogs = nil
	logger := c.logger
	c.mu.Unlock()

	for _, e := range logs {
		logAt(logger, e.Level, e.Msg, e.Fields)
	}
}

func (c *Client) step(ev Event) Model {
	c.mu.Lock()
	defer c.unlock()
	return c.stepLocked(ev)
}

// stepLocked runs one transition. c.mu must be held.
func (c *Client) stepLocked(ev Event) Model {
	prev := c.model
	next, effects := c.machine.Transition(prev, ev)
	c.commit(prev, next, effects)
	return next
}

// commit stores next, runs effects and queues notifications and log
// records. Nothing here blocks: dials and closes are started on their own
// goroutines.
func (c *Client) commit(prev, next Model, effects []Effect) {
	c.model = next

	var appended []ChatMessage
	var scheduled []ReconnectEvent
	for _, eff := range effects {
		switch e := eff.(type) {
		case DialEffect:
			c.startDial(e)
		case CloseTransportEffect:
			c.closeTransport(e.ConnID, e.Code, e.Reason)
		case ScheduleReconnectEffect:
			c.schedule(e)
			scheduled = append(scheduled, ReconnectEvent{
				Attempt:     e.Attempt,
				MaxAttempts: c.machine.Policy.MaxAttempts,
				Delay:       e.Delay,
			})
		case CancelReconnectEffect:
			c.stopTimer(e.TimerID)
		case AppendMessageEffect:
			c.messages = append(c.messages, e.Message)
			appended = append(appended, e.Message)
		case LogEffect:
			c.pendingLogs = append(c.pendingLogs, e)
		}
	}

	if prev.State != next.State {
		c.dispatcher.DispatchState(StateEvent{OldState: prev.State, NewState: next.State, Error: next.Err})
	}
	if next.Err != nil && next.Err != prev.Err {
		c.dispatcher.DispatchError(next.Err)
	}
	if prev.SessionID != next.SessionID {
		c.dispatcher.DispatchSession(next.SessionID)
	}
	for _, msg := range appended {
		c.dispatcher.DispatchMessage(msg)
	}
	for _, ev := range scheduled {
		c.dispatcher.DispatchReconnect(ev)
	}
}

func (c *Client) startDial(e DialEffect) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()

		t, err := c.dialer.Dial(c.ctx, e.URL)
		if err != nil {
			c.step(DialFailed{ConnID: e.ConnID, Err: err})
			return
		}

		c.mu.Lock()
		c.handles[e.ConnID] = t
		next := c.stepLocked(TransportOpened{ConnID: e.ConnID})
		if next.ConnID != e.ConnID {
			// A closed client emits no stale close effect.
			if _, held := c.handles[e.ConnID]; held {
				delete(c.handles, e.ConnID)
				c.unlock()
				_ = t.Close(CloseNormalClosure, reasonStale)
				return
			}
			c.unlock()
			return
		}
		c.unlock()

		c.readLoop(e.ConnID, t)
	}()
}

func (c *Client) readLoop(connID string, t Transport) {
	for {
		data, err := t.Read(c.ctx)
		if err != nil {
			code, reason, clean := closeStatus(err)

			c.mu.Lock()
			if !clean && c.ctx.Err() == nil {
				c.stepLocked(TransportFailed{ConnID: connID, Err: err})
			}
			c.stepLocked(TransportClosed{ConnID: connID, Code: code, Reason: reason})
			_, held := c.handles[connID]
			delete(c.handles, connID)
			c.unlock()

			if held {
				_ = t.Close(CloseNormalClosure, "")
			}
			return
		}
		c.step(FrameReceived{ConnID: connID, Data: data, ReceivedAt: time.Now()})
	}
}

// closeTransport releases the handle for connID. c.mu must be held.
func (c *Client) closeTransport(connID string, code int, reason string) {
	t, ok := c.handles[connID]
	if !ok {
		return
	}
	delete(c.handles, connID)

	logger := c.logger
	c.closers.Add(1)
	go func() {
		defer c.closers.Done()
		if err := t.Close(code, reason); err != nil {
			logger.Debug("transport close", map[string]any{"conn_id": connID, "error": err.Error()})
		}
	}()
}

// schedule arms the reconnect timer. c.mu must be held.
func (c *Client) schedule(e ScheduleReconnectEffect) {
	if c.timer != nil {
		c.timer.Stop()
	}
	id := e.TimerID
	c.timerID = id
	c.timer = c.scheduler.AfterFunc(e.Delay, func() {
		c.step(ReconnectDue{TimerID: id, ConnID: uuid.NewString()})
	})
}

// stopTimer cancels the reconnect timer if it is still id. c.mu must be held.
func (c *Client) stopTimer(id uint64) {
	if c.timer == nil || c.timerID != id {
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.timerID = 0
}
