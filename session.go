package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/golang/glog"
)

// connection state machine, owned exclusively by the session. Everything
// else reads it through State / IsConnected.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

type SessionSettings struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectDelayCap    time.Duration
	ReconnectJitterMax   time.Duration
	AuthTimeout          time.Duration
	HeartbeatInterval    time.Duration
	// the link counts as stale after this many silent heartbeat intervals
	StaleMultiple     int
	CursorMinInterval time.Duration
	Clock             clock.Clock
	Dial              DialFunc
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectDelayCap:    30 * time.Second,
		ReconnectJitterMax:   1 * time.Second,
		AuthTimeout:          5 * time.Second,
		HeartbeatInterval:    15 * time.Second,
		StaleMultiple:        3,
		CursorMinInterval:    80 * time.Millisecond,
		Clock:                clock.New(),
		Dial:                 NewWebSocketDial(DefaultWebSocketSettings()),
	}
}

// Session is one collaboration connection. It owns the transport handle
// and the connection state; no other component mutates either. Multiple
// independent sessions can coexist, there is no process-wide state.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	token    string
	identity Identity
	settings *SessionSettings
	clk      clock.Clock
	policy   *reconnectPolicy

	acks     *ackTracker
	presence *presenceRegistry
	throttle *cursorThrottle
	fanout   *eventFanout
	applier  *mutationApplier

	mutex            sync.Mutex
	state            ConnectionState
	conn             Conn
	connEpoch        int
	currentCanvasId  string
	everConnected    bool
	reconnectAttempt int
	reconnectTimer   *clock.Timer
	lastInbound      time.Time
	queue            [][]byte
	closed           bool
}

func NewSessionWithDefaults(url string, token string, identity Identity, store EntityStore) *Session {
	return NewSession(url, token, identity, store, DefaultSessionSettings())
}

func NewSession(url string, token string, identity Identity, store EntityStore, settings *SessionSettings) *Session {
	if identity.UserId == "" {
		// default the identity from the credential when possible
		if claims, err := ParseTokenUnverified(token); err == nil {
			identity.UserId = claims.UserId
			if identity.Username == "" {
				identity.Username = claims.Username
			}
		}
	}
	if identity.UserId == "" {
		identity.UserId = NewId().String()
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      url,
		token:    token,
		identity: identity,
		settings: settings,
		clk:      settings.Clock,
		policy: &reconnectPolicy{
			baseDelay: settings.ReconnectBaseDelay,
			delayCap:  settings.ReconnectDelayCap,
			jitterMax: settings.ReconnectJitterMax,
		},
		acks:   newAckTracker(),
		fanout: newEventFanout(),
		state:  StateDisconnected,
	}
	session.presence = newPresenceRegistry(settings.Clock, identity.UserId)
	session.throttle = newCursorThrottle(settings.Clock, settings.CursorMinInterval, session.sendCursorNow)
	session.applier = newMutationApplier(store, session.emit)
	return session
}

func (self *Session) Identity() Identity {
	return self.identity
}

func (self *Session) LocalColor() string {
	return self.presence.LocalColor()
}

func (self *Session) State() ConnectionState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *Session) IsConnected() bool {
	return self.State() == StateConnected
}

func (self *Session) CurrentCanvasId() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.currentCanvasId
}

func (self *Session) RemoteParticipants() []*Participant {
	return self.presence.snapshot()
}

// Subscribe registers an event handler. Delivery is synchronous and in
// subscription order. The returned function unsubscribes.
func (self *Session) Subscribe(callback EventFunction) func() {
	return self.fanout.subscribe(callback)
}

func (self *Session) emit(event *Event) {
	self.fanout.emit(event)
}

// Connect dials the endpoint and completes the auth handshake. It blocks
// until the auth ack, a transport error, the auth timeout, or ctx
// cancellation, whichever settles first. On success queued messages are
// flushed in order and the heartbeat starts.
func (self *Session) Connect(ctx context.Context) error {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return errors.New("session closed")
	}
	switch self.state {
	case StateDisconnected, StateError:
	default:
		state := self.state
		self.mutex.Unlock()
		return fmt.Errorf("connect in state %s", state)
	}
	self.state = StateConnecting
	self.mutex.Unlock()

	var err error
	if glog.V(2) {
		_, err = TraceWithReturnError(fmt.Sprintf("[s]connect %s", self.identity.UserId), func() (struct{}, error) {
			return struct{}{}, self.connect(ctx)
		})
	} else {
		err = self.connect(ctx)
	}
	if err != nil {
		self.mutex.Lock()
		if !self.closed && self.state == StateConnecting {
			self.state = StateError
		}
		self.mutex.Unlock()
		self.emit(&Event{
			Type:   EventConnectionError,
			Reason: err.Error(),
		})
		return err
	}
	return nil
}

// connect performs one dial + auth handshake attempt. Shared by Connect
// and the reconnect path. The caller owns the state on failure.
func (self *Session) connect(ctx context.Context) error {
	conn, err := self.settings.Dial(ctx, self.url)
	if err != nil {
		return err
	}

	authDone := make(chan error, 1)
	settle := func(err error) {
		select {
		case authDone <- err:
		default:
		}
	}

	authId := NewId().String()
	self.acks.register(authId, func(err error) {
		var ackErr *AckError
		if errors.As(err, &ackErr) {
			settle(&AuthError{
				Code:    ackErr.Code,
				Message: ackErr.Message,
			})
		} else {
			settle(err)
		}
	})

	authEnvelope := self.envelope(MessageAuth)
	authEnvelope.Id = authId
	authFrame, err := encodeMessage(&AuthMessage{
		Envelope: authEnvelope,
		Token:    self.token,
	})
	if err != nil {
		conn.Close()
		self.acks.reject(authId, err)
		return err
	}
	if err := conn.WriteMessage(authFrame); err != nil {
		conn.Close()
		self.acks.reject(authId, err)
		return err
	}

	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		conn.Close()
		self.acks.reject(authId, errors.New("session closed"))
		return errors.New("session closed")
	}
	self.connEpoch += 1
	epoch := self.connEpoch
	self.conn = conn
	self.lastInbound = self.clk.Now()
	self.mutex.Unlock()

	go self.readLoop(conn, epoch)

	authTimeout := self.clk.Timer(self.settings.AuthTimeout)
	defer authTimeout.Stop()
	select {
	case err = <-authDone:
	case <-authTimeout.C:
		err = errors.New("auth timeout")
		self.acks.reject(authId, err)
	case <-ctx.Done():
		err = ctx.Err()
		self.acks.reject(authId, err)
	case <-self.ctx.Done():
		err = errors.New("session closed")
		self.acks.reject(authId, err)
	}
	if err != nil {
		self.teardownConn(epoch)
		return err
	}

	self.mutex.Lock()
	if self.closed || self.connEpoch != epoch {
		self.mutex.Unlock()
		self.teardownConn(epoch)
		return errors.New("connection replaced")
	}
	self.state = StateConnected
	self.everConnected = true
	self.reconnectAttempt = 0
	canvasId := self.currentCanvasId
	queue := self.queue
	self.queue = nil
	self.mutex.Unlock()

	// the server does not preserve room membership across transport
	// reconnects. rejoin before flushing the queue so queued broadcasts
	// land inside the room.
	if canvasId != "" {
		if frame, err := encodeMessage(&JoinMessage{Envelope: self.canvasEnvelope(MessageJoin, canvasId)}); err == nil {
			self.writeToConn(epoch, frame)
		}
	}
	for _, frame := range queue {
		self.writeToConn(epoch, frame)
	}

	self.startHeartbeat(epoch)
	glog.V(1).Infof("[s]connected %s\n", self.identity.UserId)
	self.emit(&Event{Type: EventConnected})
	return nil
}

func (self *Session) readLoop(conn Conn, epoch int) {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			self.handleConnClosed(epoch, err)
			return
		}

		self.mutex.Lock()
		if self.connEpoch != epoch {
			self.mutex.Unlock()
			return
		}
		self.lastInbound = self.clk.Now()
		self.mutex.Unlock()

		self.route(frame)
	}
}

// handleConnClosed reacts to an unrequested transport close. While
// connected with auto reconnect enabled this starts the retry schedule;
// during the handshake it settles the pending auth instead.
func (self *Session) handleConnClosed(epoch int, err error) {
	self.mutex.Lock()
	if self.closed || self.connEpoch != epoch {
		self.mutex.Unlock()
		return
	}
	if self.state != StateConnected {
		// handshake in flight. settle it through the ack tracker
		self.mutex.Unlock()
		self.acks.rejectAll(fmt.Errorf("connection closed: %w", err))
		return
	}

	if self.conn != nil {
		self.conn.Close()
		self.conn = nil
	}
	self.connEpoch += 1
	canReconnect := self.settings.AutoReconnect && self.everConnected
	if canReconnect {
		self.state = StateReconnecting
	} else {
		self.state = StateError
	}
	self.mutex.Unlock()

	glog.Infof("[s]connection closed %s = %s\n", self.identity.UserId, err)
	// participants are scoped to the live connection
	self.presence.clear()
	self.acks.rejectAll(fmt.Errorf("connection closed: %w", err))

	if canReconnect {
		self.emit(&Event{
			Type:   EventReconnecting,
			Reason: err.Error(),
		})
		self.scheduleReconnect()
	} else {
		self.emit(&Event{
			Type:   EventConnectionError,
			Reason: err.Error(),
		})
	}
}

func (self *Session) scheduleReconnect() {
	self.mutex.Lock()
	if self.closed || self.reconnectTimer != nil {
		self.mutex.Unlock()
		return
	}
	self.reconnectAttempt += 1
	attempt := self.reconnectAttempt
	if self.settings.MaxReconnectAttempts < attempt {
		self.state = StateError
		self.mutex.Unlock()
		glog.Infof("[s]max reconnect attempts reached %s\n", self.identity.UserId)
		self.emit(&Event{
			Type:    EventConnectionError,
			Reason:  "max reconnect attempts reached",
			Attempt: attempt - 1,
		})
		return
	}
	delay := self.policy.delay(attempt)
	glog.V(1).Infof("[s]reconnect attempt %d in %s\n", attempt, delay)
	self.reconnectTimer = self.clk.AfterFunc(delay, func() {
		self.retryConnect(attempt)
	})
	self.mutex.Unlock()
}

func (self *Session) retryConnect(attempt int) {
	self.mutex.Lock()
	self.reconnectTimer = nil
	if self.closed || self.state != StateReconnecting {
		self.mutex.Unlock()
		return
	}
	self.state = StateConnecting
	self.mutex.Unlock()

	err := self.connect(self.ctx)
	if err == nil {
		return
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		// a bad credential does not improve with retries
		self.mutex.Lock()
		if !self.closed {
			self.state = StateError
		}
		self.mutex.Unlock()
		self.emit(&Event{
			Type:   EventConnectionError,
			Reason: err.Error(),
		})
		return
	}

	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return
	}
	self.state = StateReconnecting
	self.mutex.Unlock()
	glog.V(1).Infof("[s]reconnect attempt %d failed = %s\n", attempt, err)
	self.scheduleReconnect()
}

func (self *Session) teardownConn(epoch int) {
	self.mutex.Lock()
	var conn Conn
	if self.connEpoch == epoch && self.conn != nil {
		conn = self.conn
		self.conn = nil
		self.connEpoch += 1
	}
	self.mutex.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// heartbeat does not generate wire traffic, the websocket layer already
// pings. It watches for silent staleness and surfaces it to subscribers.
func (self *Session) startHeartbeat(epoch int) {
	if self.settings.HeartbeatInterval <= 0 {
		return
	}
	ticker := self.clk.Ticker(self.settings.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-self.ctx.Done():
				return
			case <-ticker.C:
			}

			self.mutex.Lock()
			if self.closed || self.connEpoch != epoch || self.state != StateConnected {
				self.mutex.Unlock()
				return
			}
			silent := self.clk.Now().Sub(self.lastInbound)
			self.mutex.Unlock()

			staleAfter := time.Duration(self.settings.StaleMultiple) * self.settings.HeartbeatInterval
			if 0 < staleAfter && staleAfter <= silent {
				glog.Infof("[s]link silent for %s\n", silent)
				self.emit(&Event{
					Type:   EventConnectionStale,
					Reason: fmt.Sprintf("no inbound traffic for %s", silent),
				})
			}
		}
	}()
}

// JoinCanvas enters a room. If the session is already in a different room
// it leaves first. The join itself is fire and forget by protocol design;
// the returned error covers the local send only.
func (self *Session) JoinCanvas(canvasId string) error {
	if canvasId == "" {
		return errors.New("missing canvas id")
	}

	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return errors.New("session closed")
	}
	current := self.currentCanvasId
	self.mutex.Unlock()

	if current == canvasId {
		return nil
	}
	if current != "" {
		if err := self.LeaveCanvas(); err != nil {
			return err
		}
	}

	self.mutex.Lock()
	self.currentCanvasId = canvasId
	self.mutex.Unlock()

	frame, err := encodeMessage(&JoinMessage{Envelope: self.canvasEnvelope(MessageJoin, canvasId)})
	if err != nil {
		return err
	}
	if err := self.sendFrame(frame); err != nil {
		return err
	}
	self.emit(&Event{
		Type:     EventCanvasJoined,
		CanvasId: canvasId,
	})
	return nil
}

// LeaveCanvas exits the current room and clears presence: remote
// participants are scoped to the room and are invalid once it is left.
func (self *Session) LeaveCanvas() error {
	self.mutex.Lock()
	canvasId := self.currentCanvasId
	self.currentCanvasId = ""
	self.mutex.Unlock()

	if canvasId == "" {
		return nil
	}
	self.presence.clear()

	frame, err := encodeMessage(&LeaveMessage{Envelope: self.canvasEnvelope(MessageLeave, canvasId)})
	if err != nil {
		return err
	}
	if err := self.sendFrame(frame); err != nil {
		return err
	}
	self.emit(&Event{
		Type:     EventCanvasLeft,
		CanvasId: canvasId,
	})
	return nil
}

// Close is the clean shutdown: no reconnect survives it, every pending
// ack settles, the throttle flush is cancelled, presence is cleared and
// the queue is dropped.
func (self *Session) Close() {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return
	}
	self.closed = true
	self.state = StateDisconnected
	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
	conn := self.conn
	self.conn = nil
	self.connEpoch += 1
	self.queue = nil
	self.mutex.Unlock()

	self.cancel()
	self.throttle.Stop()
	self.acks.rejectAll(errors.New("session closed"))
	self.presence.clear()
	if conn != nil {
		conn.Close()
	}
	glog.V(1).Infof("[s]closed %s\n", self.identity.UserId)
	self.emit(&Event{Type: EventDisconnected})
}

// send surface

// SendWidgetCreate broadcasts a structural create. The optional callback
// settles when the server acks or the connection tears down.
func (self *Session) SendWidgetCreate(widget map[string]any, callback AckFunction) error {
	envelope := self.ackedEnvelope(MessageWidgetCreate)
	return self.sendWithAck(&WidgetCreateMessage{
		Envelope: envelope,
		Widget:   widget,
	}, envelope.Id, callback)
}

func (self *Session) SendWidgetUpdate(widgetId string, changes map[string]any, callback AckFunction) error {
	envelope := self.ackedEnvelope(MessageWidgetUpdate)
	return self.sendWithAck(&WidgetUpdateMessage{
		Envelope: envelope,
		WidgetId: widgetId,
		Changes:  changes,
	}, envelope.Id, callback)
}

func (self *Session) SendWidgetDelete(widgetId string, callback AckFunction) error {
	envelope := self.ackedEnvelope(MessageWidgetDelete)
	return self.sendWithAck(&WidgetDeleteMessage{
		Envelope: envelope,
		WidgetId: widgetId,
	}, envelope.Id, callback)
}

// positional classes are fire and forget

func (self *Session) SendWidgetMove(widgetId string, position Position) error {
	frame, err := encodeMessage(&WidgetMoveMessage{
		Envelope: self.envelope(MessageWidgetMove),
		WidgetId: widgetId,
		Position: position,
	})
	if err != nil {
		return err
	}
	return self.sendFrame(frame)
}

func (self *Session) SendWidgetResize(widgetId string, dimensions Dimensions) error {
	frame, err := encodeMessage(&WidgetResizeMessage{
		Envelope:   self.envelope(MessageWidgetResize),
		WidgetId:   widgetId,
		Dimensions: dimensions,
	})
	if err != nil {
		return err
	}
	return self.sendFrame(frame)
}

func (self *Session) SendWidgetState(widgetId string, state map[string]any) error {
	frame, err := encodeMessage(&WidgetStateMessage{
		Envelope: self.envelope(MessageWidgetState),
		WidgetId: widgetId,
		State:    state,
	})
	if err != nil {
		return err
	}
	return self.sendFrame(frame)
}

// SendCursor is throttled: at most one wire send per CursorMinInterval,
// and the last reported position always eventually reaches the wire.
func (self *Session) SendCursor(position Position) {
	self.throttle.Update(position)
}

func (self *Session) SendSelection(selectedIds []string) error {
	frame, err := encodeMessage(&SelectionChangeMessage{
		Envelope:    self.envelope(MessageSelectionChange),
		SelectedIds: selectedIds,
	})
	if err != nil {
		return err
	}
	return self.sendFrame(frame)
}

func (self *Session) sendCursorNow(position Position) {
	frame, err := encodeMessage(&CursorMoveMessage{
		Envelope: self.envelope(MessageCursorMove),
		Position: position,
	})
	if err != nil {
		return
	}
	// a cursor position is stale the moment the connection drops. drop
	// instead of queueing
	self.sendEphemeral(frame)
}

func (self *Session) sendWithAck(message any, messageId string, callback AckFunction) error {
	frame, err := encodeMessage(message)
	if err != nil {
		return err
	}

	safe := func(err error) {
		if callback != nil {
			HandleError(func() {
				callback(err)
			})
		}
	}
	self.acks.register(messageId, safe)
	if err := self.sendFrame(frame); err != nil {
		self.acks.reject(messageId, err)
		return err
	}
	return nil
}

// sendFrame writes to the open transport or, when the transport is not
// open, appends to the outbound queue. The queue flushes strictly in
// enqueue order on the next connect. Safe to call from event handlers.
func (self *Session) sendFrame(frame []byte) error {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return errors.New("session closed")
	}
	if self.state == StateConnected && self.conn != nil {
		conn := self.conn
		// write under the lock to preserve call order on the wire
		err := conn.WriteMessage(frame)
		self.mutex.Unlock()
		if err != nil {
			glog.Infof("[s]write error = %s\n", err)
			// the read loop notices the broken transport and handles it
		}
		return err
	}
	self.queue = append(self.queue, frame)
	self.mutex.Unlock()
	return nil
}

func (self *Session) sendEphemeral(frame []byte) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.closed || self.state != StateConnected || self.conn == nil {
		return
	}
	if err := self.conn.WriteMessage(frame); err != nil {
		glog.V(1).Infof("[s]drop ephemeral = %s\n", err)
	}
}

// writeToConn writes directly to the connection of the given epoch,
// bypassing the queue. Used for the reconnect handshake and queue flush.
func (self *Session) writeToConn(epoch int, frame []byte) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.connEpoch != epoch || self.conn == nil {
		return
	}
	if err := self.conn.WriteMessage(frame); err != nil {
		glog.Infof("[s]write error = %s\n", err)
	}
}

func (self *Session) ackedEnvelope(messageType string) Envelope {
	envelope := self.envelope(messageType)
	envelope.Id = NewId().String()
	return envelope
}

func (self *Session) envelope(messageType string) Envelope {
	return Envelope{
		Type:      messageType,
		Timestamp: self.clk.Now().UnixMilli(),
		CanvasId:  self.CurrentCanvasId(),
		UserId:    self.identity.UserId,
	}
}

func (self *Session) canvasEnvelope(messageType string, canvasId string) Envelope {
	return Envelope{
		Type:      messageType,
		Timestamp: self.clk.Now().UnixMilli(),
		CanvasId:  canvasId,
		UserId:    self.identity.UserId,
	}
}
