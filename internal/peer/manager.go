package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sketchdeck/peerlink/internal/config"
	"github.com/sketchdeck/peerlink/internal/signal"
)

// Config configures a Manager. RelayURL is the HTTP(S) base of the relay
// deployment; everything else has workable defaults.
type Config struct {
	RelayURL string

	// Query carries relay admission credentials (apiKey/token), if any.
	Query url.Values

	// RequestedID asks the relay for a specific identifier. Normally left
	// empty so the relay assigns a fresh join code.
	RequestedID string

	// HandshakeTimeout bounds a connect attempt. Zero means the default.
	HandshakeTimeout time.Duration

	ICEServers []webrtc.ICEServer

	Logger *slog.Logger

	// Dial overrides the relay transport. Tests use this to drive the state
	// machine without a network.
	Dial func(ctx context.Context) (Signaler, error)
}

// Manager owns one client session: a local identifier registered at the
// relay and at most one outstanding or established direct connection.
type Manager struct {
	cfg Config
	log *slog.Logger
	api *webrtc.API

	state   atomic.Int32
	localID atomic.Value // string

	events  chan any
	changes chan StateChange

	sig Signaler

	started  atomic.Bool
	closed   chan struct{}
	loopDone chan struct{}
	closeOne sync.Once

	// Loop-owned. Only the run goroutine touches these.
	epoch     uint64
	attempt   *attempt
	sigClosed bool
}

// attempt tracks one handshake, active or established. The epoch stamps
// every event the attempt's callbacks produce; events from a superseded or
// abandoned attempt are discarded by the loop.
type attempt struct {
	epoch     uint64
	remoteID  string
	initiator bool
	pc        *webrtc.PeerConnection
	timer     *time.Timer
	result    chan error

	remoteSet bool
	pending   []webrtc.ICECandidateInit
	connected bool
}

// Internal events. Post-only from callbacks; consumed by run.
type (
	connectCmd struct {
		remoteID string
		reply    chan connectReply
	}
	connectReply struct {
		result <-chan error
		err    error
	}
	signalEvent          struct{ msg signal.Message }
	timeoutEvent         struct{ epoch uint64 }
	channelOpenEvent     struct{ epoch uint64 }
	channelDownEvent     struct{ epoch uint64 }
	transportClosedEvent struct{}
)

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = config.DefaultHandshakeTimeout
	}
	if cfg.Dial == nil {
		if cfg.RelayURL == "" {
			return nil, fmt.Errorf("peer: relay url is required")
		}
		relayURL, query, logger := cfg.RelayURL, cfg.Query, cfg.Logger
		cfg.Dial = func(ctx context.Context) (Signaler, error) {
			return DialRelay(ctx, relayURL, query, logger)
		}
	}

	api, err := newAPI(cfg.Logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		api:      api,
		events:   make(chan any, 64),
		changes:  make(chan StateChange, 16),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	m.localID.Store("")
	return m, nil
}

// Start dials the relay and requests registration. The transition to Ready
// (or Failed, on a registration error) arrives asynchronously on Events.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("peer: manager already started")
	}
	m.setState(StateInitializing, nil)

	sig, err := m.cfg.Dial(ctx)
	if err != nil {
		m.setState(StateFailed, err)
		close(m.loopDone)
		return err
	}
	m.sig = sig

	reg := signal.Message{Type: signal.TypeRegister}
	if m.cfg.RequestedID != "" {
		reg.Payload = signal.MustPayload(signal.RegisterPayload{ID: m.cfg.RequestedID})
	}
	if err := sig.Send(reg); err != nil {
		_ = sig.Close()
		m.setState(StateFailed, err)
		close(m.loopDone)
		return err
	}

	go m.pump()
	go m.run()
	return nil
}

// Connect starts a handshake toward remoteID. The returned channel yields
// the attempt's terminal result: nil once the direct channel is open, or
// one of the Err values from this package. The synchronous error covers
// immediate rejections only.
func (m *Manager) Connect(remoteID string) (<-chan error, error) {
	if remoteID == "" {
		return nil, ErrEmptyRemoteID
	}

	cmd := connectCmd{remoteID: remoteID, reply: make(chan connectReply, 1)}
	select {
	case m.events <- cmd:
	case <-m.closed:
		return nil, ErrClosed
	}

	select {
	case r := <-cmd.reply:
		return r.result, r.err
	case <-m.closed:
		return nil, ErrClosed
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// LocalID returns the identifier the relay assigned, or "" before Ready.
func (m *Manager) LocalID() string { return m.localID.Load().(string) }

// Initialized reports whether registration completed for this session.
func (m *Manager) Initialized() bool {
	switch m.State() {
	case StateReady, StateConnecting, StateConnected:
		return true
	}
	return false
}

// Connected reports whether a direct channel is currently established.
func (m *Manager) Connected() bool { return m.State() == StateConnected }

// Events yields state transitions. The channel is buffered; a slow consumer
// loses intermediate transitions, never the ability to read current state.
func (m *Manager) Events() <-chan StateChange { return m.changes }

// Close tears down the session: any outstanding attempt fails with ErrClosed
// and the signaling connection is closed.
func (m *Manager) Close() error {
	m.closeOne.Do(func() { close(m.closed) })
	if m.started.Load() {
		<-m.loopDone
	}
	return nil
}

func (m *Manager) setState(to State, err error) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	if err != nil {
		m.log.Info("state transition", "from", from, "to", to, "err", err)
	} else {
		m.log.Debug("state transition", "from", from, "to", to)
	}
	select {
	case m.changes <- StateChange{From: from, To: to, Err: err}:
	default:
	}
}

func (m *Manager) post(ev any) {
	select {
	case m.events <- ev:
	case <-m.closed:
	}
}

// pump moves inbound signaling into the event loop.
func (m *Manager) pump() {
	for {
		select {
		case msg, ok := <-m.sig.Messages():
			if !ok {
				m.post(transportClosedEvent{})
				return
			}
			m.post(signalEvent{msg})
		case <-m.sig.Done():
			// Drain anything decoded before the transport died.
			for {
				select {
				case msg := <-m.sig.Messages():
					m.post(signalEvent{msg})
				default:
					m.post(transportClosedEvent{})
					return
				}
			}
		case <-m.closed:
			return
		}
	}
}

func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.closed:
			m.teardown()
			return
		case ev := <-m.events:
			switch ev := ev.(type) {
			case connectCmd:
				m.handleConnect(ev)
			case signalEvent:
				m.handleSignal(ev.msg)
			case timeoutEvent:
				if m.attempt != nil && m.attempt.epoch == ev.epoch && !m.attempt.connected {
					m.failAttempt(ErrHandshakeTimeout, StateFailed)
				}
			case channelOpenEvent:
				m.handleChannelOpen(ev.epoch)
			case channelDownEvent:
				m.handleChannelDown(ev.epoch)
			case transportClosedEvent:
				m.handleTransportClosed()
			}
		}
	}
}

func (m *Manager) teardown() {
	if m.attempt != nil {
		a := m.attempt
		m.attempt = nil
		if a.timer != nil {
			a.timer.Stop()
		}
		go func() { _ = a.pc.Close() }()
		if !a.connected {
			a.result <- ErrClosed
		}
	}
	if m.sig != nil {
		_ = m.sig.Close()
	}
}

func (m *Manager) handleConnect(cmd connectCmd) {
	if m.attempt != nil {
		cmd.reply <- connectReply{err: ErrAttemptInProgress}
		return
	}
	if m.sigClosed {
		cmd.reply <- connectReply{err: ErrSignalingClosed}
		return
	}
	switch m.State() {
	case StateReady, StateFailed:
		if m.LocalID() == "" {
			cmd.reply <- connectReply{err: ErrNotInitialized}
			return
		}
	default:
		cmd.reply <- connectReply{err: ErrNotInitialized}
		return
	}

	result, err := m.startInitiatorAttempt(cmd.remoteID)
	cmd.reply <- connectReply{result: result, err: err}
}

func (m *Manager) startInitiatorAttempt(remoteID string) (<-chan error, error) {
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("peer: create peer connection: %w", err)
	}

	m.epoch++
	a := &attempt{
		epoch:     m.epoch,
		remoteID:  remoteID,
		initiator: true,
		pc:        pc,
		result:    make(chan error, 1),
	}

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("peer: create data channel: %w", err)
	}
	m.wireAttempt(a, pc)
	m.wireDataChannel(a.epoch, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("peer: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("peer: set local description: %w", err)
	}
	if err := m.sig.Send(signal.Message{
		Type:    signal.TypeOffer,
		To:      remoteID,
		Payload: signal.MustPayload(offer),
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	m.armTimeout(a)
	m.attempt = a
	m.setState(StateConnecting, nil)
	m.log.Info("handshake started", "remote_id", remoteID)
	return a.result, nil
}

// startAnswererAttempt reacts to an inbound offer while Ready.
func (m *Manager) startAnswererAttempt(from string, offer webrtc.SessionDescription) {
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		m.rejectOffer(from, "cannot create peer connection")
		return
	}

	m.epoch++
	a := &attempt{
		epoch:     m.epoch,
		remoteID:  from,
		pc:        pc,
		result:    make(chan error, 1),
		remoteSet: true,
	}

	epoch := a.epoch
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			_ = dc.Close()
			return
		}
		m.wireDataChannel(epoch, dc)
	})
	m.wireAttempt(a, pc)

	fail := func(step string, err error) {
		_ = pc.Close()
		m.rejectOffer(from, step)
		m.log.Warn("answering offer failed", "remote_id", from, "step", step, "err", err)
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		fail("invalid offer", err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		fail("cannot create answer", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		fail("cannot apply answer", err)
		return
	}
	if err := m.sig.Send(signal.Message{
		Type:    signal.TypeAnswer,
		To:      from,
		Payload: signal.MustPayload(answer),
	}); err != nil {
		_ = pc.Close()
		return
	}

	m.armTimeout(a)
	m.attempt = a
	m.setState(StateConnecting, nil)
	m.log.Info("answering handshake", "remote_id", from)
}

// wireAttempt installs the callbacks shared by both handshake roles.
func (m *Manager) wireAttempt(a *attempt, pc *webrtc.PeerConnection) {
	epoch := a.epoch
	remoteID := a.remoteID

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		err := m.sig.Send(signal.Message{
			Type:    signal.TypeCandidate,
			To:      remoteID,
			Payload: signal.MustPayload(c.ToJSON()),
		})
		if err != nil {
			m.log.Debug("candidate send failed", "remote_id", remoteID, "err", err)
		}
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.post(channelDownEvent{epoch: epoch})
		}
	})
}

func (m *Manager) wireDataChannel(epoch uint64, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		m.post(channelOpenEvent{epoch: epoch})
	})
	dc.OnClose(func() {
		m.post(channelDownEvent{epoch: epoch})
	})
}

func (m *Manager) armTimeout(a *attempt) {
	epoch := a.epoch
	a.timer = time.AfterFunc(m.cfg.HandshakeTimeout, func() {
		m.post(timeoutEvent{epoch: epoch})
	})
}

func (m *Manager) rejectOffer(to string, reason string) {
	err := m.sig.Send(signal.ErrorMessage(to, signal.CodeHandshakeRejected, reason))
	if err != nil {
		m.log.Debug("offer rejection send failed", "remote_id", to, "err", err)
	}
}

func (m *Manager) handleSignal(msg signal.Message) {
	switch msg.Type {
	case signal.TypeRegistered:
		var p signal.RegisteredPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.ID == "" {
			m.setState(StateFailed, fmt.Errorf("peer: invalid registration reply"))
			return
		}
		m.localID.Store(p.ID)
		m.setState(StateReady, nil)
		m.log.Info("registered with relay", "local_id", p.ID)

	case signal.TypeOffer:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &offer); err != nil {
			m.rejectOffer(msg.From, "undecodable offer")
			return
		}
		if m.attempt != nil || m.State() != StateReady {
			// One handshake at a time per identifier. The offerer gets a
			// terminal rejection instead of a silent stall.
			m.rejectOffer(msg.From, "peer is busy")
			return
		}
		m.startAnswererAttempt(msg.From, offer)

	case signal.TypeAnswer:
		a := m.attempt
		if a == nil || !a.initiator || a.remoteSet || msg.From != a.remoteID {
			return
		}
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &answer); err != nil {
			m.failAttempt(ErrHandshakeRejected, StateReady)
			return
		}
		if err := a.pc.SetRemoteDescription(answer); err != nil {
			m.failAttempt(ErrHandshakeRejected, StateReady)
			return
		}
		a.remoteSet = true
		for _, c := range a.pending {
			if err := a.pc.AddICECandidate(c); err != nil {
				m.log.Debug("buffered candidate rejected", "err", err)
			}
		}
		a.pending = nil

	case signal.TypeCandidate:
		a := m.attempt
		if a == nil || msg.From != a.remoteID {
			return
		}
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			m.log.Debug("undecodable candidate", "from", msg.From, "err", err)
			return
		}
		if !a.remoteSet {
			a.pending = append(a.pending, c)
			return
		}
		if err := a.pc.AddICECandidate(c); err != nil {
			m.log.Debug("candidate rejected", "err", err)
		}

	case signal.TypeError:
		m.handleErrorSignal(msg)
	}
}

func (m *Manager) handleErrorSignal(msg signal.Message) {
	switch msg.Code {
	case signal.CodeIdentifierConflict:
		if m.State() == StateInitializing {
			m.setState(StateFailed, ErrIdentifierConflict)
		}
	case signal.CodePeerUnreachable:
		// Fail fast instead of burning the rest of the timeout budget.
		if m.attempt != nil && !m.attempt.connected {
			m.failAttempt(ErrPeerUnreachable, StateReady)
		}
	case signal.CodeHandshakeRejected:
		if m.attempt != nil && !m.attempt.connected && msg.From == m.attempt.remoteID {
			m.failAttempt(ErrHandshakeRejected, StateReady)
		}
	default:
		m.log.Warn("relay reported error", "code", msg.Code, "reason", msg.Reason)
	}
}

func (m *Manager) handleChannelOpen(epoch uint64) {
	a := m.attempt
	if a == nil || a.epoch != epoch || a.connected {
		// A late success from an abandoned attempt. The failure has already
		// been surfaced; flipping back silently is forbidden.
		return
	}
	a.connected = true
	if a.timer != nil {
		a.timer.Stop()
	}
	a.result <- nil
	m.setState(StateConnected, nil)
	m.log.Info("direct channel established", "remote_id", a.remoteID)
}

func (m *Manager) handleChannelDown(epoch uint64) {
	a := m.attempt
	if a == nil || a.epoch != epoch {
		return
	}
	if !a.connected {
		m.failAttempt(ErrHandshakeRejected, StateReady)
		return
	}
	// Established channel went away: become connectable again instead of
	// sticking in Connected.
	m.attempt = nil
	pc := a.pc
	go func() { _ = pc.Close() }()
	m.setState(StateReady, nil)
	m.log.Info("direct channel closed", "remote_id", a.remoteID)
}

func (m *Manager) handleTransportClosed() {
	if m.sigClosed {
		return
	}
	m.sigClosed = true

	if m.attempt != nil && !m.attempt.connected {
		m.failAttempt(ErrSignalingClosed, StateFailed)
		return
	}
	switch m.State() {
	case StateInitializing, StateReady:
		m.setState(StateFailed, ErrSignalingClosed)
	case StateConnected:
		// The direct channel outlives its midwife. Registration is gone, so
		// no further connects, but the session itself keeps flowing.
		m.log.Info("signaling connection closed while connected")
	}
}

func (m *Manager) failAttempt(err error, to State) {
	a := m.attempt
	if a == nil {
		return
	}
	m.attempt = nil
	if a.timer != nil {
		a.timer.Stop()
	}
	pc := a.pc
	go func() { _ = pc.Close() }()
	a.result <- err
	m.setState(to, err)
	m.log.Info("handshake failed", "remote_id", a.remoteID, "err", err)
}
