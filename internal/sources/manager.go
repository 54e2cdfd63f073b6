package sources

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vigilo/vigilo/internal/broadcast"
	"github.com/vigilo/vigilo/internal/database"
	"github.com/vigilo/vigilo/internal/models"
)

// ConnState is the connection state of one source
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFatalError   ConnState = "fatal_error"
)

// Backoff bounds for stream reconnection
const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// TriggerSink receives normalized triggers that passed the source
// filter. Enqueue must not block.
type TriggerSink interface {
	Enqueue(trigger models.DetectionTrigger)
}

// Publisher fans out realtime status messages
type Publisher interface {
	Publish(messageType broadcast.MessageType, payload interface{})
}

// StatusPayload is the realtime message for a source state change
type StatusPayload struct {
	SourceID   string    `json:"source_id"`
	SourceName string    `json:"source_name"`
	State      ConnState `json:"state"`
	Timestamp  time.Time `json:"timestamp"`
}

// sourceConn is the state held for one managed source
type sourceConn struct {
	source database.Source
	state  ConnState
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager maintains one resilient streaming connection per source.
// Per-source state lives in an owned map behind the mutex; the manager
// instance is passed to its collaborators explicitly.
type Manager struct {
	mu        sync.Mutex
	conns     map[string]*sourceConn
	sink      TriggerSink
	publisher Publisher
	dialer    Dialer
	wg        sync.WaitGroup
}

// NewManager creates a connection manager feeding the given sink
func NewManager(sink TriggerSink, publisher Publisher) *Manager {
	return &Manager{
		conns:     make(map[string]*sourceConn),
		sink:      sink,
		publisher: publisher,
		dialer:    newWSDialer(),
	}
}

// Connect starts the connection loop for a source. It is an error to
// connect a source that is already managed.
func (m *Manager) Connect(ctx context.Context, source database.Source) error {
	m.mu.Lock()
	if _, exists := m.conns[source.UUID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("source %s is already connected", source.UUID)
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := &sourceConn{
		source: source,
		state:  StateDisconnected,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.conns[source.UUID] = conn
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(conn.done)
		m.run(connCtx, conn)
	}()

	return nil
}

// Disconnect stops the connection loop for a source and waits for it
// to wind down
func (m *Manager) Disconnect(sourceUUID string) error {
	m.mu.Lock()
	conn, exists := m.conns[sourceUUID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("source %s is not connected", sourceUUID)
	}
	delete(m.conns, sourceUUID)
	m.mu.Unlock()

	conn.cancel()
	<-conn.done
	m.setState(conn, StateDisconnected)
	return nil
}

// Close stops all connection loops
func (m *Manager) Close() {
	m.mu.Lock()
	for uuid, conn := range m.conns {
		conn.cancel()
		delete(m.conns, uuid)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// State returns the connection state of a source
func (m *Manager) State(sourceUUID string) ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[sourceUUID]; ok {
		return conn.state
	}
	return StateDisconnected
}

// States returns a snapshot of all managed source states
func (m *Manager) States() map[string]ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]ConnState, len(m.conns))
	for uuid, conn := range m.conns {
		states[uuid] = conn.state
	}
	return states
}

// run is the per-source connection loop: connect, read until failure,
// reconnect with exponential backoff. Authentication failures are
// fatal for the source until it is reconfigured externally.
func (m *Manager) run(ctx context.Context, conn *sourceConn) {
	backoff := initialBackoff
	firstAttempt := true

	for {
		if ctx.Err() != nil {
			return
		}

		if firstAttempt {
			m.setState(conn, StateConnecting)
		} else {
			m.setState(conn, StateReconnecting)
		}

		stream, err := m.dialer.Dial(ctx, conn.source.StreamURL)
		if err != nil {
			if errors.Is(err, ErrAuthentication) {
				log.Printf("Source %s: authentication failed, giving up: %v", conn.source.Name, err)
				m.setState(conn, StateFatalError)
				return
			}
			if ctx.Err() != nil {
				return
			}

			log.Printf("Source %s: connect failed: %v, retrying in %v", conn.source.Name, err, backoff)
			firstAttempt = false
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		m.setState(conn, StateConnected)
		backoff = initialBackoff
		firstAttempt = false
		log.Printf("Source %s: stream connected", conn.source.Name)

		m.readLoop(ctx, conn, stream)
		stream.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("Source %s: stream lost", conn.source.Name)
	}
}

// readLoop consumes triggers until the stream fails or the context is
// cancelled
func (m *Manager) readLoop(ctx context.Context, conn *sourceConn, stream StreamConn) {
	// Unblock the read when the context goes away
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stop:
		}
	}()

	for {
		msg, err := stream.ReadTrigger()
		if err != nil {
			return
		}
		m.handleTrigger(conn, msg)
	}
}

// nextBackoff doubles the reconnect delay up to the cap
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// handleTrigger normalizes and filters one inbound trigger. Triggers
// outside the source's category filter are discarded here, before the
// queue.
func (m *Manager) handleTrigger(conn *sourceConn, msg *TriggerMessage) {
	if !models.ValidCategory(msg.Category) {
		log.Printf("Source %s: dropping trigger with unknown category %q", conn.source.Name, msg.Category)
		return
	}
	if !conn.source.AcceptsCategory(msg.Category) {
		return
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	trigger := models.DetectionTrigger{
		Category:   models.Category(msg.Category),
		SourceUUID: conn.source.UUID,
		SourceName: conn.source.Name,
		Timestamp:  timestamp,
	}

	// Doorbell rings get an immediate realtime ping, ahead of the
	// described event
	if trigger.Category == models.CategoryDoorbell {
		m.publisher.Publish(broadcast.MessageTypeDoorbellRing, StatusPayload{
			SourceID:   conn.source.UUID,
			SourceName: conn.source.Name,
			State:      StateConnected,
			Timestamp:  timestamp,
		})
	}

	m.sink.Enqueue(trigger)
}

// setState records a state transition and emits the status message
// (best-effort, never blocking)
func (m *Manager) setState(conn *sourceConn, state ConnState) {
	m.mu.Lock()
	if conn.state == state {
		m.mu.Unlock()
		return
	}
	conn.state = state
	m.mu.Unlock()

	m.publisher.Publish(broadcast.MessageTypeSourceStatus, StatusPayload{
		SourceID:   conn.source.UUID,
		SourceName: conn.source.Name,
		State:      state,
		Timestamp:  time.Now(),
	})
}
