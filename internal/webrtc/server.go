// Package webrtc pushes session events to dashboard peers over a WebRTC
// data channel, for clients that cannot hold an SSE connection open.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/events"
	"github.com/KG-NINJA/YOLOdemo/internal/logger"
	"github.com/KG-NINJA/YOLOdemo/internal/metrics"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
)

const (
	// ChannelLabel and ChannelID describe the pre-negotiated event channel.
	// Browsers open it with createDataChannel("events", {negotiated: true, id: 0}).
	ChannelLabel = "events"
	ChannelID    = 0

	sendBuffer = 32
)

// ErrMaxClients is returned when the peer limit is reached.
var ErrMaxClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC peer
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	send      func(text string) error
	sendChan  chan *events.SerializedEvent
	closeChan chan struct{}
	open      atomic.Bool

	eventsSent    atomic.Uint64
	eventsDropped atomic.Uint64
}

// Server manages WebRTC peers and implements session.Observer and alert.Sink.
type Server struct {
	session.NopObserver

	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
	nextID     atomic.Uint64
}

// NewServer creates a new WebRTC server. With no STUN servers only host
// candidates are gathered, which is enough on a LAN.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if maxClients <= 0 {
		maxClients = 4
	}
	if m == nil {
		m = metrics.New()
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("failed to parse offer: expected an offer with SDP")
	}

	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	negotiated := true
	id := uint16(ChannelID)
	ordered := true
	channel, err := peerConn.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
		Ordered:    &ordered,
	})
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	client := s.newClient(peerConn, channel.SendText)
	channel.OnOpen(func() {
		client.open.Store(true)
		logger.Info("WebRTC", "Client %s event channel open", client.id)
	})
	channel.OnClose(func() {
		client.open.Store(false)
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.addClient(client)
	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

func (s *Server) newClient(pc *webrtc.PeerConnection, send func(string) error) *Client {
	return &Client{
		id:        fmt.Sprintf("client-%d", s.nextID.Add(1)),
		peerConn:  pc,
		send:      send,
		sendChan:  make(chan *events.SerializedEvent, sendBuffer),
		closeChan: make(chan struct{}),
	}
}

func (s *Server) addClient(client *Client) {
	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.metrics.ActivePeers.Store(uint64(len(s.clients)))
	s.clientsMu.Unlock()
	s.metrics.TotalPeers.Add(1)

	go s.sendEvents(client)
}

// Broadcast queues event for every peer; a full queue drops it.
func (s *Server) Broadcast(event *events.SerializedEvent) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.sendChan <- event:
		default:
			client.eventsDropped.Add(1)
		}
	}
}

// sendEvents writes queued events to one peer as JSON text messages.
func (s *Server) sendEvents(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case event := <-client.sendChan:
			if !client.open.Load() {
				client.eventsDropped.Add(1)
				continue
			}
			if err := client.send(string(event.JSONData)); err != nil {
				logger.Warn("WebRTC", "Error sending %s event to client %s: %v", event.Topic, client.id, err)
				client.eventsDropped.Add(1)
				continue
			}
			client.eventsSent.Add(1)
		}
	}
}

func (s *Server) publish(encode func() (*events.SerializedEvent, error)) {
	if s.ClientCount() == 0 {
		return
	}
	ev, err := encode()
	if err != nil {
		logger.Error("WebRTC", "Encode failed: %v", err)
		return
	}
	s.Broadcast(ev)
}

// OnDetections pushes frames that produced actionable detections.
func (s *Server) OnDetections(e session.DetectionEvent) {
	if len(e.Actionable) == 0 {
		return
	}
	s.publish(func() (*events.SerializedEvent, error) { return events.EncodeDetections(e) })
}

// OnTelemetry pushes telemetry snapshots.
func (s *Server) OnTelemetry(snap telemetry.Snapshot) {
	s.publish(func() (*events.SerializedEvent, error) { return events.EncodeTelemetry(snap) })
}

// OnHeartRate pushes available estimates.
func (s *Server) OnHeartRate(e session.HeartEvent) {
	if !e.Available {
		return
	}
	s.publish(func() (*events.SerializedEvent, error) { return events.EncodeHeartRate(e) })
}

// Deliver pushes an alert to every peer.
func (s *Server) Deliver(_ context.Context, a alert.Alert) error {
	s.publish(func() (*events.SerializedEvent, error) { return events.EncodeAlert(a) })
	return nil
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
		s.metrics.ActivePeers.Store(uint64(len(s.clients)))
	}
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	close(client.closeChan)
	if client.peerConn != nil {
		client.peerConn.Close()
	}

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.eventsSent.Load(), client.eventsDropped.Load())
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns stats for all clients
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"events_sent":    client.eventsSent.Load(),
			"events_dropped": client.eventsDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
