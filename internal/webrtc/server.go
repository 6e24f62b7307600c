// Package webrtc carries header-framed streams over WebRTC data channels.
// Server answers offers on the receiver; Dial is the sender's side.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
)

// ChannelLabel names the data channel both sides use
const ChannelLabel = "fbstream"

// ByteStream is where a client's messages go, in order
type ByteStream interface {
	Write(ctx context.Context, p []byte) error
	Close()
}

// Opener creates the stream for a new client. drop hangs the client up.
type Opener func(peer string, drop func()) ByteStream

// Client represents a connected WebRTC sender
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	stream ByteStream

	messages atomic.Uint64
	bytes    atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	open       Opener
}

func newAPI() *webrtc.API {
	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	// Sender and receiver often share a host during bring-up
	settingsEngine.SetIncludeLoopbackCandidate(true)

	return webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))
}

func iceConfig(stunServers []string) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	return webrtc.Configuration{ICEServers: iceServers}
}

// NewServer creates a server accepting up to maxClients senders. With no
// STUN servers only host candidates are used.
func NewServer(stunServers []string, maxClients int, open Opener) *Server {
	return &Server{
		clients:    make(map[string]*Client),
		config:     iceConfig(stunServers),
		maxClients: maxClients,
		api:        newAPI(),
		open:       open,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("expected an offer, got %q", offer.Type)
	}

	if n := s.GetClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:       uuid.NewString(),
		peerConn: peerConn,
		ctx:      ctx,
		cancel:   cancel,
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Warn("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		s.attach(client, dc)
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (%s), removing...", client.id, state.String())
			go s.RemoveClient(client.id)
		}
	})

	fail := func(err error) ([]byte, error) {
		cancel()
		peerConn.Close()
		return nil, err
	}

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		return fail(fmt.Errorf("failed to set remote description: %w", err))
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create answer: %w", err))
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("failed to set local description: %w", err))
	}
	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		return fail(fmt.Errorf("no local description available"))
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		return fail(fmt.Errorf("failed to marshal answer: %w", err))
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// attach routes the channel's binary messages into a new stream. pion
// delivers messages of one channel sequentially, so order is kept.
func (s *Server) attach(client *Client, dc *webrtc.DataChannel) {
	stream := s.open("webrtc:"+client.id, func() { go s.RemoveClient(client.id) })

	client.mu.Lock()
	client.stream = stream
	client.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		client.messages.Add(1)
		client.bytes.Add(uint64(len(msg.Data)))
		if err := stream.Write(client.ctx, msg.Data); err != nil {
			logger.Debug("WebRTC", "Client %s: %v", client.id, err)
		}
	})
	dc.OnClose(func() {
		logger.Debug("WebRTC", "Client %s data channel closed", client.id)
		stream.Close()
	})
}

// ServeHTTP accepts a JSON offer by POST and replies with the answer
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offerJSON, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	answerJSON, err := s.HandleOffer(offerJSON)
	if err != nil {
		logger.Warn("WebRTC", "Offer from %s rejected: %v", r.RemoteAddr, err)
		http.Error(w, fmt.Sprintf("Failed to handle offer: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(answerJSON)
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	client.cancel()
	client.mu.Lock()
	if client.stream != nil {
		client.stream.Close()
	}
	client.mu.Unlock()
	client.peerConn.Close()

	logger.Info("WebRTC", "Client %s disconnected (messages: %d, bytes: %d)",
		clientID, client.messages.Load(), client.bytes.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns per-client message counters
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"messages": client.messages.Load(),
			"bytes":    client.bytes.Load(),
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
