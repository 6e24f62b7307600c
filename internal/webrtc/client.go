package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
)

// Flow control thresholds for the outgoing data channel
const (
	highWater = 1 << 20
	lowWater  = 256 << 10
)

// ErrChannelClosed is returned by Write after the data channel closed
var ErrChannelClosed = errors.New("webrtc: data channel closed")

// Channel is the sender side of a data channel to a receiver
type Channel struct {
	peerConn *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	drained  chan struct{}
	closed   chan struct{}
}

// Dial negotiates a data channel with the receiver's offer endpoint and
// waits until it is open.
func Dial(ctx context.Context, offerURL string, stunServers []string) (*Channel, error) {
	peerConn, err := newAPI().NewPeerConnection(iceConfig(stunServers))
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ordered := true
	dc, err := peerConn.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	c := &Channel{
		peerConn: peerConn,
		dc:       dc,
		drained:  make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	dc.OnClose(func() {
		select {
		case <-c.closed:
		default:
			close(c.closed)
		}
	})
	dc.SetBufferedAmountLowThreshold(lowWater)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drained <- struct{}{}:
		default:
		}
	})

	if err := c.negotiate(ctx, offerURL); err != nil {
		peerConn.Close()
		return nil, err
	}

	select {
	case <-opened:
	case <-ctx.Done():
		peerConn.Close()
		return nil, ctx.Err()
	}

	logger.Info("WebRTC", "Data channel to %s open", offerURL)
	return c, nil
}

func (c *Channel) negotiate(ctx context.Context, offerURL string) error {
	offer, err := c.peerConn.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.peerConn)
	if err := c.peerConn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	body, err := json.Marshal(c.peerConn.LocalDescription())
	if err != nil {
		return fmt.Errorf("failed to marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, offerURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()

	answerJSON, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("offer rejected: %s: %s", resp.Status, bytes.TrimSpace(answerJSON))
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(answerJSON, &answer); err != nil {
		return fmt.Errorf("failed to parse answer: %w", err)
	}
	if err := c.peerConn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// Write sends p as one binary message, waiting while too much is queued
func (c *Channel) Write(ctx context.Context, p []byte) error {
	for c.dc.BufferedAmount() > highWater {
		select {
		case <-c.drained:
		case <-c.closed:
			return ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	return c.dc.Send(p)
}

// Close tears down the peer connection
func (c *Channel) Close() error {
	return c.peerConn.Close()
}
