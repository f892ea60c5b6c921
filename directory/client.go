// Package directory implements the peer side of the tracker's UDP
// directory protocol: registration, periodic update/heartbeat, and the
// local KnownPeers view a peer uses to plan downloads.
package directory

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/pkg/errors"

	anasync "github.com/anacrolix/sync"

	"github.com/dannyzb/p2pfabric/config"
	"github.com/dannyzb/p2pfabric/wire"
)

// FilesProvider returns the caller's current fileName -> chunk-index
// inventory, in the shape UPDATE/REGISTER sends to the tracker. It's a
// function rather than a direct content.Store reference so this package
// doesn't need to import content.
type FilesProvider func() map[string][]int

// Client is one peer's connection to the tracker: it owns the UDP socket,
// retry/backoff, and the KnownPeers view refreshed by every REGISTER and
// UPDATE reply.
type Client struct {
	conn        *net.UDPConn
	trackerAddr *net.UDPAddr
	peerID      string
	tcpPort     int
	files       FilesProvider
	logger      log.Logger
	metrics     *Metrics
	peers       *KnownPeers

	mu            anasync.Mutex
	lastSuccess   time.Time
	everSucceeded bool

	closing chansync.SetOnce
	wg      sync.WaitGroup
}

// NewClient dials the tracker's UDP address (no data is sent yet; call
// Register to join the swarm).
func NewClient(trackerAddr, peerID string, tcpPort int, files FilesProvider, logger log.Logger) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", trackerAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve tracker address %s", trackerAddr)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial tracker")
	}
	return &Client{
		conn:        conn,
		trackerAddr: addr,
		peerID:      peerID,
		tcpPort:     tcpPort,
		files:       files,
		logger:      logger,
		metrics:     &Metrics{},
		peers:       NewKnownPeers(),
	}, nil
}

// Metrics exposes this client's counters.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Peers exposes the local KnownPeers view.
func (c *Client) Peers() *KnownPeers { return c.peers }

// Register sends REGISTER and installs the returned peer list.
func (c *Client) Register(ctx context.Context) error {
	resp, err := c.sendWithRetry(ctx, wire.Request{
		Command: wire.CmdRegister,
		PeerID:  c.peerID,
		Port:    c.tcpPort,
		Files:   c.files(),
	})
	if err != nil {
		return err
	}
	c.metrics.Registrations.Add(1)
	c.applyResponse(resp)
	return nil
}

// Update sends UPDATE with the latest inventory.
func (c *Client) Update(ctx context.Context) error {
	resp, err := c.sendWithRetry(ctx, wire.Request{
		Command: wire.CmdUpdate,
		PeerID:  c.peerID,
		Port:    c.tcpPort,
		Files:   c.files(),
	})
	if err != nil {
		return err
	}
	c.metrics.Updates.Add(1)
	c.applyResponse(resp)
	return nil
}

// Heartbeat sends HEARTBEAT, keeping the tracker's last_seen fresh without
// resending the full inventory.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.sendWithRetry(ctx, wire.Request{
		Command: wire.CmdHeartbeat,
		PeerID:  c.peerID,
		Port:    c.tcpPort,
	})
	if err != nil {
		return err
	}
	c.metrics.Heartbeats.Add(1)
	// A HEARTBEAT reply is a bare ACK without a peer list, so KnownPeers is
	// left as it is; only the connectivity timestamp is refreshed.
	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.everSucceeded = true
	c.mu.Unlock()
	return nil
}

// Unregister tells the tracker this peer is leaving. It's best-effort: a
// single attempt, no retry, since the peer is already shutting down.
func (c *Client) Unregister(ctx context.Context) error {
	data, err := wire.EncodeUDP(wire.Request{Command: wire.CmdUnregister, PeerID: c.peerID}, wire.CompressionThreshold)
	if err != nil {
		return errors.Wrap(err, "encode unregister")
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *Client) applyResponse(resp wire.Response) {
	c.peers.Replace(resp.Peers)
	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.everSucceeded = true
	c.mu.Unlock()
}

// sendWithRetry sends req and waits for a reply, retrying up to
// config.MaxRetryAttempts times with linear backoff
// (attempt+1)*0.5 seconds between attempts (spec §4.1).
func (c *Client) sendWithRetry(ctx context.Context, req wire.Request) (wire.Response, error) {
	data, err := wire.EncodeUDP(req, wire.CompressionThreshold)
	if err != nil {
		return wire.Response{}, errors.Wrap(err, "encode request")
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxRetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return wire.Response{}, ctx.Err()
		}
		resp, err := c.roundTrip(data)
		if err == nil {
			c.metrics.MessagesSent.Add(1)
			c.metrics.MessagesReceived.Add(1)
			return resp, nil
		}
		lastErr = err
		c.metrics.FailedAttempts.Add(1)
		c.logger.Levelf(log.Warning, "%s attempt %d/%d failed: %v", req.Command, attempt+1, config.MaxRetryAttempts, err)

		backoff := time.Duration(float64(attempt+1) * 0.5 * float64(time.Second))
		select {
		case <-ctx.Done():
			return wire.Response{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	// Retries exhausted: clear lastTrackerResponseTime so
	// IsConnectedToTracker reports false until the next success (spec §4.4).
	c.mu.Lock()
	c.everSucceeded = false
	c.mu.Unlock()
	return wire.Response{}, errors.Wrapf(lastErr, "%s: exhausted %d attempts", req.Command, config.MaxRetryAttempts)
}

func (c *Client) roundTrip(data []byte) (wire.Response, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(config.ResponseTimeout)); err != nil {
		return wire.Response{}, err
	}
	if _, err := c.conn.Write(data); err != nil {
		return wire.Response{}, errors.Wrap(err, "write request")
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(config.ResponseTimeout)); err != nil {
		return wire.Response{}, err
	}
	buf := make([]byte, config.MaxDatagramSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return wire.Response{}, errors.Wrap(err, "read response")
	}
	var resp wire.Response
	if err := wire.DecodeUDP(buf[:n], &resp); err != nil {
		return wire.Response{}, errors.Wrap(err, "decode response")
	}
	if resp.Status == wire.StatusError {
		return resp, errors.Errorf("tracker error %s: %s", resp.ErrorCode, resp.Message)
	}
	return resp, nil
}

// IsConnectedToTracker reports whether the last successful exchange with
// the tracker happened within config.TrackerStaleConnectionWindow.
func (c *Client) IsConnectedToTracker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.everSucceeded {
		return false
	}
	return time.Since(c.lastSuccess) < config.TrackerStaleConnectionWindow
}

// RunLoop sends periodic UPDATE and HEARTBEAT requests until ctx is
// canceled or Close is called. extraUpdates, if non-nil, is read to trigger
// an out-of-cycle UPDATE (wired to the content store's onUpdate hook).
func (c *Client) RunLoop(ctx context.Context, extraUpdates <-chan struct{}) {
	c.wg.Add(1)
	defer c.wg.Done()

	heartbeat := time.NewTicker(config.HeartbeatInterval)
	update := time.NewTicker(config.UpdateInterval)
	defer heartbeat.Stop()
	defer update.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closing.Done():
			return
		case <-heartbeat.C:
			if !c.IsConnectedToTracker() {
				continue
			}
			if err := c.Heartbeat(ctx); err != nil {
				c.logger.Levelf(log.Warning, "heartbeat failed: %v", err)
			}
		case <-update.C:
			if err := c.Update(ctx); err != nil {
				c.logger.Levelf(log.Warning, "update failed: %v", err)
			}
		case <-extraUpdates:
			if err := c.Update(ctx); err != nil {
				c.logger.Levelf(log.Warning, "triggered update failed: %v", err)
			}
		}
	}
}

// Close unregisters from the tracker, stops RunLoop, and releases the
// socket.
func (c *Client) Close() error {
	if !c.closing.Set() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.ResponseTimeout)
	defer cancel()
	if err := c.Unregister(ctx); err != nil {
		c.logger.Levelf(log.Warning, "unregister on close failed: %v", err)
	}
	err := c.conn.Close()
	c.wg.Wait()
	return err
}
