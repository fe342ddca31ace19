package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/avatar"
)

// Client talks to a running bridge: it follows the snapshot stream and
// sends transport commands. It satisfies avatar.Commands, so a terminal
// adapter can drive a remote avatar exactly like a local one.
type Client struct {
	baseURL string
	logger  zerolog.Logger
	stream  *http.Client
	api     *http.Client

	mu        sync.RWMutex
	connected bool
}

// NewClient creates a client for the bridge at baseURL.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With().Str("component", "bridge-client").Logger(),
		stream:  &http.Client{},
		api:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Connected reports whether the event stream is open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Follow calls fn with every snapshot the bridge streams, reconnecting with
// backoff, until ctx is done. Snapshots older than one already delivered
// are skipped.
func (c *Client) Follow(ctx context.Context, fn func(avatar.Snapshot)) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	failures := 0
	var lastSeq uint64

	deliver := func(s avatar.Snapshot) {
		if s.Seq != 0 && s.Seq <= lastSeq {
			return
		}
		lastSeq = s.Seq
		fn(s)
	}

	for {
		err := c.followOnce(ctx, deliver)
		if c.Connected() {
			backoff, failures = time.Second, 0
		}
		c.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		if failures == 3 {
			c.logger.Warn().Err(err).Int("failures", failures).Msg("Bridge event stream unavailable, retrying less often")
		} else if failures < 3 {
			c.logger.Warn().Err(err).Msg("Bridge event stream lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) followOnce(ctx context.Context, deliver func(avatar.Snapshot)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathEvents, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		return fmt.Errorf("unexpected content-type: %s (expected text/event-stream)", ct)
	}

	c.setConnected(true)
	c.logger.Info().Str("url", c.baseURL).Msg("Following bridge events")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var eventType string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && len(dataLines) > 0:
			c.handleEvent(eventType, strings.Join(dataLines, "\n"), deliver)
			eventType = ""
			dataLines = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event stream closed")
}

func (c *Client) handleEvent(eventType, data string, deliver func(avatar.Snapshot)) {
	if eventType != EventSnapshot {
		c.logger.Debug().Str("type", eventType).Msg("Unknown event type")
		return
	}
	var snap avatar.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse snapshot event")
		return
	}
	deliver(snap)
}

// Health checks the bridge health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	if err != nil {
		return err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// Snapshot fetches the current snapshot.
func (c *Client) Snapshot(ctx context.Context) (avatar.Snapshot, error) {
	var snap avatar.Snapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathSnapshot, nil)
	if err != nil {
		return snap, err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("get snapshot failed: %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&snap)
	return snap, err
}

// Send posts a command to the bridge.
func (c *Client) Send(ctx context.Context, cmd avatar.Command) error {
	body, err := json.Marshal(commandRequest{Seconds: cmd.Seconds})
	if err != nil {
		return err
	}
	url := c.baseURL + PathCommands + "/" + cmd.Name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("command %s rejected (%d): %s", cmd.Name, resp.StatusCode, e.Error)
	}
	return nil
}

func (c *Client) fire(cmd avatar.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Send(ctx, cmd); err != nil {
		c.logger.Warn().Err(err).Str("command", cmd.Name).Msg("Command failed")
	}
}

func (c *Client) RequestPlay()         { c.fire(avatar.Command{Name: avatar.CommandPlay}) }
func (c *Client) RequestPause()        { c.fire(avatar.Command{Name: avatar.CommandPause}) }
func (c *Client) RequestMuteToggle()   { c.fire(avatar.Command{Name: avatar.CommandMute}) }
func (c *Client) RequestReset()        { c.fire(avatar.Command{Name: avatar.CommandReset}) }
func (c *Client) RequestAvatarToggle() { c.fire(avatar.Command{Name: avatar.CommandAvatar}) }
func (c *Client) RequestRewind(seconds float64) {
	c.fire(avatar.Command{Name: avatar.CommandRewind, Seconds: seconds})
}

var _ avatar.Commands = (*Client)(nil)
