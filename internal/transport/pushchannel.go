package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/sebas/holepunch/internal/errs"
)

const (
	pingInterval = 5 * time.Second
	pongBudget   = 5 * time.Second
	readTick     = 5 * time.Second
)

// PushChannel is the long-lived full-duplex connection to the notification
// server (§4.2, §6). Frames are handed to OnFrame as they arrive; the loop
// drives its own ping/pong heartbeat and exits on a dead connection, a close
// frame, or Stop.
type PushChannel struct {
	OnFrame func(payload []byte)

	conn net.Conn

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// DialPushChannel opens the websocket connection to wss://{fqdn}/np/pushNotification
// with the exact vendor headers of §6. It does not start the read loop —
// call Run for that once the caller has observed the connection succeed.
func DialPushChannel(ctx context.Context, fqdn, bearer string) (*PushChannel, error) {
	url := fmt.Sprintf("wss://%s/np/pushNotification", fqdn)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearer)
	header.Set("X-PSN-APP-TYPE", "REMOTE_PLAY")
	header.Set("X-PSN-APP-VER", "RemotePlay/1.0")
	header.Set("X-PSN-PROTOCOL-VERSION", "2.1")
	header.Set("X-PSN-OS-VER", "Windows/10.0")
	header.Set("X-PSN-KEEP-ALIVE-STATUS-TYPE", "3")
	header.Set("X-PSN-RECONNECTION", "false")
	header.Set("User-Agent", "WebSocket++/0.8.2")

	dialer := ws.Dialer{
		Protocols: []string{"np-pushpacket"},
		Header:    ws.HandshakeHeaderHTTP(header),
	}

	conn, _, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: push channel dial %s: %v", errs.ErrNetwork, url, err)
	}

	return &PushChannel{
		conn:   conn,
		stopCh: make(chan struct{}),
	}, nil
}

// Run drives the read/heartbeat loop until the connection dies, a close
// frame arrives, or Stop is called. It blocks; callers run it in its own
// goroutine.
func (p *PushChannel) Run() error {
	lastPing := time.Now()
	awaitingPong := false
	pongDeadline := time.Time{}

	for {
		select {
		case <-p.stopCh:
			return nil
		default:
		}

		if time.Since(lastPing) >= pingInterval && !awaitingPong {
			if err := p.writePing(); err != nil {
				return fmt.Errorf("%w: push channel: send ping: %v", errs.ErrNetwork, err)
			}
			lastPing = time.Now()
			awaitingPong = true
			pongDeadline = lastPing.Add(pongBudget)
		}

		if awaitingPong && time.Now().After(pongDeadline) {
			return fmt.Errorf("%w: push channel: pong not received within budget", errs.ErrNetwork)
		}

		if err := p.conn.SetReadDeadline(time.Now().Add(readTick)); err != nil {
			return fmt.Errorf("%w: push channel: set read deadline: %v", errs.ErrNetwork, err)
		}

		header, err := ws.ReadHeader(p.conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: push channel: read frame header: %v", errs.ErrNetwork, err)
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(p.conn, payload); err != nil {
			return fmt.Errorf("%w: push channel: read frame payload: %v", errs.ErrNetwork, err)
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpPing:
			if err := p.writePong(payload); err != nil {
				return fmt.Errorf("%w: push channel: reply pong: %v", errs.ErrNetwork, err)
			}
		case ws.OpPong:
			awaitingPong = false
		case ws.OpClose:
			return nil
		case ws.OpText, ws.OpBinary:
			if p.OnFrame != nil {
				p.OnFrame(payload)
			}
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (p *PushChannel) writePing() error {
	return wsutil.WriteClientMessage(p.conn, ws.OpPing, nil)
}

func (p *PushChannel) writePong(payload []byte) error {
	return wsutil.WriteClientMessage(p.conn, ws.OpPong, payload)
}

// Stop unblocks Run's readiness wait and closes the underlying connection.
func (p *PushChannel) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.conn.Close()
}
