package rtspcore

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/bluenviron/rtspcore/pkg/liberrors"
)

// SimplePlayer wraps a Client into a one-call player: Open performs
// the whole DESCRIBE / SETUP / PLAY flow and starts a background
// receive loop. Frames are delivered through OnFrame or pulled with
// ReadFrame.
type SimplePlayer struct {
	// called on every received frame (optional).
	// It runs on an internal goroutine and must not block.
	OnFrame func(*VideoFrame)

	// called on receive errors (optional).
	OnError func(error)

	client  *Client
	running int32
	done    chan struct{}
}

// Open connects to the URL and starts playing.
func (sp *SimplePlayer) Open(rawURL string) error {
	if atomic.LoadInt32(&sp.running) != 0 {
		return liberrors.ErrClientInvalidState{Message: "already open"}
	}

	c := &Client{
		OnError: sp.OnError,
	}

	err := c.Open(rawURL)
	if err != nil {
		return err
	}

	err = c.Describe()
	if err == nil {
		err = c.Setup(0)
	}
	if err == nil {
		err = c.Play()
	}
	if err != nil {
		c.Close()
		return err
	}

	sp.client = c
	sp.done = make(chan struct{})
	atomic.StoreInt32(&sp.running, 1)

	if sp.OnFrame != nil {
		go sp.runCallbackLoop()
	}

	return nil
}

func (sp *SimplePlayer) runCallbackLoop() {
	defer close(sp.done)

	for {
		frame, err := sp.client.ReceiveFrame(1 * time.Second)
		if err != nil {
			var timeout liberrors.ErrClientReceiveTimeout
			if errors.As(err, &timeout) {
				if atomic.LoadInt32(&sp.running) == 0 {
					return
				}
				continue
			}
			return
		}

		sp.OnFrame(frame)
	}
}

// ReadFrame pulls a frame, blocking until one is available or the
// player is closed. It is an alternative to OnFrame.
func (sp *SimplePlayer) ReadFrame() (*VideoFrame, error) {
	if atomic.LoadInt32(&sp.running) == 0 {
		return nil, liberrors.ErrClientTerminated{}
	}

	for {
		frame, err := sp.client.ReceiveFrame(1 * time.Second)
		if err != nil {
			var timeout liberrors.ErrClientReceiveTimeout
			if errors.As(err, &timeout) && atomic.LoadInt32(&sp.running) != 0 {
				continue
			}
			return nil, err
		}
		return frame, nil
	}
}

// MediaInfo returns the properties of the played stream.
func (sp *SimplePlayer) MediaInfo() (*MediaInfo, bool) {
	if atomic.LoadInt32(&sp.running) == 0 || sp.client.selected == nil {
		return nil, false
	}
	return sp.client.selected, true
}

// IsRunning reports whether the player is running.
func (sp *SimplePlayer) IsRunning() bool {
	return atomic.LoadInt32(&sp.running) != 0
}

// Close stops the player and releases every resource.
func (sp *SimplePlayer) Close() {
	if atomic.LoadInt32(&sp.running) == 0 {
		return
	}
	atomic.StoreInt32(&sp.running, 0)

	sp.client.Teardown() //nolint:errcheck
	sp.client.Close()

	if sp.OnFrame != nil {
		<-sp.done
	}
}
