// Package thumbnailer requests thumbnails from the out-of-process
// FreeDesktop thumbnailer over D-Bus, for files whose format the engine
// cannot decode natively. It is a direct port of
// DBusThumbnailer::newThumbnailerTask / finishedHandler / errorHandler:
// one request in flight at a time, queued against
// org.freedesktop.thumbnails.Thumbnailer1.
package thumbnailer

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	serviceName = "org.freedesktop.thumbnails.Thumbnailer1"
	objectPath  = "/org/freedesktop/thumbnails/Thumbnailer1"
	ifaceName   = "org.freedesktop.thumbnails.Thumbnailer1"
)

// Result is delivered on Client's Finished or Error channel.
type Result struct {
	Handle   uint32
	FileName string
	Flavor   string
}

// ErrorResult carries a failed thumbnailer request.
type ErrorResult struct {
	Handle     uint32
	FileName   string
	FailedURIs []string
	ErrorCode  int32
	Message    string
}

// Client talks to the session-bus thumbnailer service. Only one request
// may be in flight at a time, matching the original's m_taskInProgress
// guard.
type Client struct {
	conn *dbus.Conn

	mu        sync.Mutex
	running   bool
	fileName  string
	flavor    string

	Finished chan Result
	Errors   chan ErrorResult

	signals chan *dbus.Signal
	done    chan struct{}
}

// Dial connects to the session bus and subscribes to the thumbnailer's
// Finished/Error signals. The connection is made once, here; Queue does
// not redial it, so once it has gone away every Queue call fails.
func Dial() (*Client, error) {
	c := &Client{
		Finished: make(chan Result, 4),
		Errors:   make(chan ErrorResult, 4),
		done:     make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("thumbnailer: session bus: %w", err)
	}
	matchFinished := fmt.Sprintf("type='signal',interface='%s',member='Finished'", ifaceName)
	matchError := fmt.Sprintf("type='signal',interface='%s',member='Error'", ifaceName)
	if call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchFinished); call.Err != nil {
		return fmt.Errorf("thumbnailer: add match Finished: %w", call.Err)
	}
	if call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchError); call.Err != nil {
		return fmt.Errorf("thumbnailer: add match Error: %w", call.Err)
	}

	c.conn = conn
	c.signals = make(chan *dbus.Signal, 8)
	conn.Signal(c.signals)
	go c.dispatch()
	return nil
}

func (c *Client) dispatch() {
	for sig := range c.signals {
		switch sig.Name {
		case ifaceName + ".Finished":
			if len(sig.Body) < 1 {
				continue
			}
			handle, _ := sig.Body[0].(uint32)
			c.mu.Lock()
			fileName, flavor := c.fileName, c.flavor
			c.running = false
			c.mu.Unlock()
			c.Finished <- Result{Handle: handle, FileName: fileName, Flavor: flavor}
		case ifaceName + ".Error":
			if len(sig.Body) < 4 {
				continue
			}
			handle, _ := sig.Body[0].(uint32)
			failedURIs, _ := sig.Body[1].([]string)
			errorCode, _ := sig.Body[2].(int32)
			message, _ := sig.Body[3].(string)
			c.mu.Lock()
			fileName := c.fileName
			c.running = false
			c.mu.Unlock()
			c.Errors <- ErrorResult{Handle: handle, FileName: fileName, FailedURIs: failedURIs, ErrorCode: errorCode, Message: message}
		}
	}
}

// Supports reports whether mimeType should go through the thumbnailer
// rather than the engine's own decoders: anything that isn't natively an
// "image/*" mime type.
func Supports(mimeType string) bool {
	return mimeType != "" && !strings.HasPrefix(mimeType, "image")
}

// IsRunning reports whether a request is currently in flight.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Queue requests a thumbnail for fileName at flavor. It is a no-op if a
// request is already in flight: the scheduler is expected to check
// IsRunning before calling, but Queue re-checks to avoid a race.
func (c *Client) Queue(fileName, mimeType, flavor string) (uint32, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return 0, fmt.Errorf("thumbnailer: request already in progress")
	}
	c.running = true
	c.fileName = fileName
	c.flavor = flavor
	c.mu.Unlock()

	abs, err := filepath.Abs(fileName)
	if err != nil {
		c.clearRunning()
		return 0, fmt.Errorf("thumbnailer: resolve %s: %w", fileName, err)
	}
	uri := (&url.URL{Scheme: "file", Path: abs}).String()

	obj := c.conn.Object(serviceName, dbus.ObjectPath(objectPath))
	var handle uint32
	call := obj.Call(ifaceName+".Queue", 0, []string{uri}, []string{mimeType}, flavor, "default", uint32(0))
	if call.Err != nil {
		c.clearRunning()
		return 0, fmt.Errorf("thumbnailer: queue %s: %w", fileName, call.Err)
	}
	if err := call.Store(&handle); err != nil {
		c.clearRunning()
		return 0, fmt.Errorf("thumbnailer: decode handle: %w", err)
	}
	return handle, nil
}

func (c *Client) clearRunning() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Close tears down the signal subscription and bus connection.
func (c *Client) Close() error {
	close(c.done)
	if c.conn != nil {
		c.conn.RemoveSignal(c.signals)
		return c.conn.Close()
	}
	return nil
}
