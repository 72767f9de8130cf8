// Package preview serves a low-rate JPEG rendition of produced frames over
// websocket so a developer can watch the off-screen page.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/offscreen/internal/frame"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/health"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/workerpool"
)

var log = logging.L("preview")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	clientQueue    = 4
)

type Config struct {
	ListenAddr  string
	Quality     int
	ScaleFactor float64
	// Health, when set, is reported on /healthz.
	Health *health.Monitor
}

// Hello is the first text message a client receives.
type Hello struct {
	Type   string  `json:"type"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Server encodes published frames and broadcasts them to websocket clients.
type Server struct {
	cfg      Config
	differ   *frameDiffer
	encoders *workerpool.Pool
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  []byte
	size    gfx.Size
}

func NewServer(cfg Config) *Server {
	if cfg.Quality == 0 {
		cfg.Quality = 70
	}
	s := &Server{
		cfg:      cfg,
		differ:   newFrameDiffer(),
		encoders: workerpool.New("preview-encode", 2, 2),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	return s
}

// Handler returns the HTTP routes: /stream (websocket), /snapshot.jpg and
// /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	summary := s.cfg.Health.Summary()
	code := http.StatusOK
	if summary["status"] == string(health.Unhealthy) {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(summary)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("preview server stopped", logging.KeyError, err)
		}
	}()
	log.Info("preview server listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Shutdown stops accepting connections, disconnects clients and waits for
// pending encodes.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.mu.Lock()
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
	s.mu.Unlock()
	s.encoders.Shutdown(ctx)
	return err
}

// Publish takes a copy of f's pixels for encoding. It does not complete f.
func (s *Server) Publish(f *frame.Frame) {
	if !s.differ.HasChangedDamage(f.Damage) {
		return
	}
	bmp := f.Bitmap()
	if bmp == nil {
		return
	}
	s.mu.Lock()
	if s.size != bmp.Size() {
		s.size = bmp.Size()
		s.differ.Reset()
	}
	s.mu.Unlock()
	if !s.differ.HasChanged(bmp.Pix) {
		return
	}
	if !s.encoders.Submit(func() { s.encode(bmp) }) {
		log.Debug("preview encoder busy, frame skipped")
	}
}

func (s *Server) encode(bmp *gfx.Bitmap) {
	img := gfx.Scale(bmp.ToRGBA(), s.cfg.ScaleFactor)
	data, err := EncodeJPEG(img, s.cfg.Quality)
	if err != nil {
		log.Warn("preview encode failed", logging.KeyError, err)
		return
	}

	s.mu.Lock()
	s.latest = data
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.offer(data)
	}
}

// offer queues data without blocking. A full queue means a slow client; it
// gets the next frame.
func (c *client) offer(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Snapshot returns the most recent JPEG, or nil.
func (s *Server) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data := s.Snapshot()
	if data == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", logging.KeyError, err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientQueue), done: make(chan struct{})}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	hello := Hello{Type: "hello", Width: s.size.Width, Height: s.size.Height, Scale: s.cfg.ScaleFactor}
	latest := s.latest
	s.mu.Unlock()

	log.Debug("preview client connected", "remote", r.RemoteAddr)
	msg, _ := json.Marshal(hello)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.remove(c)
		return
	}
	if latest != nil {
		c.offer(latest)
	}

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// readPump only services control frames; clients do not send data.
func (s *Server) readPump(c *client) {
	defer s.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("preview client read error", logging.KeyError, err)
			}
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.remove(c)

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Debug("preview write error", logging.KeyError, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
