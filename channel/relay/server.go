package relay

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	maxMessageBytes      = 4096
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
)

// Server is the relay hub. It keeps no history: a connection only sees
// messages published while it is connected.
type Server struct {
	log *slog.Logger

	// OriginPatterns authorises cross-origin browser connections, as in
	// websocket.AcceptOptions. Go clients send no Origin and need none.
	OriginPatterns []string
	SendQueueSize  int
	WriteTimeout   time.Duration

	mu    sync.RWMutex
	rooms map[string]map[*peer]struct{}
}

// NewServer constructs a relay hub.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		log:           log,
		SendQueueSize: defaultSendQueueSize,
		WriteTimeout:  defaultWriteTimeout,
		rooms:         make(map[string]map[*peer]struct{}),
	}
}

// peer is one relay connection. send is never closed so concurrent
// broadcasters cannot panic; done signals shutdown.
type peer struct {
	send      chan string
	done      chan struct{}
	closeOnce sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Peers returns the number of connections on the named channel.
func (s *Server) Peers(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[name])
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("channel")
	if name == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: s.OriginPatterns,
	})
	if err != nil {
		s.log.Error("relay.accept.fail", slog.Any("error", err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		s.log.Info("relay.reject.subprotocol", slog.String("got", sp))
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	queue := s.SendQueueSize
	if queue <= 0 {
		queue = defaultSendQueueSize
	}
	p := &peer{send: make(chan string, queue), done: make(chan struct{})}
	s.join(name, p)
	defer s.leave(name, p)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case msg := <-p.send:
				wctx, wcancel := context.WithTimeout(ctx, s.writeTimeout())
				err := conn.Write(wctx, websocket.MessageText, []byte(msg))
				wcancel()
				if err != nil {
					s.log.Info("relay.write.fail", slog.String("channel", name), slog.Any("error", err))
					cancel()
					return
				}
			}
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			continue
		}
		s.broadcast(name, p, string(data))
	}
	cancel()
	<-writerDone
}

func (s *Server) writeTimeout() time.Duration {
	if s.WriteTimeout <= 0 {
		return defaultWriteTimeout
	}
	return s.WriteTimeout
}

func (s *Server) join(name string, p *peer) {
	s.mu.Lock()
	if s.rooms[name] == nil {
		s.rooms[name] = make(map[*peer]struct{})
	}
	s.rooms[name][p] = struct{}{}
	n := len(s.rooms[name])
	s.mu.Unlock()
	s.log.Info("relay.peer.join", slog.String("channel", name), slog.Int("peers", n))
}

func (s *Server) leave(name string, p *peer) {
	s.mu.Lock()
	delete(s.rooms[name], p)
	n := len(s.rooms[name])
	if n == 0 {
		delete(s.rooms, name)
	}
	s.mu.Unlock()
	p.close()
	s.log.Info("relay.peer.leave", slog.String("channel", name), slog.Int("peers", n))
}

// broadcast fans msg out to every other peer on the channel. It never
// blocks: a peer whose queue is full misses the message.
func (s *Server) broadcast(name string, from *peer, msg string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p := range s.rooms[name] {
		if p == from {
			continue
		}
		select {
		case p.send <- msg:
		case <-p.done:
		default:
			s.log.Debug("relay.send.drop", slog.String("channel", name))
		}
	}
}
