// Package server exposes conversations to browser clients over WebSocket.
// Every connection owns one conversation; it ends when the socket closes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"AraChat/internal/chatbot"
	"AraChat/internal/geo"
	"AraChat/internal/session"
)

const writeTimeout = 10 * time.Second

// Inbound frame types
const (
	FrameSend        = "send"
	FrameRate        = "rate"
	FrameComment     = "comment"
	FrameLocation    = "location"
	FrameLocationOff = "location_off"
)

// Outbound frame types
const (
	FrameLog   = "log"
	FrameError = "error"
)

// InboundFrame is a client request
type InboundFrame struct {
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	ID        string  `json:"id,omitempty"`
	Rating    int     `json:"rating,omitempty"`
	Comment   string  `json:"comment,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// OutboundFrame carries the current log or an error notice
type OutboundFrame struct {
	Type           string            `json:"type"`
	Messages       []session.Message `json:"messages,omitempty"`
	Thinking       bool              `json:"thinking"`
	LocationActive bool              `json:"location_active"`
	Error          string            `json:"error,omitempty"`
}

// Server upgrades HTTP requests to WebSocket conversations
type Server struct {
	newConversation func() *chatbot.Conversation
	sendRate        rate.Limit
	sendBurst       int
	logger          *slog.Logger
	upgrader        websocket.Upgrader
}

// New creates a server. newConversation is called once per connection.
func New(newConversation func() *chatbot.Conversation, sendRate float64, sendBurst int, logger *slog.Logger) *Server {
	return &Server{
		newConversation: newConversation,
		sendRate:        rate.Limit(sendRate),
		sendBurst:       sendBurst,
		logger:          logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		ws:      ws,
		conv:    s.newConversation(),
		limiter: rate.NewLimiter(s.sendRate, s.sendBurst),
		logger:  s.logger,
		ctx:     ctx,
	}
	c.logger = c.logger.With("conversation_id", c.conv.ID())
	c.logger.Info("client connected", "remote", r.RemoteAddr)

	c.readLoop()

	cancel()
	c.wg.Wait()
	ws.Close()
	c.logger.Info("client disconnected")
}

type connection struct {
	ws      *websocket.Conn
	conv    *chatbot.Conversation
	limiter *rate.Limiter
	logger  *slog.Logger
	ctx     context.Context

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func (c *connection) readLoop() {
	c.writeLog(c.conv.Snapshot())

	for {
		var frame InboundFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		c.handle(frame)
	}
}

func (c *connection) handle(frame InboundFrame) {
	switch frame.Type {
	case FrameSend:
		if !c.limiter.Allow() {
			c.writeError("rate limited")
			return
		}
		if c.conv.Busy() {
			c.writeError(chatbot.ErrBusy.Error())
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			log, err := c.conv.Send(c.ctx, frame.Text, func(pending session.Log) {
				c.writeFrame(OutboundFrame{Type: FrameLog, Messages: pending.All(), Thinking: true})
			})
			if err != nil {
				c.writeError(err.Error())
				return
			}
			c.writeLog(log)
		}()

	case FrameRate:
		c.writeLog(c.conv.Rate(frame.ID, frame.Rating))

	case FrameComment:
		c.writeLog(c.conv.Comment(c.ctx, frame.ID, frame.Rating, frame.Comment))

	case FrameLocation:
		loc := geo.Location{Latitude: frame.Latitude, Longitude: frame.Longitude}
		if err := c.conv.Location().Set(loc); err != nil {
			c.writeError(err.Error())
			return
		}
		c.writeLog(c.conv.Snapshot())

	case FrameLocationOff:
		c.conv.Location().Clear()
		c.writeLog(c.conv.Snapshot())

	default:
		c.writeError("unknown frame type: " + frame.Type)
	}
}

func (c *connection) writeLog(log session.Log) {
	c.writeFrame(OutboundFrame{
		Type:     FrameLog,
		Messages: log.All(),
		Thinking: c.conv.Busy(),
	})
}

func (c *connection) writeError(msg string) {
	c.writeFrame(OutboundFrame{Type: FrameError, Error: msg})
}

func (c *connection) writeFrame(frame OutboundFrame) {
	frame.LocationActive = c.conv.Location().Current() != nil

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("set write deadline failed", "error", err)
	}
	if err := c.ws.WriteJSON(frame); err != nil {
		c.logger.Debug("write failed", "type", frame.Type, "error", err)
	}
}
