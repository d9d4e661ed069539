package sim

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"tradecore/internal/gateway"
	"tradecore/internal/logger"
	"tradecore/internal/order"
)

// Server exposes a Venue over websocket at /ws. Each connection is one
// independent session; events for an order go to the session that
// submitted it.
type Server struct {
	venue    *Venue
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ln       net.Listener

	mu       sync.Mutex
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

func NewServer(venue *Venue) *Server {
	return &Server{
		venue: venue,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

// Start listens on addr; ":0" style addresses pick a free port, see
// Port. Non-blocking.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.ln = ln
	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[sim] server stopped: %v", err)
		}
	}()
	logger.Infof("[sim] venue listening on %s", ln.Addr())
	return nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// DropSessions hard-closes every live session without stopping the
// listener; clients see an unsolicited disconnect.
func (s *Server) DropSessions() {
	s.mu.Lock()
	for sess := range s.sessions {
		sess.close()
	}
	s.mu.Unlock()
}

func (s *Server) Close() error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Close()
	}
	s.DropSessions()
	s.wg.Wait()
	return err
}

type session struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (sess *session) close() {
	sess.once.Do(func() {
		close(sess.done)
		sess.conn.Close()
	})
}

// send marshals and enqueues one frame; drops it if the session died.
func (sess *session) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("[sim] encode frame: %v", err)
		return
	}
	select {
	case sess.out <- b:
	case <-sess.done:
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("[sim] upgrade failed: %v", err)
		return
	}
	sess := &session{
		conn: conn,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writeLoop(sess)
	}()
	go func() {
		defer s.wg.Done()
		defer func() {
			sess.close()
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
		}()
		s.readLoop(sess)
	}()
}

func (s *Server) writeLoop(sess *session) {
	for {
		select {
		case <-sess.done:
			return
		case b := <-sess.out:
			if err := sess.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				sess.close()
				return
			}
		}
	}
}

func (s *Server) readLoop(sess *session) {
	for {
		_, msg, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		switch gjson.GetBytes(msg, "type").Str {
		case frameSubmit:
			s.handleSubmit(sess, msg)
		case frameQueryFills:
			s.handleQueryFills(sess, msg)
		default:
			logger.Warnf("[sim] unknown frame: %s", gjson.GetBytes(msg, "type").Str)
		}
	}
}

func (s *Server) handleSubmit(sess *session, msg []byte) {
	var f submitFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		logger.Warnf("[sim] bad submit frame: %v", err)
		return
	}
	req := gateway.OrderRequest{
		ClientOrderID: f.ClientOrderID,
		Symbol:        f.Symbol,
		Side:          order.Side(f.Side),
		Kind:          order.Kind(f.Kind),
		Quantity:      f.Quantity,
		LimitPrice:    f.LimitPrice,
		Account:       f.Account,
	}
	id, err := s.venue.Accept(req)
	if err != nil {
		sess.send(ackFrame{Type: frameReject, ClientOrderID: f.ClientOrderID, Reason: err.Error()})
		return
	}
	sess.send(ackFrame{Type: frameAck, ClientOrderID: f.ClientOrderID, OrderID: id})
	s.venue.Execute(id, req, func(ev gateway.Event) { sess.send(eventToFrame(ev)) }, sess.done)
}

func (s *Server) handleQueryFills(sess *session, msg []byte) {
	var f queryFillsFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		logger.Warnf("[sim] bad query frame: %v", err)
		return
	}
	fills := s.venue.QueryFills(time.UnixMilli(f.FromMillis).UTC(), time.UnixMilli(f.ToMillis).UTC())
	resp := fillsFrame{Type: frameFills, ReqID: f.ReqID, Fills: make([]fillFrame, 0, len(fills))}
	for _, vf := range fills {
		resp.Fills = append(resp.Fills, venueFillToFrame(vf))
	}
	sess.send(resp)
}
