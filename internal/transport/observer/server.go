package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"marketsim.ai/internal/logging"
	"marketsim.ai/internal/observerproto"
	"marketsim.ai/internal/sim/catalogs"
	"marketsim.ai/internal/sim/engine"
	"marketsim.ai/internal/sim/market"
)

// Server streams frames to websocket observers. It is a FrameSink: the
// simulation pushes records in, observers only ever read.
type Server struct {
	bootstrap observerproto.BootstrapResponse
	log       *logrus.Entry

	// AllowRemote lifts the loopback-only restriction.
	AllowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu     sync.RWMutex
	last   *observerproto.FrameMsg
	closed bool
	subs   map[string]*subscriber
}

type subscriber struct {
	out chan *observerproto.FrameMsg

	mu  sync.Mutex
	sub observerproto.SubscribeMsg
}

func NewServer(cats *catalogs.Catalogs, params market.Params, logger logrus.FieldLogger) *Server {
	return &Server{
		bootstrap: newBootstrap(cats, params),
		log:       logging.WithComponent(logger, "observer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]*subscriber{},
	}
}

func newBootstrap(cats *catalogs.Catalogs, p market.Params) observerproto.BootstrapResponse {
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		CatalogDigest:   cats.Digest(),
		Params: observerproto.Params{
			Step:            p.Step,
			MaintenanceCost: p.MaintenanceCost,
			PriceFloor:      p.PriceFloor,
			HikeMultiplier:  p.HikeMultiplier,
			Damping:         p.Damping,
			ProbeOffset:     p.ProbeOffset,
			WageFactor:      p.WageFactor,
		},
	}
	for _, g := range cats.Goods() {
		resp.Goods = append(resp.Goods, observerproto.GoodInfo{ID: g.ID, Color: g.Color})
	}
	for _, b := range cats.Buildings() {
		info := observerproto.BuildingTypeInfo{ID: b.ID, Color: b.Color}
		if len(b.Inputs) > 0 {
			info.Inputs = map[string]float64{}
			for _, gc := range b.Inputs {
				info.Inputs[gc.Good] = gc.Count
			}
		}
		if len(b.Outputs) > 0 {
			info.Outputs = map[string]float64{}
			for _, gc := range b.Outputs {
				info.Outputs[gc.Good] = gc.Count
			}
		}
		resp.BuildingTypes = append(resp.BuildingTypes, info)
	}
	return resp
}

// Handler mounts the bootstrap and websocket endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observe", s.WSHandler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	return mux
}

// WriteFrame publishes rec to every observer. A slow observer misses frames
// rather than holding up the simulation.
func (s *Server) WriteFrame(rec engine.FrameRecord) error {
	msg := frameMsg(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.last = msg
	for _, sub := range s.subs {
		select {
		case sub.out <- msg:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Close disconnects every observer.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, sub := range s.subs {
		close(sub.out)
		delete(s.subs, id)
	}
	return nil
}

func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func frameMsg(rec engine.FrameRecord) *observerproto.FrameMsg {
	msg := &observerproto.FrameMsg{
		Type:            observerproto.TypeFrame,
		ProtocolVersion: observerproto.Version,
		RunID:           rec.RunID,
		Tick:            rec.Tick,
		Digest:          rec.Digest,
		Goods:           make([]observerproto.GoodState, 0, len(rec.Goods)),
		Buildings:       make([]observerproto.BuildingState, 0, len(rec.Buildings)),
	}
	for _, g := range rec.Goods {
		msg.Goods = append(msg.Goods, observerproto.GoodState{Good: g.Good, Price: g.Price, Buy: g.Buy, Sell: g.Sell})
	}
	for _, b := range rec.Buildings {
		msg.Buildings = append(msg.Buildings, observerproto.BuildingState{
			Index:      b.Index,
			Type:       b.Type,
			Kind:       b.Kind,
			Level:      b.Level,
			Activation: b.Activation,
			Profit:     b.Profit,
		})
	}
	for _, d := range rec.Decisions {
		msg.Decisions = append(msg.Decisions, observerproto.Decision{
			Index:  d.Index,
			Action: d.Action.String(),
			From:   d.From,
			To:     d.To,
		})
	}
	return msg
}

// filtered applies a subscription to a shared message without modifying it.
func filtered(msg *observerproto.FrameMsg, sub observerproto.SubscribeMsg) *observerproto.FrameMsg {
	out := *msg
	if !sub.Decisions {
		out.Decisions = nil
	}
	if len(sub.Goods) > 0 {
		want := make(map[string]bool, len(sub.Goods))
		for _, g := range sub.Goods {
			want[g] = true
		}
		out.Goods = nil
		for _, g := range msg.Goods {
			if want[g.Good] {
				out.Goods = append(out.Goods, g)
			}
		}
	}
	return &out
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := s.bootstrap
		s.mu.RLock()
		if s.last != nil {
			resp.RunID = s.last.RunID
			resp.Tick = s.last.Tick
		}
		s.mu.RUnlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		first, ok := parseSubscribe(raw)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sub := &subscriber{out: make(chan *observerproto.FrameMsg, 64), sub: first}
		if !s.join(sid, sub) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
		defer s.leave(sid)
		log := s.log.WithField("session", sid)
		log.Debug("observer joined")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case msg, ok := <-sub.out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
						writeErr <- nil
						return
					}
					sub.mu.Lock()
					cur := sub.sub
					sub.mu.Unlock()
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteJSON(filtered(msg, cur)); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, ok := parseSubscribe(raw)
			if !ok {
				continue
			}
			sub.mu.Lock()
			sub.sub = next
			sub.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Debug("observer left")
	}
}

// join registers sub and queues the latest frame so a new observer does not
// wait for the next step.
func (s *Server) join(sid string, sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.subs[sid] = sub
	if s.last != nil {
		sub.out <- s.last
	}
	return true
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sid)
}

func parseSubscribe(raw []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
