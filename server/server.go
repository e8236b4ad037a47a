// Package server exposes the tracer over HTTP: JSON status, the frame
// strip, prometheus metrics and a websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	zootracer "github.com/microsoft/ZooTracer"
	"github.com/microsoft/ZooTracer/stage"
	"github.com/microsoft/ZooTracer/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is the part of the tracer the server reads.
type Backend interface {
	Status() zootracer.Status
	FrameStates() []zootracer.FrameVisualState
	Console() []string
	Subscribe(fn func(zootracer.Event)) func()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventBuffer is how many events a slow websocket client may lag behind
// before events are dropped for it.
const eventBuffer = 256

type Server struct {
	backend Backend
	log     utils.Logger
	mux     *http.ServeMux
	srv     *http.Server
}

func New(backend Backend, gatherer prometheus.Gatherer, log utils.Logger) *Server {
	s := &Server{backend: backend, log: log, mux: http.NewServeMux()}
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/frames", s.handleFrames)
	s.mux.HandleFunc("/api/console", s.handleConsole)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	s.log.Info("http: listening", "addr", addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type StageView struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Generation uint64 `json:"generation"`
	Key        string `json:"key,omitempty"`
	Error      string `json:"error,omitempty"`
}

func stageView(st stage.Status) StageView {
	v := StageView{Name: st.Name, State: st.State.String(), Generation: st.Generation, Key: st.Key}
	if st.Err != nil {
		v.Error = st.Err.Error()
	}
	return v
}

type StatusView struct {
	Stages          []StageView `json:"stages"`
	Video           string      `json:"video,omitempty"`
	Frames          int         `json:"frames"`
	Frame           int         `json:"frame"`
	Indexed         int         `json:"indexed"`
	Anchors         int         `json:"anchors"`
	AfterTraceStart bool        `json:"afterTraceStart"`
	BeforeTraceEnd  bool        `json:"beforeTraceEnd"`
}

type FramesView struct {
	Strip  string   `json:"strip"`
	States []string `json:"states"`
}

type EventView struct {
	Kind     string     `json:"kind"`
	Stage    *StageView `json:"stage,omitempty"`
	Frame    int        `json:"frame,omitempty"`
	Complete int        `json:"complete,omitempty"`
	Line     string     `json:"line,omitempty"`
	Anchor   *int       `json:"anchor,omitempty"`
	Change   string     `json:"change,omitempty"`
}

func eventView(e zootracer.Event) EventView {
	v := EventView{Kind: e.Kind.String()}
	switch e.Kind {
	case zootracer.StageChanged:
		st := stageView(e.Stage)
		v.Stage = &st
	case zootracer.IndexProgress:
		v.Frame, v.Complete = e.Frame, e.Complete
	case zootracer.ConsoleLine:
		v.Line = e.Line
	case zootracer.AnchorsChanged:
		if e.Anchor != nil {
			frame := e.Anchor.Anchor.Frame
			v.Anchor, v.Change = &frame, e.Anchor.Kind.String()
		}
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("http: response not written", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.backend.Status()
	s.writeJSON(w, StatusView{
		Stages: []StageView{
			stageView(st.Video), stageView(st.Projector), stageView(st.Index), stageView(st.Trace),
		},
		Video:           st.Info.Path,
		Frames:          st.Frames,
		Frame:           st.Frame,
		Indexed:         st.Indexed,
		Anchors:         st.Anchors,
		AfterTraceStart: st.AfterTraceStart,
		BeforeTraceEnd:  st.BeforeTraceEnd,
	})
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	states := s.backend.FrameStates()
	view := FramesView{Strip: zootracer.Strip(states), States: make([]string, len(states))}
	for i, st := range states {
		view.States[i] = st.String()
	}
	s.writeJSON(w, view)
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.backend.Console())
}

// handleEvents streams every tracer event to a websocket client as JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("http: websocket upgrade failed", "err", err)
		return
	}
	events := make(chan EventView, eventBuffer)
	closed := make(chan struct{})
	unsubscribe := s.backend.Subscribe(func(e zootracer.Event) {
		select {
		case events <- eventView(e):
		default:
		}
	})

	// the read side only notices the client going away
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("http: websocket closed", "err", err)
				}
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		conn.Close()
	}()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
