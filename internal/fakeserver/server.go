// Package fakeserver is an in-process stand-in for the vision server. It
// implements the analyze, ping, stop and version endpoints with the same
// response envelopes so clients can be tested without the real binary.
package fakeserver

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"visionsdk/internal/shm"
)

// Request is one analyze call as the server saw it.
type Request struct {
	Endpoint string
	Query    url.Values
	Body     []byte
	// Shared holds the segment contents for shared-memory requests.
	Shared []byte
}

// Server scripts the server side of the protocol. Zero value is not usable;
// construct with New.
type Server struct {
	mu sync.Mutex

	// Version is served on /version. Empty means the endpoint returns 404,
	// as servers predating it do.
	Version string
	// StopKey authorizes /stop. Empty accepts any key.
	StopKey string
	// Context is the document returned for every analyze call. The caller's
	// "data" query parameter is echoed under "data".
	Context map[string]any
	// Image is returned for image-bearing response types.
	Image []byte
	// OmitContextHeader drops ContextBase64utf (and ImageLen in body mode)
	// and answers with the bare JSON context instead.
	OmitContextHeader bool
	// AnalyzeStatus overrides the status code of analyze responses.
	AnalyzeStatus int
	// OnStop runs after a successful /stop.
	OnStop func()

	requests  []Request
	stopCalls int
	pings     int
}

// New returns a server answering with ctx and img.
func New(ctx map[string]any, img []byte) *Server {
	return &Server{Context: ctx, Image: img}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ping", s.handlePing)
	r.Get("/stop", s.handleStop)
	r.Get("/version", s.handleVersion)
	r.Post("/analyze_image", s.handleAnalyze("analyze_image"))
	r.Post("/analyze_raw_image", s.handleAnalyze("analyze_raw_image"))
	r.Post("/analyze_image_shared_memory", s.handleAnalyze("analyze_image_shared_memory"))
	return r
}

// Requests returns a copy of the analyze requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// StopCalls returns how many authorized stop requests arrived.
func (s *Server) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// Pings returns how many ping requests arrived.
func (s *Server) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.pings++
	s.mu.Unlock()
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.StopKey != "" && r.URL.Query().Get("key") != s.StopKey {
		s.mu.Unlock()
		http.Error(w, "invalid key", http.StatusForbidden)
		return
	}
	s.stopCalls++
	onStop := s.OnStop
	s.mu.Unlock()
	_, _ = w.Write([]byte("stopping"))
	if onStop != nil {
		go onStop()
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	v := s.Version
	s.mu.Unlock()
	if v == "" {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(v))
}

func (s *Server) handleAnalyze(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q := r.URL.Query()
		req := Request{Endpoint: endpoint, Query: q, Body: body}
		if endpoint == "analyze_image_shared_memory" {
			data, err := shm.ReadNamed(q.Get("name"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			req.Shared = data
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		ctx := make(map[string]any, len(s.Context)+1)
		for k, v := range s.Context {
			ctx[k] = v
		}
		img := s.Image
		omit := s.OmitContextHeader
		status := s.AnalyzeStatus
		s.mu.Unlock()

		if d := q.Get("data"); d != "" {
			ctx["data"] = d
		}
		ctxJSON, err := json.Marshal(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if status != 0 && status != http.StatusOK {
			http.Error(w, "analyze failed", status)
			return
		}

		responseType := q.Get("response_type")
		_, contextInBody := q["context_in_body"]
		switch {
		case responseType == "context" || omit:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(ctxJSON)
		case contextInBody:
			w.Header().Set("ImageLen", strconv.Itoa(len(img)))
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(img)
			_, _ = w.Write(ctxJSON)
		default:
			w.Header().Set("ContextBase64utf", base64.StdEncoding.EncodeToString(ctxJSON))
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		}
	}
}
