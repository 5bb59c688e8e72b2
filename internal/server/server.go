// Package server exposes stain separation over HTTP.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/MeKo-Tech/colordeconv/internal/analysis"
	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/imageio"
	"github.com/MeKo-Tech/colordeconv/internal/mask"
	"github.com/MeKo-Tech/colordeconv/internal/pipeline"
	"github.com/MeKo-Tech/colordeconv/internal/preset"
	"github.com/MeKo-Tech/colordeconv/internal/render"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
)

// Config configures the HTTP handler.
type Config struct {
	Registry preset.Registry // nil means built-in presets
	// DefaultStain is used when a request names neither stain nor vectors.
	DefaultStain string
	// MaxBodyMB limits uploaded image size (default 64).
	MaxBodyMB int64
	// MaxPixels limits the decoded image area (default 100 megapixels). It is
	// checked against the image header before decoding.
	MaxPixels int64
	// Workers limits concurrent separations (default: number of CPUs).
	Workers      int
	CacheControl string
}

// Status reports separation counters.
type Status struct {
	Active        int   `json:"active"`
	Queued        int   `json:"queued"`
	MaxConcurrent int   `json:"max_concurrent"`
	TotalDone     int64 `json:"total_done"`
	TotalFailed   int64 `json:"total_failed"`
}

// StatsResponse is the body returned by POST /stats.
type StatsResponse struct {
	Stain     string                  `json:"stain"`
	Depth     int                     `json:"depth"`
	Width     int                     `json:"width"`
	Height    int                     `json:"height"`
	Condition float64                 `json:"condition"`
	Vectors   [3][3]float64           `json:"vectors"`
	Channels  []analysis.ChannelStats `json:"channels"`
}

// Server separates uploaded images on request.
type Server struct {
	cfg    Config
	logger *slog.Logger
	sem    chan struct{}

	active      atomic.Int32
	queued      atomic.Int32
	totalDone   atomic.Int64
	totalFailed atomic.Int64
}

// New creates a server, filling in defaults.
func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.Registry == nil {
		cfg.Registry = preset.Builtin()
	}
	if cfg.DefaultStain == "" {
		cfg.DefaultStain = "H&E"
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = 100_000_000
	}
	if cfg.MaxBodyMB <= 0 {
		cfg.MaxBodyMB = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "no-store"
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.Workers),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /presets", s.servePresets)
	mux.HandleFunc("GET /status", s.serveStatus)
	mux.HandleFunc("POST /deconvolve", s.serveDeconvolve)
	mux.HandleFunc("POST /stats", s.serveStats)
	return withCORS(mux)
}

// Status returns the current counters.
func (s *Server) Status() Status {
	return Status{
		Active:        int(s.active.Load()),
		Queued:        int(s.queued.Load()),
		MaxConcurrent: cap(s.sem),
		TotalDone:     s.totalDone.Load(),
		TotalFailed:   s.totalFailed.Load(),
	}
}

func (s *Server) servePresets(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name    string        `json:"name"`
		Vectors [3][3]float64 `json:"vectors"`
	}
	names := s.cfg.Registry.Names()
	out := make([]entry, 0, len(names))
	for _, name := range names {
		set, err := s.cfg.Registry.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, entry{Name: name, Vectors: vectors(stain.Basis(set))})
	}
	writeJSON(w, out, s.log())
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, s.Status(), s.log())
}

func (s *Server) serveDeconvolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	channel := 1
	if c := q.Get("channel"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > 3 {
			http.Error(w, fmt.Sprintf("channel must be 1, 2 or 3, got %q", c), http.StatusBadRequest)
			return
		}
		channel = n
	}
	format := imageio.FormatPNG
	if f := q.Get("format"); f != "" {
		parsed, err := imageio.ParseFormat(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = parsed
	}
	view := q.Get("view")
	switch view {
	case "", "gray", "lut", "preview", "mask":
	default:
		http.Error(w, fmt.Sprintf("unknown view %q", view), http.StatusBadRequest)
		return
	}
	threshold := analysis.StainedThreshold
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			http.Error(w, "threshold must be in (0, 1]", http.StatusBadRequest)
			return
		}
		threshold = f
	}
	var sigma float64
	if v := q.Get("sigma"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 {
			http.Error(w, "sigma must be a non-negative number", http.StatusBadRequest)
			return
		}
		sigma = f
	}

	img, res, ok := s.separate(w, r)
	if !ok {
		return
	}

	var out image.Image
	switch view {
	case "lut":
		out = render.Preview(res.Separation, channel-1, res.Basis[channel-1])
		format = imageio.FormatPNG
	case "preview":
		sheet, err := render.ContactSheet(img, res.Separation, res.Basis, 0)
		if err != nil {
			s.log().Error("Failed to render preview", "error", err)
			http.Error(w, "failed to render preview", http.StatusInternalServerError)
			return
		}
		out = sheet
		format = imageio.FormatPNG
	case "mask":
		m := mask.Stain(res.Separation, channel-1, threshold, float32(sigma))
		w.Header().Set("X-Stain-Coverage", strconv.FormatFloat(mask.Coverage(m), 'f', 4, 64))
		out = m
		format = imageio.FormatPNG
	default:
		out = res.Separation.Stains[channel-1]
	}

	var buf bytes.Buffer
	if err := imageio.Encode(&buf, out, format); err != nil {
		s.log().Error("Failed to encode output", "error", err)
		http.Error(w, "failed to encode output", http.StatusInternalServerError)
		return
	}

	contentType := "image/png"
	if format == imageio.FormatTIFF {
		contentType = "image/tiff"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	w.Header().Set("X-Stain-Min", strconv.Itoa(int(res.Separation.Min)))
	w.Header().Set("X-Stain-Max", strconv.Itoa(int(res.Separation.Max)))
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log().Error("Failed to write response", "error", err)
	}
}

func (s *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	_, res, ok := s.separate(w, r)
	if !ok {
		return
	}

	sep := res.Separation
	writeJSON(w, StatsResponse{
		Stain:     s.stainName(r),
		Depth:     int(sep.Depth),
		Width:     sep.Width,
		Height:    sep.Height,
		Condition: analysis.Condition(res.Basis),
		Vectors:   vectors(res.Basis),
		Channels:  analysis.Summarize(sep),
	}, s.log())
}

// separate decodes the request body and runs the separation under the
// concurrency limit. On failure it has already written the response.
func (s *Server) separate(w http.ResponseWriter, r *http.Request) (*deconv.Image, *pipeline.Result, bool) {
	spec := pipeline.StainSpec{Name: s.stainName(r)}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyMB<<20))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
			return nil, nil, false
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, nil, false
	}
	img, err := imageio.DecodeLimit(body, s.cfg.MaxPixels)
	if errors.Is(err, imageio.ErrTooLarge) {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return nil, nil, false
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to decode image: %v", err), http.StatusBadRequest)
		return nil, nil, false
	}

	s.queued.Add(1)
	select {
	case s.sem <- struct{}{}:
		s.queued.Add(-1)
		defer func() { <-s.sem }()
	case <-r.Context().Done():
		s.queued.Add(-1)
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return nil, nil, false
	}

	s.active.Add(1)
	res, err := pipeline.Deconvolve(img, spec, s.cfg.Registry)
	s.active.Add(-1)
	if err != nil {
		s.totalFailed.Add(1)
		s.log().Warn("Separation failed", "stain", spec.Name, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return nil, nil, false
	}
	s.totalDone.Add(1)
	s.log().Debug("Separated upload", "stain", spec.Name, "depth", img.Depth.String(), "width", img.Width, "height", img.Height)

	return img, res, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stain.ErrInvalidStainSpec):
		return http.StatusBadRequest
	case errors.Is(err, stain.ErrDegenerateBasis), errors.Is(err, deconv.ErrInvalidImageShape):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// stainName picks the vectors parameter over the stain parameter, falling
// back to the configured default.
func (s *Server) stainName(r *http.Request) string {
	q := r.URL.Query()
	if v := q.Get("vectors"); v != "" {
		return v
	}
	if name := q.Get("stain"); name != "" {
		return name
	}
	return s.cfg.DefaultStain
}

func vectors(b stain.Basis) [3][3]float64 {
	var out [3][3]float64
	for i, v := range b {
		out[i] = [3]float64(v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
