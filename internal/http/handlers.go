package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wmtscache/internal/imaging"
	"wmtscache/internal/tilematrix"
	"wmtscache/internal/tiles"
)

const restTilePattern = "/wmts/{layer}/{style}/{set}/{matrix}/{row}/{tile}"

type Handlers struct {
	allowedOrigin string
	logger        *zap.Logger
	tiles         *tiles.Service
	registry      *tilematrix.Registry
}

func New(allowedOrigin string, logger *zap.Logger, tileService *tiles.Service, registry *tilematrix.Registry) *Handlers {
	return &Handlers{
		allowedOrigin: allowedOrigin,
		logger:        logger,
		tiles:         tileService,
		registry:      registry,
	}
}

// Router returns the complete HTTP surface of the server.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(h.CORSMiddleware)
	r.Use(h.RequestLoggingMiddleware)
	r.Use(chimiddleware.GetHead)

	r.Get("/wmts", h.HandleKVPTile)
	r.Get(restTilePattern, h.HandleRESTTile)
	r.Delete(restTilePattern, h.HandleDeleteTile)

	r.Get("/api/matrixsets", h.HandleMatrixSets)
	r.Get("/healthz", h.HandleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.allowedOrigin != "" {
			allowedOrigin = h.allowedOrigin
		} else if origin == "" {
			allowedOrigin = "*"
		} else if strings.HasPrefix(origin, "http://"+r.Host) || strings.HasPrefix(origin, "https://"+r.Host) {
			allowedOrigin = origin
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Tile-Cache")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleRESTTile serves /wmts/{layer}/{style}/{set}/{matrix}/{row}/{col}.{ext}.
// Query parameters are dimensions.
func (h *Handlers) HandleRESTTile(w http.ResponseWriter, r *http.Request) {
	req, err := restRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.serveTile(w, r, req)
}

// HandleKVPTile serves /wmts?service=WMTS&request=GetTile&... with
// case-insensitive parameter names. Unrecognised parameters are dimensions.
func (h *Handlers) HandleKVPTile(w http.ResponseWriter, r *http.Request) {
	req, err := kvpRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.serveTile(w, r, req)
}

func (h *Handlers) HandleDeleteTile(w http.ResponseWriter, r *http.Request) {
	req, err := restRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.tiles.Remove(req); err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to remove tile", zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type matrixJSON struct {
	Identifier       string  `json:"identifier"`
	ScaleDenominator float64 `json:"scale_denominator"`
	TileWidth        int     `json:"tile_width"`
	TileHeight       int     `json:"tile_height"`
	MatrixWidth      int     `json:"matrix_width"`
	MatrixHeight     int     `json:"matrix_height"`
}

type matrixSetJSON struct {
	Identifier string       `json:"identifier"`
	CRS        string       `json:"crs"`
	Bounds     [4]float64   `json:"bounds"`
	Matrices   []matrixJSON `json:"matrices"`
}

func (h *Handlers) HandleMatrixSets(w http.ResponseWriter, r *http.Request) {
	sets := h.registry.Sets()
	out := make([]matrixSetJSON, 0, len(sets))
	for _, set := range sets {
		b := set.Bounds()
		entry := matrixSetJSON{
			Identifier: set.ID(),
			CRS:        set.CRS(),
			Bounds:     [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		}
		for _, m := range set.Matrices() {
			entry.Matrices = append(entry.Matrices, matrixJSON{
				Identifier:       tilematrix.MatrixID(set.ID(), m),
				ScaleDenominator: m.ScaleDenominator,
				TileWidth:        m.TileWidth,
				TileHeight:       m.TileHeight,
				MatrixWidth:      m.MatrixWidth,
				MatrixHeight:     m.MatrixHeight,
			})
		}
		out = append(out, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (h *Handlers) serveTile(w http.ResponseWriter, r *http.Request, req tiles.Request) {
	result, err := h.tiles.GetTile(r.Context(), req)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to get tile", zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	etag := `"` + result.ETag + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	if result.Cached {
		w.Header().Set("X-Tile-Cache", "hit")
	} else {
		w.Header().Set("X-Tile-Cache", "miss")
	}

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", string(result.Format))
	w.Header().Set("Content-Length", strconv.Itoa(result.Size))
	w.Write(result.Data)
}

func restRequest(r *http.Request) (tiles.Request, error) {
	tile := chi.URLParam(r, "tile")
	ext := path.Ext(tile)
	if ext == "" {
		return tiles.Request{}, errors.New("missing tile format extension")
	}

	format, ok := imaging.ParseFormat(ext)
	if !ok {
		return tiles.Request{}, errors.New("invalid format " + ext)
	}

	row, err := parseIndex("row", chi.URLParam(r, "row"))
	if err != nil {
		return tiles.Request{}, err
	}
	col, err := parseIndex("col", strings.TrimSuffix(tile, ext))
	if err != nil {
		return tiles.Request{}, err
	}

	var dims map[string]string
	for name, values := range r.URL.Query() {
		if dims == nil {
			dims = make(map[string]string)
		}
		dims[name] = values[0]
	}

	return tiles.Request{
		Layer:      chi.URLParam(r, "layer"),
		Style:      chi.URLParam(r, "style"),
		Dimensions: dims,
		MatrixSet:  chi.URLParam(r, "set"),
		Matrix:     chi.URLParam(r, "matrix"),
		Row:        row,
		Col:        col,
		Format:     format,
	}, nil
}

func kvpRequest(r *http.Request) (tiles.Request, error) {
	params := make(map[string]string)
	var dims map[string]string
	for name, values := range r.URL.Query() {
		switch key := strings.ToLower(name); key {
		case "service", "request", "version", "layer", "style", "format",
			"tilematrixset", "tilematrix", "tilerow", "tilecol":
			params[key] = values[0]
		default:
			if dims == nil {
				dims = make(map[string]string)
			}
			dims[name] = values[0]
		}
	}

	if !strings.EqualFold(params["service"], "WMTS") {
		return tiles.Request{}, errors.New("service must be WMTS")
	}
	if !strings.EqualFold(params["request"], "GetTile") {
		return tiles.Request{}, errors.New("only GetTile is supported")
	}
	for _, required := range []string{"layer", "tilematrixset", "tilematrix", "format"} {
		if params[required] == "" {
			return tiles.Request{}, errors.New("missing parameter " + required)
		}
	}

	format, ok := imaging.ParseFormat(params["format"])
	if !ok {
		return tiles.Request{}, errors.New("invalid format " + params["format"])
	}

	row, err := parseIndex("TileRow", params["tilerow"])
	if err != nil {
		return tiles.Request{}, err
	}
	col, err := parseIndex("TileCol", params["tilecol"])
	if err != nil {
		return tiles.Request{}, err
	}

	return tiles.Request{
		Layer:      params["layer"],
		Style:      params["style"],
		Dimensions: dims,
		MatrixSet:  params["tilematrixset"],
		Matrix:     params["tilematrix"],
		Row:        row,
		Col:        col,
		Format:     format,
	}, nil
}

func parseIndex(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + " " + strconv.Quote(value))
	}
	return n, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, tiles.ErrUnknownSet), errors.Is(err, tiles.ErrUnknownMatrix):
		return http.StatusNotFound
	case errors.Is(err, tiles.ErrTileOutOfRange), errors.Is(err, imaging.ErrUnsupportedFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
