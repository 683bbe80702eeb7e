// Package tiles serves tiles: it resolves the addressed level, consults the
// cache and renders on a miss.
package tiles

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wmtscache/internal/cache"
	"wmtscache/internal/imaging"
	"wmtscache/internal/metrics"
	"wmtscache/internal/render"
	"wmtscache/internal/tilekey"
	"wmtscache/internal/tilematrix"
)

var (
	ErrUnknownSet     = errors.New("unknown tile matrix set")
	ErrUnknownMatrix  = errors.New("unknown tile matrix")
	ErrTileOutOfRange = errors.New("tile outside of matrix")
)

const DefaultRenderTimeout = 10 * time.Second

// Request addresses one tile in one output format.
type Request struct {
	Layer      string
	Style      string
	Dimensions map[string]string
	MatrixSet  string
	// Matrix is a level identifier "<set>:<index>"; a bare index is
	// accepted as well.
	Matrix string
	Row    int
	Col    int
	Format imaging.Format
}

type TileResult struct {
	Data   []byte
	ETag   string
	Size   int
	Format imaging.Format
	Cached bool
}

type Options struct {
	RenderTimeout time.Duration
}

type Service struct {
	registry      *tilematrix.Registry
	tileCache     *cache.Manager
	renderer      render.Renderer
	logger        *zap.Logger
	renderTimeout time.Duration
	inflight      singleflight.Group
}

func New(registry *tilematrix.Registry, tileCache *cache.Manager, renderer render.Renderer, logger *zap.Logger, opts Options) *Service {
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = DefaultRenderTimeout
	}
	return &Service{
		registry:      registry,
		tileCache:     tileCache,
		renderer:      renderer,
		logger:        logger,
		renderTimeout: opts.RenderTimeout,
	}
}

type resolved struct {
	set    *tilematrix.TileMatrixSet
	matrix tilematrix.TileMatrix
	key    string
}

func (s *Service) resolve(req Request) (*resolved, error) {
	set, ok := s.registry.Get(req.MatrixSet)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSet, req.MatrixSet)
	}

	matrixID := req.Matrix
	if !strings.Contains(matrixID, ":") {
		matrixID = set.ID() + ":" + matrixID
	}
	matrix, ok := tilematrix.LookupMatrix(set, matrixID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMatrix, req.Matrix)
	}

	if !matrix.Contains(req.Row, req.Col) {
		return nil, fmt.Errorf("%w: row %d col %d, matrix is %dx%d",
			ErrTileOutOfRange, req.Row, req.Col, matrix.MatrixWidth, matrix.MatrixHeight)
	}

	key := tilekey.Key{
		MatrixSet:  set.ID(),
		Level:      matrix.Index,
		Row:        req.Row,
		Col:        req.Col,
		Layer:      req.Layer,
		Style:      req.Style,
		Dimensions: req.Dimensions,
	}.Encode()

	return &resolved{set: set, matrix: matrix, key: key}, nil
}

// Key returns the cache key of req.
func (s *Service) Key(req Request) (string, error) {
	r, err := s.resolve(req)
	if err != nil {
		return "", err
	}
	return r.key, nil
}

// GetTile returns the tile from cache or renders, caches and returns it.
func (s *Service) GetTile(ctx context.Context, req Request) (*TileResult, error) {
	r, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	if _, ok := s.tileCache.Codecs().Encoder(req.Format); !ok {
		return nil, fmt.Errorf("%w: %s", imaging.ErrUnsupportedFormat, req.Format)
	}

	data, ok, err := s.tileCache.GetTile(r.key, req.Format)
	if err != nil {
		return nil, err
	}
	if ok {
		return s.result(r.key, req.Format, data, true), nil
	}

	img, err := s.render(ctx, req, r)
	if err != nil {
		return nil, err
	}

	data, err = s.tileCache.Codecs().Encode(img, req.Format)
	if err != nil {
		return nil, err
	}

	return s.result(r.key, req.Format, data, false), nil
}

// render coalesces concurrent misses for the same key into one render. The
// render is detached from the caller's cancellation so a tile finished after
// its requester gave up is still cached.
func (s *Service) render(ctx context.Context, req Request, r *resolved) (image.Image, error) {
	ch := s.inflight.DoChan(r.key, func() (interface{}, error) {
		renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.renderTimeout)
		defer cancel()

		start := time.Now()
		img, err := safeRender(renderCtx, s.renderer, render.Tile{
			Layer:      req.Layer,
			Style:      req.Style,
			Dimensions: req.Dimensions,
			MatrixSet:  r.set.ID(),
			CRS:        r.set.CRS(),
			Matrix:     r.matrix,
			Row:        req.Row,
			Col:        req.Col,
		})
		metrics.TileRenderDuration.WithLabelValues(r.set.ID()).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.TileRenderErrors.WithLabelValues(r.set.ID()).Inc()
			return nil, fmt.Errorf("failed to render tile: %w", err)
		}

		s.tileCache.PutTile(r.key, img)
		s.logger.Debug("Rendered tile", zap.String("key", r.key), zap.Duration("took", time.Since(start)))
		return img, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}

// safeRender turns a renderer panic into an error. singleflight re-panics on
// a fresh goroutine, where no HTTP recoverer could catch it.
func safeRender(ctx context.Context, renderer render.Renderer, t render.Tile) (img image.Image, err error) {
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("renderer panicked: %v", p)
		}
	}()
	return renderer.Render(ctx, t)
}

// Remove drops the cached tile addressed by req.
func (s *Service) Remove(req Request) error {
	r, err := s.resolve(req)
	if err != nil {
		return err
	}
	return s.tileCache.Remove(r.key)
}

func (s *Service) result(key string, format imaging.Format, data []byte, cached bool) *TileResult {
	return &TileResult{
		Data:   data,
		ETag:   generateETag(key, format),
		Size:   len(data),
		Format: format,
		Cached: cached,
	}
}

func generateETag(key string, format imaging.Format) string {
	hash := sha256.Sum256([]byte(key + "." + format.Extension()))
	return hex.EncodeToString(hash[:])[:16]
}
