// Package raster turns a PDF into ordered page images plus per-page text.
// The PDF library call is wrapped in a hard timeout: malformed scans can hang
// the renderer, and a hung render is fatal for the document.
package raster

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/finextractor/internal/doc"
)

const (
	// DefaultDPI is the render resolution for inference-bound page images.
	DefaultDPI = 200
	// DefaultQuality is the JPEG encode quality.
	DefaultQuality = 85
	// DefaultTimeout bounds the whole-document render.
	DefaultTimeout = 120 * time.Second
)

// ErrTimeout marks a render that exceeded the hard timeout. Fatal to the
// document: there is no way to reclaim a hung renderer goroutine's work.
var ErrTimeout = errors.New("pdf rasterization timed out")

// ErrNoPages marks a document that produced no usable page images.
var ErrNoPages = errors.New("no page images produced")

type Config struct {
	DPI     int
	Quality int
	Timeout time.Duration
}

type Rasterizer struct {
	cfg Config
}

func New(cfg Config) *Rasterizer {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.Quality <= 0 {
		cfg.Quality = DefaultQuality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Rasterizer{cfg: cfg}
}

// PageCount returns the page count without rendering anything.
func PageCount(pdfPath string) (int, error) {
	n, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// Render rasterizes every page to a base64 JPEG and extracts its text.
// Pages are returned in order with 1-based indexes. A single page that fails
// to render is skipped with a warning; a document yielding no pages at all
// returns ErrNoPages.
func (r *Rasterizer) Render(ctx context.Context, pdfPath string) ([]doc.Page, error) {
	type result struct {
		pages []doc.Page
		err   error
	}
	done := make(chan result, 1)
	go func() {
		pages, err := r.renderAll(pdfPath)
		done <- result{pages, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if len(res.pages) == 0 {
			return nil, ErrNoPages
		}
		return res.pages, nil
	case <-time.After(r.cfg.Timeout):
		log.Error().Str("pdf", pdfPath).Dur("timeout", r.cfg.Timeout).Msg("rasterization timed out")
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Rasterizer) renderAll(pdfPath string) ([]doc.Page, error) {
	d, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer d.Close()

	pages := make([]doc.Page, 0, d.NumPage())
	for i := 0; i < d.NumPage(); i++ {
		// go-fitz uses 0-based indexing
		img, err := d.ImageDPI(i, float64(r.cfg.DPI))
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("failed to render page, skipping")
			continue
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.cfg.Quality}); err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("failed to encode page, skipping")
			continue
		}

		text, err := d.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("failed to extract page text")
			text = ""
		}

		pages = append(pages, doc.Page{
			Index:       i + 1,
			ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
			ImageMIME:   "image/jpeg",
			Text:        text,
		})
		log.Debug().Int("page", i+1).Int("jpeg_size", buf.Len()).Int("dpi", r.cfg.DPI).Msg("rendered page")
	}
	return pages, nil
}
