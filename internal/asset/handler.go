package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/boxmark/boxmark/internal/typeid"
)

const (
	maxUploadSize = 10 << 20 // 10MB
	maxFetchSize  = 32 << 20
	urlPrefix     = "/assets/"
)

var (
	ErrNotFound   = errors.New("asset not found")
	ErrFetch      = errors.New("fetch image")
	ErrBadImage   = errors.New("invalid image")
	ErrHTTPStatus = errors.New("unexpected http status")
)

// UploadResponse is returned from the upload endpoint. URL, Width and Height
// can be passed straight through as a session's image_url and image_size.
type UploadResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Type   string `json:"type"`
	Name   string `json:"name"`
}

// Handler stores background images and loads them back for sessions.
type Handler struct {
	dir    string // directory to store asset files
	client *http.Client
}

// NewHandler creates a new asset handler that stores files in dir and
// fetches remote images with the given timeout.
func NewHandler(dir string, fetchTimeout time.Duration) *Handler {
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("create asset dir", "error", err, "dir", dir)
	}
	return &Handler{
		dir:    dir,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Upload handles POST /assets/upload (multipart form with "file" field).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file too large (max 10MB)"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/png") && !strings.HasPrefix(contentType, "image/jpeg") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only PNG and JPEG images are supported"})
		return
	}

	// EXIF orientation is applied so the stored pixels match what the
	// browser shows, and the reported size is the corrected one.
	img, err := imaging.Decode(file, imaging.AutoOrientation(true))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid image: " + err.Error()})
		return
	}

	assetID := typeid.NewAssetID()
	filename := assetID + ".png"
	filePath := filepath.Join(h.dir, filename)

	out, err := os.Create(filePath)
	if err != nil {
		slog.Error("create asset file", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save file"})
		return
	}
	defer out.Close()

	if err := png.Encode(out, img); err != nil {
		slog.Error("encode png", "error", err)
		os.Remove(filePath)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to encode image"})
		return
	}

	bounds := img.Bounds()
	writeJSON(w, http.StatusOK, UploadResponse{
		ID:     assetID,
		URL:    urlPrefix + filename,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Type:   "png",
		Name:   header.Filename,
	})
}

// Serve returns an http.Handler that serves stored asset files with caching headers.
func (h *Handler) Serve() http.Handler {
	fs := http.FileServer(http.Dir(h.dir))
	return http.StripPrefix(urlPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Asset IDs are unique, so files are immutable
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		fs.ServeHTTP(w, r)
	}))
}

// Load returns the orientation-corrected image behind url. Paths under
// /assets/ are read from the asset directory; anything else is fetched.
func (h *Handler) Load(ctx context.Context, url string) (image.Image, error) {
	if strings.HasPrefix(url, urlPrefix) {
		name := filepath.Base(strings.TrimPrefix(url, urlPrefix))
		img, err := imaging.Open(filepath.Join(h.dir, name), imaging.AutoOrientation(true))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
		}
		return img, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %d", ErrHTTPStatus, url, resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxFetchSize), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return img, nil
}

// Probe returns the orientation-corrected pixel size of the image behind url.
func (h *Handler) Probe(ctx context.Context, url string) (int, int, error) {
	img, err := h.Load(ctx, url)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	slog.Debug("probed image size", "url", url, "width", b.Dx(), "height", b.Dy())
	return b.Dx(), b.Dy(), nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
