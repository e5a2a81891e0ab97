package devapi

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"contenthub.org/internal/audit"
	"contenthub.org/internal/ids"
)

const maxUploadBytes = 32 << 20

// Upload describes an accepted file. The bytes themselves are discarded.
type Upload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	SHA256      string    `json:"sha256"`
	URL         string    `json:"url"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type uploads struct {
	mu    sync.RWMutex
	items []Upload
}

func newUploads() *uploads { return &uploads{} }

func (u *uploads) list() []Upload {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]Upload(nil), u.items...)
}

func (u *uploads) handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart body is required")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		h := sha256.New()
		n, err := io.Copy(h, part)
		_ = part.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "file is too large")
				return
			}
			writeError(w, http.StatusBadRequest, "read upload")
			return
		}

		id := ids.New()
		up := Upload{
			ID:          id,
			Name:        filepath.Base(part.FileName()),
			Size:        n,
			ContentType: part.Header.Get("Content-Type"),
			SHA256:      hex.EncodeToString(h.Sum(nil)),
			URL:         "/uploads/" + id,
			OwnerID:     viewerID(r.Context()),
			CreatedAt:   time.Now().UTC(),
		}
		u.mu.Lock()
		u.items = append(u.items, up)
		u.mu.Unlock()

		_ = audit.LogEvent(r.Context(), "upload.accepted", map[string]any{"id": id, "size": n})
		writeJSON(w, http.StatusCreated, up)
		return
	}
	writeError(w, http.StatusBadRequest, `multipart field "file" is required`)
}
