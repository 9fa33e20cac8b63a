package apiapp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/formdef"
	"github.com/phillip-england/onboarding/internal/onboarding"
	"github.com/phillip-england/onboarding/internal/store"
)

const maxJSONBody = 1 << 20

type upload struct {
	Data     []byte
	MIME     string
	FileName string
	Size     int64
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return json.NewDecoder(r.Body).Decode(dest)
}

// readUpload reads the multipart "file" part. Files larger than maxBytes
// are reported with their real size so callers can produce a size message.
func readUpload(r *http.Request, maxBytes int64) (*upload, error) {
	if err := r.ParseMultipartForm(maxBytes + (2 << 20)); err != nil {
		return nil, errors.New("invalid upload form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("file is required")
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, errors.New("unable to read uploaded file")
	}
	if len(raw) == 0 {
		return nil, errors.New("uploaded file is empty")
	}
	size := int64(len(raw))
	if header.Size > size {
		size = header.Size
	}
	fileName := strings.TrimSpace(header.Filename)
	if fileName == "" {
		fileName = "upload.bin"
	}
	return &upload{
		Data:     raw,
		MIME:     http.DetectContentType(raw),
		FileName: fileName,
		Size:     size,
	}, nil
}

func (s *server) writeStoreError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, onboarding.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, onboarding.ErrReasonRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(action+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, action+" failed")
	}
}

func writeFieldErrors(w http.ResponseWriter, fieldErrors formdef.Errors) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":       "Please fix the highlighted fields",
		"fieldErrors": fieldErrors,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
