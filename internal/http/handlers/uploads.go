package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// maxReferenceImageBytes bounds uploaded character references.
const maxReferenceImageBytes = 10 << 20

// ReferenceImageUpload stores a character reference image and returns the
// key that job creation accepts as reference_key. The image conditions scene
// keyframe generation for visual consistency.
func (a *App) ReferenceImageUpload(w http.ResponseWriter, r *http.Request) {
	if a.Store == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "file storage is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxReferenceImageBytes)

	data, err := readReferenceImage(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "image exceeds the upload limit")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	key := fmt.Sprintf("references/%s.png", uuid.NewString())
	stored, err := a.Store.Write(r.Context(), key, data)
	if err != nil {
		a.Logger.Error().Err(err).Msg("store reference image")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store image")
		return
	}

	a.json(w, http.StatusCreated, map[string]string{"reference_key": stored})
}

// readReferenceImage expects r.Body to already be wrapped by
// http.MaxBytesReader so both the raw and multipart paths share the
// size limit; *http.MaxBytesError is passed through for the handler to
// map to 413.
func readReferenceImage(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxReferenceImageBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("invalid multipart form")
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("image field is required")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read image")
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("image is empty")
		}
		return data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read image")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	return data, nil
}
