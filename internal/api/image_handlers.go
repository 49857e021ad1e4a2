package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-trapnet/internal/data"
)

type ImageHandler struct {
	Images          data.ImageModel
	Cameras         data.CameraModel
	Detections      data.DetectionModel
	Classifications data.ClassificationModel
	Observations    data.ObservationModel
}

// ImageDetail bundles the image with its AI output and curator observations.
type ImageDetail struct {
	Image           *data.Image            `json:"image"`
	Detections      []*data.Detection      `json:"detections"`
	Classifications []*data.Classification `json:"classifications"`
	Observations    []*data.Observation    `json:"observations"`
}

func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	img, ok := h.projectImage(w, r)
	if !ok {
		return
	}

	dets, err := h.Detections.ListByImage(r.Context(), img.ID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	cls, err := h.Classifications.ListByImage(r.Context(), img.ID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	obs, err := h.Observations.ListByImage(r.Context(), img.ID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ImageDetail{
		Image:           img,
		Detections:      dets,
		Classifications: cls,
		Observations:    obs,
	})
}

type VerifyRequest struct {
	Verified bool `json:"verified"`
}

// Verify flips the curator flag. A verified image's human observations
// override AI output in every aggregation.
func (h *ImageHandler) Verify(w http.ResponseWriter, r *http.Request) {
	img, ok := h.projectImage(w, r)
	if !ok {
		return
	}
	var req VerifyRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.Images.SetVerified(r.Context(), img.ID, req.Verified); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ObservationRequest struct {
	Species string `json:"species"`
	Count   int    `json:"count"`
}

func (h *ImageHandler) CreateObservation(w http.ResponseWriter, r *http.Request) {
	img, ok := h.projectImage(w, r)
	if !ok {
		return
	}
	var req ObservationRequest
	if !readJSON(w, r, &req) {
		return
	}

	o := &data.Observation{ImageID: img.ID, Species: req.Species, Count: req.Count}
	err := h.Observations.Create(r.Context(), o)
	if errors.Is(err, data.ErrInvalidCount) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *ImageHandler) UpdateObservation(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.projectImage(w, r); !ok {
		return
	}
	obsID, ok := h.observationID(w, r)
	if !ok {
		return
	}
	var req ObservationRequest
	if !readJSON(w, r, &req) {
		return
	}

	o := &data.Observation{ID: obsID, Species: req.Species, Count: req.Count}
	err := h.Observations.Update(r.Context(), o)
	switch {
	case errors.Is(err, data.ErrInvalidCount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, data.ErrRecordNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case err != nil:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, o)
	}
}

func (h *ImageHandler) DeleteObservation(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.projectImage(w, r); !ok {
		return
	}
	obsID, ok := h.observationID(w, r)
	if !ok {
		return
	}
	err := h.Observations.Delete(r.Context(), obsID)
	if errors.Is(err, data.ErrRecordNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ImageHandler) observationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "observationID"), 10, 64)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return 0, false
	}
	return id, true
}

// projectImage loads the image and walks image -> camera -> project to keep
// cross-project reads out.
func (h *ImageHandler) projectImage(w http.ResponseWriter, r *http.Request) (*data.Image, bool) {
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return nil, false
	}
	imageID, ok := urlUUID(w, r, "imageID")
	if !ok {
		return nil, false
	}

	img, err := h.Images.GetByID(r.Context(), imageID)
	if errors.Is(err, data.ErrRecordNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}

	cam, err := h.Cameras.GetByID(r.Context(), img.CameraID)
	if err != nil || cam.ProjectID == nil || *cam.ProjectID != projectID {
		http.Error(w, "Not Found", http.StatusNotFound)
		return nil, false
	}
	return img, true
}
