package api

import (
	"errors"
	"net/http"

	"github.com/technosupport/ts-trapnet/internal/data"
)

type CameraHandler struct {
	Cameras     data.CameraModel
	Deployments data.DeploymentModel
}

func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	cams, err := h.Cameras.ListByProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cams)
}

// Get returns one camera with its cached health snapshot. The camera must
// belong to the project in the URL.
func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.projectCamera(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cam)
}

// ListDeployments returns the camera's deployment periods, oldest first.
func (h *CameraHandler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.projectCamera(w, r)
	if !ok {
		return
	}
	deps, err := h.Deployments.ListByCamera(r.Context(), cam.ID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

// projectCamera loads the camera and verifies it belongs to the project in
// the URL, so a read grant on one project cannot reach another's cameras.
func (h *CameraHandler) projectCamera(w http.ResponseWriter, r *http.Request) (*data.Camera, bool) {
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return nil, false
	}
	cameraID, ok := urlUUID(w, r, "cameraID")
	if !ok {
		return nil, false
	}

	cam, err := h.Cameras.GetByID(r.Context(), cameraID)
	if errors.Is(err, data.ErrCameraNotFound) || errors.Is(err, data.ErrRecordNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}
	if cam.ProjectID == nil || *cam.ProjectID != projectID {
		http.Error(w, "Not Found", http.StatusNotFound)
		return nil, false
	}
	return cam, true
}
