package files

import (
	"context"
	"errors"
	"net/http"

	"github.com/MahdiBaghbani/localbox-go/internal/appctx"
	"github.com/MahdiBaghbani/localbox-go/internal/components/api"
	"github.com/MahdiBaghbani/localbox-go/internal/components/identity"
	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/components/router"
)

// Handler serves the files, meta and operations endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type pathRequest struct {
	Path string `json:"path" validate:"required"`
}

type pairRequest struct {
	FromPath string `json:"from_path" validate:"required"`
	ToPath   string `json:"to_path" validate:"required"`
}

// Files downloads (GET) or uploads (POST) the path in the "path" route group.
// A directory download answers its listing.
func (h *Handler) Files(w http.ResponseWriter, r *http.Request) {
	rel, err := pathcodec.Decode(router.Param(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := identity.UserFromContext(r.Context())

	if r.Method == http.MethodPost {
		n, err := h.svc.Upload(r.Context(), user, rel, r.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		appctx.GetLogger(r.Context()).Debug("file uploaded", "path", pathcodec.Canonical(rel), "bytes", n)
		w.WriteHeader(http.StatusOK)
		return
	}

	f, info, err := h.svc.Open(r.Context(), user, rel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	if info.IsDir() {
		listing, err := h.svc.Listing(r.Context(), user, rel)
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, listing)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// Meta answers the metadata of a path; directories include their children.
func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	rel, err := pathcodec.Decode(router.Param(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.svc.Listing(r.Context(), identity.UserFromContext(r.Context()), rel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, m)
}

// CreateFolder handles POST operations/create_folder.
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.svc.CreateFolder)
}

// Delete handles POST operations/delete.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.svc.Delete)
}

// Move handles POST operations/move.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	h.pair(w, r, h.svc.Move)
}

// Copy handles POST operations/copy.
func (h *Handler) Copy(w http.ResponseWriter, r *http.Request) {
	h.pair(w, r, h.svc.Copy)
}

func (h *Handler) single(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, user, rel string) error) {
	var req pathRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
		return
	}
	if err := op(r.Context(), identity.UserFromContext(r.Context()), req.Path); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) pair(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, user, from, to string) error) {
	var req pairRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
		return
	}
	if err := op(r.Context(), identity.UserFromContext(r.Context()), req.FromPath, req.ToPath); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeError maps service errors onto the JSON error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := appctx.GetLogger(r.Context())
	switch {
	case errors.Is(err, pathcodec.ErrInvalidPath):
		api.WriteBadRequest(w, api.ReasonInvalidPath, err.Error())
	case errors.Is(err, ErrNotFound):
		api.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		api.WriteConflict(w, err.Error())
	case errors.Is(err, ErrTooLarge):
		api.WriteError(w, http.StatusRequestEntityTooLarge, api.ReasonPayloadTooLarge, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("request cancelled", "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, api.ReasonInternalError, "request cancelled")
	case errors.Is(err, ErrDatastore):
		log.Error("datastore failure", "error", err)
		api.WriteInternalError(w, api.ReasonDatastoreError, "datastore error")
	case errors.Is(err, ErrIO):
		log.Error("filesystem failure", "error", err)
		api.WriteInternalError(w, api.ReasonIOError, "filesystem error")
	default:
		log.Error("unexpected failure", "error", err)
		api.WriteInternalError(w, api.ReasonInternalError, "internal error")
	}
}
