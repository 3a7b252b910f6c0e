package keys

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

// Handler serves the user, key and identities endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type userRequest struct {
	PublicKey  string `json:"public_key" validate:"required"`
	PrivateKey string `json:"private_key"`
}

type keyRequest struct {
	Key  string `json:"key" validate:"required"`
	IV   string `json:"iv" validate:"required"`
	User string `json:"user"`
}

type revokeRequest struct {
	Username string `json:"username"`
}

// Self handles GET and POST user.
func (h *Handler) Self(w http.ResponseWriter, r *http.Request) {
	caller := identity.UserFromContext(r.Context())
	if r.Method == http.MethodPost {
		var req userRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
			return
		}
		if err := h.svc.PutUser(r.Context(), caller, req.PublicKey, req.PrivateKey); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	h.user(w, r, caller)
}

// User handles GET user/{name}.
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	name, err := pathcodec.Decode(router.Param(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.user(w, r, name)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request, name string) {
	v, err := h.svc.User(r.Context(), identity.UserFromContext(r.Context()), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, v)
}

// Key handles GET and POST key/{path}.
func (h *Handler) Key(w http.ResponseWriter, r *http.Request) {
	rel, err := pathcodec.Decode(router.Param(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	caller := identity.UserFromContext(r.Context())

	if r.Method == http.MethodPost {
		var req keyRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
			return
		}
		if err := h.svc.PutKey(r.Context(), caller, req.User, rel, KeyView{Key: req.Key, IV: req.IV}); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	v, err := h.svc.Key(r.Context(), caller, rel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, v)
}

// Revoke handles POST key_revoke/{path}. The body is optional.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	rel, err := pathcodec.Decode(router.Param(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req revokeRequest
	if err := api.DecodeJSON(r, &req); err != nil && !errors.Is(err, api.ErrEmptyBody) {
		api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
		return
	}
	if err := h.svc.RevokeKey(r.Context(), identity.UserFromContext(r.Context()), req.Username, rel); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Identities handles GET identities.
func (h *Handler) Identities(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Identities(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pathcodec.ErrInvalidPath):
		api.WriteBadRequest(w, api.ReasonInvalidPath, err.Error())
	case errors.Is(err, ErrUnknownUser):
		api.WriteNotFound(w, "Unknown user")
	case errors.Is(err, ErrNoKey):
		api.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrForbidden):
		api.WriteForbidden(w, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		api.WriteError(w, http.StatusServiceUnavailable, api.ReasonInternalError, "request cancelled")
	default:
		appctx.GetLogger(r.Context()).Error("key store failure", "error", err)
		api.WriteInternalError(w, api.ReasonDatastoreError, "datastore error")
	}
}
