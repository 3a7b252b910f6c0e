package shares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MahdiBaghbani/localbox-go/internal/appctx"
	"github.com/MahdiBaghbani/localbox-go/internal/components/api"
	"github.com/MahdiBaghbani/localbox-go/internal/components/identity"
	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/components/router"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
)

// Handler serves the share and invitation endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler creates a Handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// identityList decodes either a bare JSON array of identities or an object
// carrying them under "identities".
type identityList []Identity

func (l *identityList) UnmarshalJSON(data []byte) error {
	var list []Identity
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var wrapped struct {
		Identities []Identity `json:"identities"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*l = wrapped.Identities
	return nil
}

// Create handles POST share_create/{path}.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	rel, err := pathcodec.Decode(router.Param(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var ids identityList
	if err := api.DecodeJSON(r, &ids); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
		return
	}
	v, err := h.engine.Create(r.Context(), identity.UserFromContext(r.Context()), rel, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, v)
}

// Edit handles shares/{ref}/edit. GET answers the share, POST replaces its
// grantees.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	ref, err := decodeRef(router.Param(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := identity.UserFromContext(r.Context())

	if r.Method != http.MethodPost {
		share, err := h.engine.Lookup(r.Context(), user, ref)
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, h.engine.view(share))
		return
	}

	var ids identityList
	if err := api.DecodeJSON(r, &ids); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
		return
	}
	v, err := h.engine.Edit(r.Context(), user, ref, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, v)
}

// Revoke handles shares/{ref}/revoke.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	ref, err := decodeRef(router.Param(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.Revoke(r.Context(), identity.UserFromContext(r.Context()), ref); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Leave handles shares/{path}/leave.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	rel, err := pathcodec.Decode(router.Param(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.Leave(r.Context(), identity.UserFromContext(r.Context()), rel); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ForPath handles shares/{path}.
func (h *Handler) ForPath(w http.ResponseWriter, r *http.Request) {
	rel, err := pathcodec.Decode(router.Param(r, "path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.engine.ListForPath(r.Context(), identity.UserFromContext(r.Context()), rel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

// All handles shares.
func (h *Handler) All(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListAll(r.Context(), identity.UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

// Invitations handles invitations.
func (h *Handler) Invitations(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Invitations(r.Context(), identity.UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

// Accept handles invite/{id}/accept.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, store.InvitationAccepted)
}

// Reject handles invite/{id}/revoke. The receiver declining an invitation
// marks it rejected; revoked is reserved for the owner's side.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, store.InvitationRejected)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, state string) {
	id, err := strconv.ParseInt(router.Param(r, "id"), 10, 64)
	if err != nil {
		api.WriteNotFound(w, "unknown invitation")
		return
	}
	if err := h.engine.ToggleInvitation(r.Context(), identity.UserFromContext(r.Context()), id, state); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func decodeRef(raw string) (string, error) {
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return raw, nil
	}
	return pathcodec.Decode(raw)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := appctx.GetLogger(r.Context())
	switch {
	case errors.Is(err, pathcodec.ErrInvalidPath):
		api.WriteBadRequest(w, api.ReasonInvalidPath, err.Error())
	case errors.Is(err, ErrInvalidIdentity):
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
	case errors.Is(err, ErrShareNotFound), errors.Is(err, ErrInvitationNotFound), errors.Is(err, ErrSourceNotFound):
		api.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrForbidden):
		api.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrConflict):
		api.WriteConflict(w, err.Error())
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
