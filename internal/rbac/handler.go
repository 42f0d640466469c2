package rbac

import (
	"context"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/marcoraddatz/entrust/internal/platform/httpx"
)

// Handler exposes the evaluation and assignment API over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers the authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users/{userID}/roles", h.listUserRoles)
	r.Post("/users/{userID}/roles", h.attachRoles)
	r.Delete("/users/{userID}/roles", h.detachRoles)
	r.Delete("/users/{userID}", h.deleteUser)
	r.Post("/users/{userID}/restore", h.restoreUser)

	r.Get("/roles/{roleID}/permissions", h.listRolePermissions)
	r.Post("/roles/{roleID}/permissions", h.attachPermissions)
	r.Delete("/roles/{roleID}/permissions", h.detachPermissions)
	r.Put("/roles/{roleID}/permissions", h.syncPermissions)
	r.Delete("/roles/{roleID}", h.deleteRole)
	r.Post("/roles/{roleID}/restore", h.restoreRole)

	r.Post("/check/role", h.checkRole)
	r.Post("/check/permission", h.checkPermission)
	r.Post("/ability", h.ability)
}

type assignRequest struct {
	// Targets holds ids or records shaped like {"id": ...}.
	Targets []any `json:"targets"`
}

type syncRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type checkRequest struct {
	UserID     int64 `json:"user_id" validate:"required"`
	Names      any   `json:"names" validate:"required"`
	RequireAll bool  `json:"require_all"`
}

type abilityRequest struct {
	UserID      int64 `json:"user_id" validate:"required"`
	Roles       any   `json:"roles"`
	Permissions any   `json:"permissions"`
	Options     struct {
		ValidateAll any    `json:"validate_all"`
		ReturnType  string `json:"return_type"`
	} `json:"options"`
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	roles, err := h.service.RolesFor(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	perms, err := h.service.PermissionsFor(r.Context(), roleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) attachRoles(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "userID", func(id int64, req assignRequest) error {
		return h.service.AttachRoles(r.Context(), id, req.Targets)
	})
}

func (h *Handler) detachRoles(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "userID", func(id int64, req assignRequest) error {
		return h.service.DetachRoles(r.Context(), id, req.Targets)
	})
}

func (h *Handler) attachPermissions(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "roleID", func(id int64, req assignRequest) error {
		return h.service.AttachPermissions(r.Context(), id, req.Targets)
	})
}

func (h *Handler) detachPermissions(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "roleID", func(id int64, req assignRequest) error {
		return h.service.DetachPermissions(r.Context(), id, req.Targets)
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, param string, apply func(int64, assignRequest) error) {
	id, ok := pathID(w, r, param)
	if !ok {
		return
	}
	var req assignRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
			return
		}
	}
	if err := apply(id, req); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "userID", h.service.DeleteUser)
}

func (h *Handler) restoreUser(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "userID", h.service.RestoreUser)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "roleID", h.service.DeleteRole)
}

func (h *Handler) restoreRole(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "roleID", h.service.RestoreRole)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, param string, apply func(context.Context, int64) error) {
	id, ok := pathID(w, r, param)
	if !ok {
		return
	}
	if err := apply(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) syncPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req syncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.service.SavePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) checkRole(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, h.service.HasRole)
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, h.service.Can)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request, eval func(ctx context.Context, userID int64, names any, requireAll bool) (bool, error)) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	granted, err := eval(r.Context(), req.UserID, req.Names, req.RequireAll)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"granted": granted})
}

func (h *Handler) ability(w http.ResponseWriter, r *http.Request) {
	var req abilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	opts := AbilityOptions{ValidateAll: req.Options.ValidateAll, ReturnType: req.Options.ReturnType}
	res, err := h.service.Ability(r.Context(), req.UserID, req.Roles, req.Permissions, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("authz request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
