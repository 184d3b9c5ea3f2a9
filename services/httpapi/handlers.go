package httpapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	approvaldomain "github.com/HZeroxium/fleet-control/domain/approval"
	"github.com/HZeroxium/fleet-control/domain/heartbeat"
	registrydomain "github.com/HZeroxium/fleet-control/domain/registry"
	"github.com/HZeroxium/fleet-control/infrastructure/cache"
	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/httputil"
	"github.com/HZeroxium/fleet-control/infrastructure/resilience"
)

type handlers struct {
	deps Deps
}

var validate = validator.New()

// --- heartbeat intake ---

func (h *handlers) postHeartbeat(w http.ResponseWriter, r *http.Request) {
	var payload heartbeat.Payload
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	if err := validate.Struct(&payload); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("payload", err.Error()))
		return
	}
	if err := h.deps.Ingestor.Accept(r.Context(), &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- fleet queries ---

func (h *handlers) listFleet(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Fleet.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, apperrors.DatabaseError("fleet.list", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *handlers) listFleetByService(w http.ResponseWriter, r *http.Request) {
	serviceName := mux.Vars(r)["serviceName"]
	entries, err := h.deps.Fleet.ListByService(r.Context(), serviceName)
	if err != nil {
		httputil.WriteError(w, r, apperrors.DatabaseError("fleet.list", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

// --- catalog ---

type createServiceRequest struct {
	DisplayName  string   `json:"displayName" validate:"required"`
	OwnerTeamID  string   `json:"ownerTeamId"`
	RepoURL      string   `json:"repoUrl"`
	Environments []string `json:"environments"`
	Tags         []string `json:"tags"`
}

func (h *handlers) createService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("body", err.Error()))
		return
	}
	svc, err := h.deps.Registry.CreateService(r.Context(), req.DisplayName, req.OwnerTeamID, req.RepoURL, req.Environments, req.Tags)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, svc)
}

func (h *handlers) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.deps.Registry.ListServices(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, services)
}

func (h *handlers) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.deps.Registry.GetService(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, svc)
}

// --- shares ---

type grantShareRequest struct {
	GrantToType  string     `json:"grantToType" validate:"required,oneof=TEAM USER"`
	GrantToID    string     `json:"grantToId" validate:"required"`
	Permissions  []string   `json:"permissions" validate:"required,min=1"`
	Environments []string   `json:"environments"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	CreatedBy    string     `json:"createdBy" validate:"required"`
}

func (h *handlers) grantShare(w http.ResponseWriter, r *http.Request) {
	var req grantShareRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("body", err.Error()))
		return
	}
	permissions := make([]registrydomain.Permission, len(req.Permissions))
	for i, p := range req.Permissions {
		permissions[i] = registrydomain.Permission(p)
	}
	share, err := h.deps.Registry.GrantShare(r.Context(), &registrydomain.ServiceShare{
		ServiceID:    mux.Vars(r)["id"],
		GrantToType:  registrydomain.GrantType(req.GrantToType),
		GrantToID:    req.GrantToID,
		Permissions:  permissions,
		Environments: req.Environments,
		ExpiresAt:    req.ExpiresAt,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, share)
}

func (h *handlers) listShares(w http.ResponseWriter, r *http.Request) {
	shares, err := h.deps.Registry.ListShares(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, shares)
}

func (h *handlers) revokeShare(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Registry.RevokeShare(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- approvals ---

type createApprovalRequest struct {
	RequesterUserID string                  `json:"requesterUserId" validate:"required"`
	RequestType     string                  `json:"requestType" validate:"required"`
	TeamID          string                  `json:"teamId"`
	Snapshot        approvaldomain.Snapshot `json:"snapshot"`
}

func (h *handlers) createApprovalRequest(w http.ResponseWriter, r *http.Request) {
	var req createApprovalRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("body", err.Error()))
		return
	}
	serviceID := mux.Vars(r)["id"]
	if _, err := h.deps.Registry.GetService(r.Context(), serviceID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	target := approvaldomain.Target{ServiceID: serviceID, TeamID: req.TeamID}
	created, err := h.deps.Approvals.Create(r.Context(), req.RequesterUserID, approvaldomain.RequestType(req.RequestType), target, req.Snapshot)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handlers) getApprovalRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.deps.Approvals.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

type decisionRequest struct {
	ApproverUserID string `json:"approverUserId" validate:"required"`
	Gate           string `json:"gate" validate:"required"`
	Decision       string `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Note           string `json:"note"`
}

func (h *handlers) postDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("body", err.Error()))
		return
	}
	updated, err := h.deps.Approvals.RecordDecision(r.Context(), mux.Vars(r)["id"], req.ApproverUserID, req.Gate, approvaldomain.DecisionKind(req.Decision), req.Note)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

type cancelRequest struct {
	ActorUserID string `json:"actorUserId" validate:"required"`
}

func (h *handlers) cancelApprovalRequest(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("body", err.Error()))
		return
	}
	updated, err := h.deps.Approvals.Cancel(r.Context(), mux.Vars(r)["id"], req.ActorUserID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// --- cache surface ---

func (h *handlers) cacheStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.deps.Cache.Status())
}

type switchProviderRequest struct {
	Provider string `json:"provider" validate:"required"`
}

func (h *handlers) switchCacheProvider(w http.ResponseWriter, r *http.Request) {
	var req switchProviderRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	provider, err := cache.ParseProvider(req.Provider)
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("provider", err.Error()))
		return
	}
	if err := h.deps.Cache.SwitchProvider(provider); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("provider", err.Error()))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.deps.Cache.Status())
}

// --- health ---

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	status := resilience.HealthUp
	var breakers map[string]string
	if h.deps.Health != nil {
		status = h.deps.Health.Status()
		breakers = h.deps.Health.Breakers()
	}
	code := http.StatusOK
	if status == resilience.HealthDown {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]interface{}{
		"status":   status,
		"breakers": breakers,
	})
}
