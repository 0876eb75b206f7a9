package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"sprisk/application"
	"sprisk/domain/scan"
	"sprisk/logging"
)

// OperationHandlers exposes the operation lifecycle over JSON: start
// endpoints that never block on the work, a polling endpoint for the
// shared progress state, and the synchronous risk report.
type OperationHandlers struct {
	auditService *application.AuditService
	logger       *logging.Logger
}

// NewOperationHandlers creates the operation handler set.
func NewOperationHandlers(auditService *application.AuditService) *OperationHandlers {
	return &OperationHandlers{
		auditService: auditService,
		logger:       logging.Default().WithComponent("operation_handler"),
	}
}

type startRequest struct {
	Scope   string `json:"scope"`
	SiteURL string `json:"site_url"`
	Policy  string `json:"policy"`
}

type startResponse struct {
	OperationID string `json:"operation_id"`
	Type        string `json:"type"`
	Scope       string `json:"scope"`
}

// StartEnumeration handles POST /operations/enumerate.
func (h *OperationHandlers) StartEnumeration(w http.ResponseWriter, r *http.Request) {
	req := h.decodeStart(r)
	session, err := h.auditService.StartEnumeration(req.Scope)
	h.respondStart(w, session, err)
}

// StartAnalysis handles POST /operations/analyze.
func (h *OperationHandlers) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	req := h.decodeStart(r)
	if req.SiteURL == "" {
		http.Error(w, "site_url is required", http.StatusBadRequest)
		return
	}
	session, err := h.auditService.StartPermissionAnalysis(req.SiteURL, scan.ScanPolicy(req.Policy))
	h.respondStart(w, session, err)
}

// StartEnrichment handles POST /operations/enrich.
func (h *OperationHandlers) StartEnrichment(w http.ResponseWriter, r *http.Request) {
	req := h.decodeStart(r)
	session, err := h.auditService.StartEnrichment(req.Scope)
	h.respondStart(w, session, err)
}

// StartMatrix handles POST /operations/matrix.
func (h *OperationHandlers) StartMatrix(w http.ResponseWriter, r *http.Request) {
	req := h.decodeStart(r)
	if req.SiteURL == "" {
		http.Error(w, "site_url is required", http.StatusBadRequest)
		return
	}
	session, err := h.auditService.StartMatrixCollection(req.SiteURL, scan.ScanPolicy(req.Policy))
	h.respondStart(w, session, err)
}

// GetProgress handles GET /operations/progress. Pollers call this until
// complete is true.
func (h *OperationHandlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.auditService.GetProgress())
}

// GetRisk handles GET /risk with a synchronous assessment of the
// collected data.
func (h *OperationHandlers) GetRisk(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.auditService.GetRiskAssessment())
}

// decodeStart tolerates an empty or absent body; every field is optional
// at the transport level.
func (h *OperationHandlers) decodeStart(r *http.Request) startRequest {
	var req startRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req
}

func (h *OperationHandlers) respondStart(w http.ResponseWriter, session *scan.OperationSession, err error) {
	if err != nil {
		if errors.Is(err, application.ErrOperationRunning) {
			h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to start operation", "error", err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusAccepted, startResponse{
		OperationID: session.ID,
		Type:        string(session.Type),
		Scope:       session.Scope,
	})
}

func (h *OperationHandlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err.Error())
	}
}
