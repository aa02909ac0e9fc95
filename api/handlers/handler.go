package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medledger/record-vault-backend/accessctl"
	"github.com/medledger/record-vault-backend/api"
	"github.com/medledger/record-vault-backend/audit"
	"github.com/medledger/record-vault-backend/interfaces"
	"github.com/medledger/record-vault-backend/ledger"
	"github.com/medledger/record-vault-backend/pipeline"
)

const (
	// maxBodySize bounds request bodies. Large enough for a base64-encoded
	// payload at the blob size limit, small enough to stop abuse.
	maxBodySize = 16 * 1024 * 1024

	// defaultAuditLimit caps audit trail responses when the caller does not
	// pass an explicit limit.
	defaultAuditLimit = 100
)

// Handler processes HTTP requests for the record vault service.
type Handler struct {
	pipeline *pipeline.Service
	access   *accessctl.StateMachine
	audit    *audit.Projector
	sessions *ledger.SignerRegistry
	log      *slog.Logger
}

// NewHandler creates an HTTP request handler over the given collaborators.
func NewHandler(p *pipeline.Service, access *accessctl.StateMachine, projector *audit.Projector, sessions *ledger.SignerRegistry, log *slog.Logger) *Handler {
	return &Handler{
		pipeline: p,
		access:   access,
		audit:    projector,
		sessions: sessions,
		log:      log,
	}
}

// RegisterRoutes attaches all record vault endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/sessions", h.HandleOpenSession)
	r.Post("/api/records", h.HandleProcessRecord)
	r.Get("/api/records/{record_id}", h.HandleRetrieveRecord)
	r.Post("/api/records/{record_id}/requests", h.HandleRequestAccess)
	r.Post("/api/records/{record_id}/requests/{request_id}/grant", h.HandleGrant)
	r.Post("/api/records/{record_id}/requests/{request_id}/deny", h.HandleDeny)
	r.Post("/api/records/{record_id}/permissions/{permission_id}/revoke", h.HandleRevoke)
	r.Post("/api/records/{record_id}/emergency", h.HandleEmergencyAccess)
	r.Post("/api/records/{record_id}/emergency/{grant_id}/revoke", h.HandleRevokeEmergency)
	r.Get("/api/records/{record_id}/audit", h.HandleAuditTrail)
	r.Get("/api/records/{record_id}/compliance", h.HandleComplianceReport)
}

// caller resolves the request's identity, claimed capabilities and live
// signing session.
func (h *Handler) caller(r *http.Request) (interfaces.CallerContext, interfaces.TransactionSigner, error) {
	identity, err := interfaces.NewPrincipalIDFromHex(r.Header.Get(api.IdentityHeader))
	if err != nil {
		return interfaces.CallerContext{}, nil, &api.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}

	signer, err := h.sessions.SignerFor(identity)
	if err != nil {
		return interfaces.CallerContext{}, nil, err
	}

	caps := api.ParseCapabilities(r.Header.Get(api.CapabilitiesHeader))
	return interfaces.NewCallerContext(identity, caps...), signer, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", slog.String("path", r.URL.Path), "err", err)
	} else {
		h.log.Debug("Request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), "err", err)
	}
	h.writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func recordIDFromRequest(r *http.Request) (interfaces.RecordID, error) {
	recordID, err := interfaces.NewRecordIDFromHex(chi.URLParam(r, "record_id"))
	if err != nil {
		return interfaces.RecordID{}, &api.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	return recordID, nil
}

// HandleOpenSession issues an ephemeral signing session and returns the
// derived identity. Stands in for the external authentication collaborator
// in dev deployments.
//
// URL format: POST /api/sessions
func (h *Handler) HandleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req api.SessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	signer, err := h.sessions.IssueTTL(time.Duration(req.TTLSeconds) * time.Second)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("Session opened", slog.String("identity", signer.CurrentIdentity().String()))
	h.writeJSON(w, http.StatusCreated, api.SessionResponse{
		Identity:  signer.CurrentIdentity(),
		ExpiresAt: signer.ExpiresAt(),
	})
}

// HandleProcessRecord seals and stores a record for the caller's own stream.
//
// URL format: POST /api/records
func (h *Handler) HandleProcessRecord(w http.ResponseWriter, r *http.Request) {
	caller, signer, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req api.ProcessRecordRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.pipeline.ProcessRecord(r.Context(), caller, req.Payload, req.RecordType, signer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, api.ProcessRecordResponse{
		RecordID: res.RecordID,
		BlobRef:  res.BlobRef,
		Checksum: res.Checksum,
		TxDigest: res.TxDigest,
	})
}

// HandleRetrieveRecord authorizes the caller and returns the decrypted
// latest payload of a record stream.
//
// URL format: GET /api/records/{record_id}
func (h *Handler) HandleRetrieveRecord(w http.ResponseWriter, r *http.Request) {
	caller, signer, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.pipeline.RetrieveRecord(r.Context(), caller, recordID, signer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.RetrieveRecordResponse{
		Payload:    res.Payload,
		RecordType: res.Reference.RecordType,
		Basis:      res.Proof.Basis,
		Registered: res.Reference.Timestamp,
	})
}

// HandleRequestAccess submits an access request against a record.
//
// URL format: POST /api/records/{record_id}/requests
func (h *Handler) HandleRequestAccess(w http.ResponseWriter, r *http.Request) {
	caller, signer, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req api.AccessRequestSubmission
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.access.RequestAccess(r.Context(), caller, recordID, req.Reason, req.AccessLevel, signer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// HandleGrant approves a pending access request. Owner only.
//
// URL format: POST /api/records/{record_id}/requests/{request_id}/grant
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	caller, signer, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	perm, err := h.access.Grant(r.Context(), caller, recordID, chi.URLParam(r, "request_id"), signer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, perm)
}

// HandleDeny denies a pending access request. Owner only.
//
// URL format: POST /api/records/{record_id}/requests/{request_id}/deny
func (h *Handler) HandleDeny(w http.ResponseWriter, r *http.Request) {
	caller, signer, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.access.Deny(r.Context(), caller, recordID, chi.URLParam(r, "request_id"), signer); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.StatusResponse{Status: "denied"})
}

// HandleRevoke deactivates a granted permission. Owner only, one-way.
//
// URL format: POST /api/records/{record_id}/permissions/{permission_id}/revoke
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	caller, signer, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.access.Revoke(r.Context(), caller, recordID, chi.URLParam(r, "permission_id"), signer); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.StatusResponse{Status: "revoked"})
}

// HandleEmergencyAccess grants break-glass access to a master-capability
// holder. The claimed capability is re-validated against the ledger.
//
// URL format: POST /api/records/{record_id}/emergency
func (h *Handler) HandleEmergencyAccess(w http.ResponseWriter, r *http.Request) {
	caller, signer, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req api.EmergencyAccessRequest
	if !h.decode(w, r, &req) {
		return
	}

	grant, err := h.access.EmergencyAccess(r.Context(), caller, recordID, req.Reason, signer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, grant)
}

// HandleRevokeEmergency deactivates an emergency grant. Record owner only.
//
// URL format: POST /api/records/{record_id}/emergency/{grant_id}/revoke
func (h *Handler) HandleRevokeEmergency(w http.ResponseWriter, r *http.Request) {
	caller, signer, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.access.RevokeEmergency(r.Context(), caller, recordID, chi.URLParam(r, "grant_id"), signer); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.StatusResponse{Status: "revoked"})
}

// HandleAuditTrail returns the record's projected audit events.
//
// URL format: GET /api/records/{record_id}/audit?limit=N
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := h.audit.Events(r.Context(), recordID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.AuditTrailResponse{RecordID: recordID, Events: events})
}

// HandleComplianceReport returns a windowed compliance report.
//
// URL format: GET /api/records/{record_id}/compliance?start=RFC3339&end=RFC3339
func (h *Handler) HandleComplianceReport(w http.ResponseWriter, r *http.Request) {
	recordID, err := recordIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var start, end time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "Invalid start parameter", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "Invalid end parameter", http.StatusBadRequest)
			return
		}
	}

	report, err := h.audit.Report(r.Context(), recordID, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}
