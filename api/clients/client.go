package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medledger/record-vault-backend/api"
	"github.com/medledger/record-vault-backend/audit"
	"github.com/medledger/record-vault-backend/interfaces"
)

// VaultClient talks to the record vault HTTP API on behalf of one session
// identity.
type VaultClient struct {
	// ServerAddr is the base URL of the vault server.
	ServerAddr string

	// Identity is the session identity set on every authenticated request.
	Identity interfaces.PrincipalID

	// Capabilities are claimed capability names sent with each request.
	Capabilities []string

	// HTTPClient overrides the transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (c *VaultClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *VaultClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if !c.Identity.IsZero() {
		req.Header.Set(api.IdentityHeader, c.Identity.String())
	}
	if len(c.Capabilities) > 0 {
		req.Header.Set(api.CapabilitiesHeader, strings.Join(c.Capabilities, ","))
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("could not reach vault server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("vault server returned %d for %s", resp.StatusCode, path)
		}
		return fmt.Errorf("vault server returned %d for %s: %s", resp.StatusCode, path, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response from %s: %w", path, err)
	}
	return nil
}

// OpenSession requests a signing session and adopts the returned identity
// for subsequent calls.
func (c *VaultClient) OpenSession(ctx context.Context, ttl time.Duration) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	req := api.SessionRequest{TTLSeconds: int64(ttl / time.Second)}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &resp); err != nil {
		return nil, err
	}

	c.Identity = resp.Identity
	return &resp, nil
}

// ProcessRecord uploads a plaintext payload to the caller's record stream.
func (c *VaultClient) ProcessRecord(ctx context.Context, payload []byte, recordType interfaces.RecordType) (*api.ProcessRecordResponse, error) {
	var resp api.ProcessRecordResponse
	req := api.ProcessRecordRequest{Payload: payload, RecordType: recordType}
	if err := c.do(ctx, http.MethodPost, "/api/records", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetrieveRecord fetches and decrypts the latest payload of a record.
func (c *VaultClient) RetrieveRecord(ctx context.Context, recordID interfaces.RecordID) (*api.RetrieveRecordResponse, error) {
	var resp api.RetrieveRecordResponse
	if err := c.do(ctx, http.MethodGet, "/api/records/"+recordID.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestAccess petitions for access to another patient's record.
func (c *VaultClient) RequestAccess(ctx context.Context, recordID interfaces.RecordID, reason string, level interfaces.AccessLevel) (*interfaces.AccessRequest, error) {
	var resp interfaces.AccessRequest
	req := api.AccessRequestSubmission{Reason: reason, AccessLevel: level}
	if err := c.do(ctx, http.MethodPost, "/api/records/"+recordID.String()+"/requests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GrantAccess approves a pending request on the caller's record.
func (c *VaultClient) GrantAccess(ctx context.Context, recordID interfaces.RecordID, requestID string) (*interfaces.Permission, error) {
	var resp interfaces.Permission
	path := fmt.Sprintf("/api/records/%s/requests/%s/grant", recordID, url.PathEscape(requestID))
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DenyAccess denies a pending request on the caller's record.
func (c *VaultClient) DenyAccess(ctx context.Context, recordID interfaces.RecordID, requestID string) error {
	path := fmt.Sprintf("/api/records/%s/requests/%s/deny", recordID, url.PathEscape(requestID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// RevokeAccess deactivates a granted permission.
func (c *VaultClient) RevokeAccess(ctx context.Context, recordID interfaces.RecordID, permissionID string) error {
	path := fmt.Sprintf("/api/records/%s/permissions/%s/revoke", recordID, url.PathEscape(permissionID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// EmergencyAccess invokes master-capability break-glass access.
func (c *VaultClient) EmergencyAccess(ctx context.Context, recordID interfaces.RecordID, reason string) (*interfaces.EmergencyAccess, error) {
	var resp interfaces.EmergencyAccess
	req := api.EmergencyAccessRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, "/api/records/"+recordID.String()+"/emergency", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeEmergency deactivates an emergency grant on the caller's record.
func (c *VaultClient) RevokeEmergency(ctx context.Context, recordID interfaces.RecordID, grantID string) error {
	path := fmt.Sprintf("/api/records/%s/emergency/%s/revoke", recordID, url.PathEscape(grantID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// AuditTrail fetches the record's projected audit events.
func (c *VaultClient) AuditTrail(ctx context.Context, recordID interfaces.RecordID, limit int) (*api.AuditTrailResponse, error) {
	path := "/api/records/" + recordID.String() + "/audit"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var resp api.AuditTrailResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ComplianceReport fetches a windowed compliance report. Zero times leave
// the window unbounded on that side.
func (c *VaultClient) ComplianceReport(ctx context.Context, recordID interfaces.RecordID, start, end time.Time) (*audit.ComplianceReport, error) {
	query := url.Values{}
	if !start.IsZero() {
		query.Set("start", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		query.Set("end", end.Format(time.RFC3339))
	}

	path := "/api/records/" + recordID.String() + "/compliance"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp audit.ComplianceReport
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
