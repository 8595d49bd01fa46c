package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callhelm/internal/auth"
	"callhelm/internal/calls"
	"callhelm/internal/dashboard"
	"callhelm/internal/rbac"
	"callhelm/internal/reporting"
	"callhelm/internal/telephony"
	"callhelm/internal/usage"
	"callhelm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Calls     *calls.Service
	Dashboard *dashboard.Hub
	Usage     *usage.Service
	Reporting *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	MemberID string `json:"member_id"`
	OrgID    string `json:"org_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Credential validation is delegated to the identity provider upstream;
// this endpoint only mints tokens for already-verified members.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.MemberID == "" || req.OrgID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "member_id, org_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.MemberID, req.OrgID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	ContactID   string `json:"contact_id,omitempty"`
	CallListID  string `json:"call_list_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	ScriptID    string `json:"script_id,omitempty"`

	// Provider is honored only for "mock" outside production.
	Provider string `json:"provider,omitempty"`

	UseBridgeFlow bool `json:"use_bridge_flow,omitempty"`
}

// InitiateCall places an outbound call for the authenticated member.
func (h Handlers) InitiateCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	memberID, _ := auth.MemberID(c.Request.Context())

	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}

	out, err := h.Calls.Initiate(c.Request.Context(), calls.InitiateInput{
		OrgID:            orgID,
		MemberID:         memberID,
		PhoneNumber:      req.PhoneNumber,
		ContactID:        req.ContactID,
		CallListID:       req.CallListID,
		CampaignID:       req.CampaignID,
		ScriptID:         req.ScriptID,
		ProviderOverride: req.Provider,
		UseBridgeFlow:    req.UseBridgeFlow,
	})
	if err != nil {
		h.renderCallError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"call_id":     out.Call.ID,
		"external_id": out.Call.ExternalID,
		"status":      out.Call.Status,
	})
}

type timeoutCallRequest struct {
	TimeoutStage string `json:"timeout_stage"`
	TimeoutAt    string `json:"timeout_at,omitempty"`
}

// TimeoutCall closes a stuck call. 404 covers both an unknown id and a call
// the webhook writer already closed; from the caller's view the open call it
// targeted no longer exists.
func (h Handlers) TimeoutCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	callID := c.Param("id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call id required"})
		return
	}

	var req timeoutCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.TimeoutStage == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "timeout_stage required"})
		return
	}
	var at time.Time
	if req.TimeoutAt != "" {
		at, err = time.Parse(time.RFC3339, req.TimeoutAt)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "timeout_at must be RFC3339"})
			return
		}
	}

	call, err := h.Calls.MarkTimeout(c.Request.Context(), orgID, callID, req.TimeoutStage, at)
	if err != nil {
		h.renderCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"call_id":  call.ID,
		"status":   call.Status,
		"ended_at": call.EndedAt,
	})
}

// GetCall returns a single call row, scoped to the caller's org.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	call, err := h.Calls.GetCall(c.Request.Context(), orgID, c.Param("id"))
	if err != nil {
		h.renderCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) renderCallError(c *gin.Context, err error) {
	var quotaErr *usage.QuotaExceededError
	var vendorErr *telephony.VendorError

	switch {
	case errors.Is(err, calls.ErrInvalidNumber):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
	case errors.Is(err, calls.ErrNoOutboundIdentity):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no outbound number or agent endpoint configured"})
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.As(err, &quotaErr):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":            "plan quota exceeded",
			"tier":             quotaErr.Tier,
			"used_minutes":     quotaErr.UsedMinutes,
			"included_minutes": quotaErr.IncludedMinutes,
		})
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, calls.ErrAlreadyEnded):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found or already ended"})
	case errors.Is(err, calls.ErrTooManyCalls):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "concurrent call limit reached"})
	case errors.Is(err, telephony.ErrNotConfigured):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "telephony provider not configured"})
	case errors.As(err, &vendorErr):
		logger.FromGin(c).Error("vendor rejected call", "provider", vendorErr.Provider, "vendor_status", vendorErr.StatusCode, "msg", vendorErr.Message)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call placement failed"})
	default:
		logger.FromGin(c).Error("call operation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- Dashboard ---

// GetBoard returns the live board snapshot plus channel health.
func (h Handlers) GetBoard(c *gin.Context) {
	board, ok := h.orgBoard(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, board.Snapshot())
}

func (h Handlers) GetStats(c *gin.Context) {
	board, ok := h.orgBoard(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, board.Stats())
}

func (h Handlers) GetAgents(c *gin.Context) {
	board, ok := h.orgBoard(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": board.Snapshot().Agents})
}

// RefreshBoard forces a full reconcile.
func (h Handlers) RefreshBoard(c *gin.Context) {
	if h.Dashboard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dashboard not configured"})
		return
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	if err := h.Dashboard.Reconcile(c.Request.Context(), orgID); err != nil {
		logger.FromGin(c).Error("manual reconcile failed", "org_id", orgID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": true})
}

func (h Handlers) orgBoard(c *gin.Context) (*dashboard.Board, bool) {
	if h.Dashboard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dashboard not configured"})
		return nil, false
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return nil, false
	}
	board, err := h.Dashboard.Board(c.Request.Context(), orgID)
	if err != nil {
		logger.FromGin(c).Error("board load failed", "org_id", orgID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "board unavailable"})
		return nil, false
	}
	return board, true
}

// --- Usage ---

func (h Handlers) GetUsage(c *gin.Context) {
	if h.Usage == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "usage not configured"})
		return
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	u, err := h.Usage.PeriodUsage(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, usage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no plan configured"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "usage lookup failed"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// --- Reports ---

// ExportTodayCalls streams today's calls as an xlsx workbook.
func (h Handlers) ExportTodayCalls(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="calls-today.xlsx"`)

	req := reporting.CallsSummaryRequest{
		OrgID:      orgID,
		Range:      h.Reporting.TodayRange(),
		CampaignID: c.Query("campaign_id"),
	}
	if err := h.Reporting.ExportCallsXLSX(c.Request.Context(), req, c.Writer); err != nil {
		logger.FromGin(c).Error("report export failed", "org_id", orgID, "err", err)
		// Headers may already be out; too late for a clean error body.
		c.Abort()
	}
}

// Convenience middleware bundles.

func RequireOrgAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOrg(), rbac.RequireAnyRole(roles...)}
}
