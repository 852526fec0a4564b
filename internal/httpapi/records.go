package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/admission"
	"github.com/attestary/attestary/internal/archive"
	"github.com/attestary/attestary/internal/identity"
	"github.com/attestary/attestary/internal/record"
	"github.com/attestary/attestary/internal/store"
	"github.com/attestary/attestary/pkg/agentid"
)

// recordArchive is the interface RecordHandler needs from the archive
// layer. *archive.Manager satisfies it.
type recordArchive interface {
	Create(ctx context.Context, req archive.CreateRequest) (*record.Record, error)
	Read(ctx context.Context, agentID string, start, end int64, serviceTag string) (*archive.ReadResult, error)
	ReadLatest(ctx context.Context, agentID string, end int64, serviceTag string) (*archive.ReadResult, error)
	BuildKeyList(ctx context.Context, agentID, serviceTag string) (*archive.KeyList, error)
}

// agentLister is the slice of the key directory the handler needs for
// the agents index. Both keydir implementations satisfy it.
type agentLister interface {
	ListAgents(ctx context.Context) ([]string, error)
}

// RecordHandler handles HTTP requests for the evidence record API.
type RecordHandler struct {
	archive   recordArchive
	agents    agentLister           // nil = agents index disabled
	receipts  *identity.TokenIssuer // nil = no archival receipts
	guard     *AuthGuard            // nil = open access
	openReads bool
	logger    *zap.Logger
}

// NewRecordHandler creates a RecordHandler. guard may be nil, which
// leaves every route unauthenticated (development mode). Reads start
// out open even with a guard; see SetOpenReads.
func NewRecordHandler(arch recordArchive, guard *AuthGuard, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{
		archive:   arch,
		guard:     guard,
		openReads: true,
		logger:    logger,
	}
}

// SetAgentLister enables the agents index, backed by the key directory.
func (h *RecordHandler) SetAgentLister(l agentLister) {
	h.agents = l
}

// SetReceiptIssuer makes create responses carry a signed archival
// receipt for the stored record.
func (h *RecordHandler) SetReceiptIssuer(ti *identity.TokenIssuer) {
	h.receipts = ti
}

// SetOpenReads toggles authentication on the read routes. Writes
// always require credentials when a guard is set.
func (h *RecordHandler) SetOpenReads(open bool) {
	h.openReads = open
}

// requireWrite returns the auth middleware for mutating routes, or a
// no-op if no guard is configured.
func (h *RecordHandler) requireWrite() gin.HandlerFunc {
	if h.guard == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h.guard.Require(ScopeRecordsWrite)
}

// requireRead returns the auth middleware for read routes, or a no-op
// if no guard is configured or reads are open.
func (h *RecordHandler) requireRead() gin.HandlerFunc {
	if h.guard == nil || h.openReads {
		return func(c *gin.Context) { c.Next() }
	}
	return h.guard.Require(ScopeRecordsRead)
}

// Register mounts the record routes on the given router group.
func (h *RecordHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.GET("", h.requireRead(), h.ListAgents)
		agents.POST("/:agent_id/records", h.requireWrite(), h.CreateRecord)
		agents.GET("/:agent_id/records", h.requireRead(), h.ReadRecords)
		agents.GET("/:agent_id/keylist", h.requireRead(), h.BuildKeyList)
	}
}

// createRecordRequest is the JSON body for record submission. The
// timestamp is optional; zero means "now" on the archive's clock.
type createRecordRequest struct {
	Identity         map[string]any  `json:"identity"`
	Evidence         map[string]any  `json:"evidence"`
	MBPolicy         json.RawMessage `json:"mb_policy,omitempty"`
	RuntimePolicy    json.RawMessage `json:"runtime_policy,omitempty"`
	Timestamp        int64           `json:"timestamp,omitempty"`
	SignedAttributes []string        `json:"signed_attributes,omitempty"`
}

// CreateRecord handles POST /agents/:agent_id/records — signs and
// archives one evidence record.
func (h *RecordHandler) CreateRecord(c *gin.Context) {
	id, err := agentid.Normalize(c.Param("agent_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req createRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.archive.Create(c.Request.Context(), archive.CreateRequest{
		AgentID:          id,
		ServiceTag:       c.Query("service"),
		Timestamp:        req.Timestamp,
		Identity:         req.Identity,
		Evidence:         req.Evidence,
		MBPolicy:         req.MBPolicy,
		RuntimePolicy:    req.RuntimePolicy,
		SignedAttributes: req.SignedAttributes,
	})
	if err != nil {
		h.writeCreateError(c, err)
		return
	}

	resp := gin.H{"record": rec}
	if h.receipts != nil {
		receipt, err := h.receipts.IssueReceipt(rec.AgentID, string(rec.Kind), rec.Timestamp, 0)
		if err != nil {
			// The record is already stored; a missing receipt is not
			// worth failing the request over.
			h.logger.Warn("issue archival receipt",
				zap.String("agent_id", rec.AgentID),
				zap.Error(err))
		} else {
			resp["receipt"] = receipt
		}
	}
	c.JSON(http.StatusCreated, resp)
}

// writeCreateError maps archive create failures onto HTTP statuses.
func (h *RecordHandler) writeCreateError(c *gin.Context, err error) {
	var rejected *admission.Rejected
	if errors.As(err, &rejected) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "record rejected by admission screening",
			"report": rejected.Report,
		})
		return
	}

	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
		return
	}

	var backend *store.BackendError
	if errors.As(err, &backend) {
		h.logger.Error("archive backend unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive backend unavailable"})
		return
	}

	h.logger.Error("create record", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to archive record"})
}

// ReadRecords handles GET /agents/:agent_id/records — returns the
// agent's verified history plus any faults found along the way.
func (h *RecordHandler) ReadRecords(c *gin.Context) {
	id, err := agentid.Normalize(c.Param("agent_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := int64Query(c, "start", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := int64Query(c, "end", archive.EndOfTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	latest, err := strconv.ParseBool(c.DefaultQuery("latest", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latest must be a boolean"})
		return
	}
	service := c.Query("service")

	var res *archive.ReadResult
	if latest {
		res, err = h.archive.ReadLatest(c.Request.Context(), id, end, service)
	} else {
		res, err = h.archive.Read(c.Request.Context(), id, start, end, service)
	}
	if err != nil {
		var backend *store.BackendError
		if errors.As(err, &backend) {
			h.logger.Error("archive backend unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive backend unavailable"})
			return
		}
		h.logger.Error("read records", zap.String("agent_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read records"})
		return
	}

	faults := res.Faults
	if faults == nil {
		faults = []archive.Fault{}
	}
	c.JSON(http.StatusOK, gin.H{
		"records": res.Records,
		"faults":  faults,
		"count":   len(res.Records),
	})
}

// BuildKeyList handles GET /agents/:agent_id/keylist — projects the
// agent's record history into its key history.
func (h *RecordHandler) BuildKeyList(c *gin.Context) {
	id, err := agentid.Normalize(c.Param("agent_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	list, err := h.archive.BuildKeyList(c.Request.Context(), id, c.Query("service"))
	if err != nil {
		var backend *store.BackendError
		if errors.As(err, &backend) {
			h.logger.Error("archive backend unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive backend unavailable"})
			return
		}
		h.logger.Error("build key list", zap.String("agent_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build key list"})
		return
	}

	faults := list.Faults
	if faults == nil {
		faults = []archive.Fault{}
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":   list.Keys,
		"faults": faults,
		"count":  len(list.Keys),
	})
}

// ListAgents handles GET /agents — lists agents known to the key
// directory.
func (h *RecordHandler) ListAgents(c *gin.Context) {
	if h.agents == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "agent directory not configured"})
		return
	}

	ids, err := h.agents.ListAgents(c.Request.Context())
	if err != nil {
		h.logger.Error("list agents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}

	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": ids, "count": len(ids)})
}

// int64Query reads an optional integer query parameter.
func int64Query(c *gin.Context, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
