package api

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roach88/weft/internal/engine"
	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/lock"
)

// maxReserve caps the identifiers handed out by one reserve call.
const maxReserve = 10000

// IDAllocator reserves fresh identifiers for insert mutations.
// Implemented by *graph.Mem.
type IDAllocator interface {
	NewNodeID() ir.NodeID
	NewFunctionID() ir.FunctionID
	NewModuleID() ir.ModuleID
}

// Handlers contains the HTTP handlers over one engine.
type Handlers struct {
	engine  *engine.Engine
	ids     IDAllocator
	builder engine.Builder
	logger  *slog.Logger
}

// NewHandlers creates handlers for eng.
func NewHandlers(eng *engine.Engine) *Handlers {
	return &Handlers{engine: eng, logger: slog.Default()}
}

// WithIDAllocator enables POST /v1/ids.
func (h *Handlers) WithIDAllocator(ids IDAllocator) *Handlers {
	h.ids = ids
	return h
}

// WithBuilder sets the builder used by POST /v1/build. Without one a build
// only advances the snapshot.
func (h *Handlers) WithBuilder(b engine.Builder) *Handlers {
	h.builder = b
	return h
}

// WithLogger sets the logger.
func (h *Handlers) WithLogger(l *slog.Logger) *Handlers {
	if l != nil {
		h.logger = l
	}
	return h
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

func ttlOptions(s string) ([]lock.AcquireOption, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid ttl %q: %w", s, err)
	}
	return []lock.AcquireOption{lock.TTL(d)}, nil
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ir.EngineVersion})
}

// HandleNewSession handles POST /v1/sessions.
func (h *Handlers) HandleNewSession(c *gin.Context) {
	agent := h.engine.NewSession()
	h.requestLogger(c, "HandleNewSession").Debug("session created", "agent", agent)
	c.JSON(http.StatusCreated, SessionResponse{Agent: agent})
}

// HandleAcquireRead handles POST /v1/locks/read.
//
// Response:
//
//	200 OK: lock.Grant
//	409 Conflict: LOCK_DENIED with the holder and queue position
func (h *Handlers) HandleAcquireRead(c *gin.Context) {
	h.acquire(c, "HandleAcquireRead", lock.ModeRead)
}

// HandleAcquireWrite handles POST /v1/locks/write.
//
// Response:
//
//	200 OK: lock.Grant
//	409 Conflict: LOCK_DENIED with the holder and queue position
func (h *Handlers) HandleAcquireWrite(c *gin.Context) {
	h.acquire(c, "HandleAcquireWrite", lock.ModeWrite)
}

func (h *Handlers) acquire(c *gin.Context, name string, mode lock.Mode) {
	logger := h.requestLogger(c, name)

	var req AcquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}
	opts, err := ttlOptions(req.TTL)
	if err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}

	var grant lock.Grant
	if mode == lock.ModeRead {
		grant, err = h.engine.Locks().TryAcquireRead(req.Agent, req.Function, opts...)
	} else {
		grant, err = h.engine.Locks().TryAcquireWrite(req.Agent, req.Function, req.Description, opts...)
	}
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

// HandleBatchAcquire handles POST /v1/locks/batch. Either every lock is
// granted or none is.
func (h *Handlers) HandleBatchAcquire(c *gin.Context) {
	logger := h.requestLogger(c, "HandleBatchAcquire")

	var req BatchAcquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}
	opts, err := ttlOptions(req.TTL)
	if err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}

	grants, err := h.engine.Locks().BatchAcquireWrite(req.Agent, req.Functions, req.Description, opts...)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, BatchAcquireResponse{Grants: grants})
}

// HandleRelease handles POST /v1/locks/release.
func (h *Handlers) HandleRelease(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRelease")

	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}
	if err := h.engine.Locks().Release(req.Agent, req.Function); err != nil {
		writeError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleReleaseAll handles POST /v1/locks/release-all.
func (h *Handlers) HandleReleaseAll(c *gin.Context) {
	logger := h.requestLogger(c, "HandleReleaseAll")

	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}
	c.JSON(http.StatusOK, ReleaseAllResponse{Released: h.engine.Locks().ReleaseAll(req.Agent)})
}

// HandleHeartbeat handles POST /v1/locks/heartbeat.
func (h *Handlers) HandleHeartbeat(c *gin.Context) {
	logger := h.requestLogger(c, "HandleHeartbeat")

	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}
	opts, err := ttlOptions(req.TTL)
	if err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}
	c.JSON(http.StatusOK, HeartbeatResponse{Renewed: h.engine.Locks().Heartbeat(req.Agent, opts...)})
}

// HandleLockStatus handles GET /v1/locks.
func (h *Handlers) HandleLockStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Locks: h.engine.Locks().Status()})
}

// HandleLockStatusOf handles GET /v1/locks/:id.
func (h *Handlers) HandleLockStatusOf(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLockStatusOf")

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, logger, "invalid function id", err)
		return
	}
	fid := ir.FunctionID(id)
	st, ok := h.engine.Locks().StatusOf(fid)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("%s is not locked", fid),
			Code:  lock.ErrCodeNotTracked,
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleSweep handles POST /v1/locks/sweep.
func (h *Handlers) HandleSweep(c *gin.Context) {
	c.JSON(http.StatusOK, SweepResponse{Reclaimed: h.engine.Locks().SweepExpired()})
}

// HandleCommit handles POST /v1/commits.
//
// Response:
//
//	200 OK: engine.CommitResult
//	400 Bad Request: INVALID_REQUEST, INVALID_MUTATION, EMPTY_COMMIT
//	403 Forbidden: LOCK_NOT_HELD
//	404 Not Found: FUNCTION_NOT_FOUND, NODE_NOT_FOUND
//	409 Conflict: HASH_CONFLICT with per-function diffs
//	503 Service Unavailable: STRUCTURAL_LOCK_UNAVAILABLE
func (h *Handlers) HandleCommit(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCommit")

	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}
	mutations, err := graph.DecodeMutations(req.Mutations)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	res, err := h.engine.Commit(c.Request.Context(), engine.CommitRequest{
		Agent:          req.Agent,
		Mutations:      mutations,
		ExpectedHashes: req.ExpectedHashes,
	})
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("commit accepted", "seq", res.Seq, "agent", req.Agent, "functions", len(res.Functions))
	c.JSON(http.StatusOK, res)
}

// HandleHashes handles GET /v1/hashes.
//
// Query Parameters:
//
//	mode: compilation (default) or full
//	ids: comma-separated function ids; all functions when omitted
func (h *Handlers) HandleHashes(c *gin.Context) {
	logger := h.requestLogger(c, "HandleHashes")

	mode, err := hashing.ParseMode(c.Query("mode"))
	if err != nil {
		badRequest(c, logger, "invalid mode", err)
		return
	}
	ids, err := parseIDs(c.Query("ids"))
	if err != nil {
		badRequest(c, logger, "invalid ids", err)
		return
	}

	snap, err := h.engine.Hashes(c.Request.Context(), mode, ids)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, HashesResponse{Mode: mode.String(), Hashes: snap.Hex()})
}

func parseIDs(s string) ([]ir.FunctionID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]ir.FunctionID, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, ir.FunctionID(n))
	}
	return out, nil
}

// HandlePlan handles GET /v1/plan.
func (h *Handlers) HandlePlan(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePlan")

	res, err := h.engine.Plan(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, PlanResponse{Plan: res.Plan, Recompile: res.Plan.Recompile()})
}

// HandleBuild handles POST /v1/build.
func (h *Handlers) HandleBuild(c *gin.Context) {
	logger := h.requestLogger(c, "HandleBuild")

	res, err := h.engine.Build(c.Request.Context(), h.builder)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleReserve handles POST /v1/ids.
func (h *Handlers) HandleReserve(c *gin.Context) {
	logger := h.requestLogger(c, "HandleReserve")

	if h.ids == nil {
		writeError(c, logger, &unavailableError{what: "identifier reservation"})
		return
	}
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "invalid request body", err)
		return
	}
	if req.Nodes < 0 || req.Functions < 0 || req.Modules < 0 ||
		req.Nodes+req.Functions+req.Modules > maxReserve {
		badRequest(c, logger, "invalid request body", errors.New("counts must be non-negative and sum to at most 10000"))
		return
	}

	resp := ReserveResponse{
		Nodes:     make([]ir.NodeID, req.Nodes),
		Functions: make([]ir.FunctionID, req.Functions),
		Modules:   make([]ir.ModuleID, req.Modules),
	}
	for i := range resp.Nodes {
		resp.Nodes[i] = h.ids.NewNodeID()
	}
	for i := range resp.Functions {
		resp.Functions[i] = h.ids.NewFunctionID()
	}
	for i := range resp.Modules {
		resp.Modules[i] = h.ids.NewModuleID()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleFunctions handles GET /v1/functions.
func (h *Handlers) HandleFunctions(c *gin.Context) {
	fns := h.engine.Graph().Functions()
	out := make([]ir.FunctionMetadata, 0, len(fns))
	for _, meta := range fns {
		out = append(out, meta)
	}
	slices.SortFunc(out, func(a, b ir.FunctionMetadata) int { return cmp.Compare(a.ID, b.ID) })
	c.JSON(http.StatusOK, FunctionsResponse{Functions: out})
}

type unavailableError struct {
	what string
}

func (e *unavailableError) Error() string { return e.what + " is not available on this server" }

func (e *unavailableError) Code() string { return ErrCodeUnavailable }
