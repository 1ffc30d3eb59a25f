package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainoracle/internal/identity"
	"github.com/jmerrifield20/chainoracle/internal/instruction"
	"github.com/jmerrifield20/chainoracle/internal/oracle/model"
	"github.com/jmerrifield20/chainoracle/internal/oracle/repository"
	"github.com/jmerrifield20/chainoracle/internal/oracle/service"
	"github.com/jmerrifield20/chainoracle/internal/programerr"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// SlotHandler handles HTTP requests for slots and instruction invocation.
type SlotHandler struct {
	svc    *service.OracleService
	replay *identity.ReplayCache
	logger *zap.Logger
}

// NewSlotHandler creates a new SlotHandler with its own proof replay cache.
func NewSlotHandler(svc *service.OracleService, logger *zap.Logger) *SlotHandler {
	return &SlotHandler{
		svc:    svc,
		replay: identity.NewReplayCache(identity.DefaultReplayEntries),
		logger: logger,
	}
}

// Register mounts the program and slot routes on the given router group.
func (h *SlotHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/program", h.Program)

	slots := rg.Group("/slots")
	{
		slots.POST("", h.Allocate)
		slots.GET("", h.List)
		slots.GET("/:key", h.Get)
		slots.POST("/:key/invoke", h.Invoke)
	}
}

// Program handles GET /program.
func (h *SlotHandler) Program(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Program())
}

// Allocate handles POST /slots and creates an empty slot at the address
// derived from the request's base key. The request must carry an allocate
// proof signed by base.
func (h *SlotHandler) Allocate(c *gin.Context) {
	var req model.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Base.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base is required"})
		return
	}
	if req.Proof == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "proof is required"})
		return
	}

	addr, err := h.svc.SlotAddress(req.Base)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	proof, err := identity.VerifyProof(req.Proof, identity.Scope{Action: identity.ActionAllocate, Slot: addr})
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid allocate proof", "detail": err.Error()})
		return
	}
	if proof.Signer != req.Base {
		c.JSON(http.StatusForbidden, gin.H{"error": "proof is not signed by base"})
		return
	}
	if err := h.replay.Use(proof); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid allocate proof", "detail": err.Error()})
		return
	}

	view, err := h.svc.Allocate(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSlotExists):
			c.JSON(http.StatusConflict, gin.H{"error": "slot already allocated"})
			return
		case errors.Is(err, service.ErrBalanceTooLow), errors.Is(err, service.ErrForeignOwner):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("allocate slot", zap.Stringer("base", req.Base), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to allocate slot"})
		return
	}

	RecordSlotAllocated()
	c.JSON(http.StatusCreated, view)
}

// List handles GET /slots?limit=&offset=.
func (h *SlotHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	views, err := h.svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list slots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list slots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": views, "count": len(views)})
}

// Get handles GET /slots/:key.
func (h *SlotHandler) Get(c *gin.Context) {
	k, ok := slotParam(c)
	if !ok {
		return
	}

	view, err := h.svc.Record(c.Request.Context(), k)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "slot not found"})
			return
		}
		h.logger.Error("get slot", zap.Stringer("slot", k), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load slot"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// Invoke handles POST /slots/:key/invoke. Each proof is verified against the
// slot and instruction bytes and may be used once; the keys they prove become
// the invocation's signers, valid only while the record is still at the
// pointer they were issued for.
func (h *SlotHandler) Invoke(c *gin.Context) {
	k, ok := slotParam(c)
	if !ok {
		return
	}

	var req model.InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scope := identity.Scope{Action: identity.ActionInvoke, Slot: k, Data: req.Instruction}
	signers := make([]service.Signer, 0, len(req.Proofs))
	for i, tok := range req.Proofs {
		proof, err := identity.VerifyProof(tok, scope)
		if err == nil {
			err = h.replay.Use(proof)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signer proof", "proof": i, "detail": err.Error()})
			return
		}
		signers = append(signers, service.Signer{Key: proof.Signer, Pointer: proof.Pointer})
	}

	name := instructionLabel(req.Instruction)
	res, err := h.svc.Invoke(c.Request.Context(), &service.InvokeParams{
		Slot:    k,
		Caller:  req.Caller,
		Signers: signers,
		Data:    req.Instruction,
	})
	if err != nil {
		if perr, ok := programerr.As(err); ok {
			RecordInstruction(name, perr.Name)
			c.JSON(http.StatusUnprocessableEntity, model.ProgramError{
				Error:  perr.String(),
				Name:   perr.Name,
				Code:   perr.Code,
				Custom: perr.Custom,
			})
			return
		}
		if errors.Is(err, repository.ErrSlotNotFound) {
			RecordInstruction(name, "SlotNotFound")
			c.JSON(http.StatusNotFound, gin.H{"error": "slot not found"})
			return
		}
		RecordInstruction(name, "internal")
		h.logger.Error("invoke", zap.Stringer("slot", k), zap.String("instruction", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process instruction"})
		return
	}

	RecordInstruction(res.Instruction, "ok")
	if res.Entry != nil {
		RecordJournalAppend()
	}
	c.JSON(http.StatusOK, gin.H{
		"instruction": res.Instruction,
		"record":      res.View,
		"journal":     res.Entry,
	})
}

// slotParam parses the :key path parameter, writing a 400 when it is malformed.
func slotParam(c *gin.Context) (key.Key32, bool) {
	k, err := key.Parse(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot key"})
		return key.Key32{}, false
	}
	return k, true
}

// instructionLabel names the instruction in data for metrics, or "invalid".
func instructionLabel(data []byte) string {
	ix, err := instruction.Unpack(data)
	if err != nil {
		return "invalid"
	}
	return ix.Tag().String()
}
