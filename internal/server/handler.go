package server

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gatehouse/sponsor-coordinator/internal/coordinator"
)

// Backend is what the HTTP layer needs from the coordinator side.
// Decoupled here so handler tests can use a mock.
type Backend interface {
	Run(ctx context.Context, req coordinator.Request) (*coordinator.Result, error)
	NewRunner(action coordinator.Action, lock, recipient, referrer common.Address) coordinator.Runner
	PreChecks(action coordinator.Action, lock common.Address) []coordinator.PreCheck
}

// MetaReader serves the lock metadata endpoint. Satisfied by *lockmeta.Cache.
type MetaReader interface {
	Name(ctx context.Context, lock common.Address) (string, error)
	Owner(ctx context.Context, lock common.Address) (common.Address, error)
}

// Handler wires the sponsored-action routes onto a Gin engine.
type Handler struct {
	backend         Backend
	meta            MetaReader
	chainID         int64
	sponsor         common.Address
	defaultReferrer common.Address
	maxPerDay       int64
	log             *zap.Logger
}

func NewHandler(backend Backend, meta MetaReader, chainID int64, sponsor, defaultReferrer common.Address, maxPerDay int64, log *zap.Logger) *Handler {
	return &Handler{
		backend:         backend,
		meta:            meta,
		chainID:         chainID,
		sponsor:         sponsor,
		defaultReferrer: defaultReferrer,
		maxPerDay:       maxPerDay,
		log:             log,
	}
}

// Register mounts all routes.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/sponsor/claim", h.handleAction(coordinator.ActionClaimMember))
	rg.POST("/sponsor/renew", h.handleAction(coordinator.ActionRenewMember))
	rg.POST("/sponsor/cancel", h.handleAction(coordinator.ActionCancelMember))
	rg.POST("/sponsor/rsvp", h.handleAction(coordinator.ActionRSVPEvent))
	rg.GET("/sponsor/locks/:address", h.handleLockMeta)
}

type actionRequest struct {
	Lock      string `json:"lock" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Referrer  string `json:"referrer"`
}

func (h *Handler) handleAction(action coordinator.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body actionRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "rejected", "message": "lock and recipient are required"}})
			return
		}
		if !common.IsHexAddress(body.Lock) || !common.IsHexAddress(body.Recipient) {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "rejected", "message": "invalid lock or recipient address"}})
			return
		}

		lock := common.HexToAddress(body.Lock)
		recipient := common.HexToAddress(body.Recipient)
		referrer := h.defaultReferrer
		if body.Referrer != "" {
			if !common.IsHexAddress(body.Referrer) {
				c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "rejected", "message": "invalid referrer address"}})
				return
			}
			referrer = common.HexToAddress(body.Referrer)
		}

		res, err := h.backend.Run(c.Request.Context(), coordinator.Request{
			Action:    action,
			ChainID:   h.chainID,
			Sponsor:   h.sponsor,
			Recipient: recipient,
			Lock:      lock,
			MaxPerDay: h.maxPerDay,
			PreChecks: h.backend.PreChecks(action, lock),
			Runner:    h.backend.NewRunner(action, lock, recipient, referrer),
		})
		if err != nil {
			h.writeError(c, err)
			return
		}

		resp := gin.H{"status": string(res.Status)}
		if res.TxHash != "" {
			resp["tx_hash"] = res.TxHash
		}
		c.JSON(http.StatusOK, resp)
	}
}

// writeError maps the coordinator taxonomy onto HTTP statuses. Busy and
// RateLimited are expected outcomes under load, not server errors.
func (h *Handler) writeError(c *gin.Context, err error) {
	cerr := coordinator.Classify(err)

	body := gin.H{"code": string(cerr.Code), "message": cerr.Message}
	if cerr.Hint != "" {
		body["hint"] = cerr.Hint
	}

	switch cerr.Code {
	case coordinator.CodeBusy:
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": body})
	case coordinator.CodeRateLimited:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": body})
	case coordinator.CodeRejected:
		c.JSON(http.StatusBadRequest, gin.H{"error": body})
	case coordinator.CodeNotManager, coordinator.CodeChainReject:
		c.JSON(http.StatusBadGateway, gin.H{"error": body})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": body})
	}
}

func (h *Handler) handleLockMeta(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "rejected", "message": "invalid lock address"}})
		return
	}
	lock := common.HexToAddress(raw)

	name, err := h.meta.Name(c.Request.Context(), lock)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"code": "chain-reject", "message": "lock metadata unavailable"}})
		return
	}
	owner, err := h.meta.Owner(c.Request.Context(), lock)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"code": "chain-reject", "message": "lock metadata unavailable"}})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": lock.Hex(),
		"name":    name,
		"owner":   owner.Hex(),
	})
}
