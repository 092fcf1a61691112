package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/replenish"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

const defaultPageSize = 100

type OrderpointHandler struct {
	ops          repository.OrderpointRepository
	orchestrator *replenish.Orchestrator
}

func NewOrderpointHandler(ops repository.OrderpointRepository, orchestrator *replenish.Orchestrator) *OrderpointHandler {
	return &OrderpointHandler{ops: ops, orchestrator: orchestrator}
}

// List pages through the active orderpoints of one company.
func (h *OrderpointHandler) List(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id is required"})
		return
	}

	afterID, _ := strconv.ParseInt(c.DefaultQuery("after_id", "0"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = defaultPageSize
	}

	ops, err := h.ops.SelectBatch(c.Request.Context(), companyID, afterID, limit)
	if err != nil {
		log.Error().Err(err).Int64("company_id", companyID).Msg("failed to list orderpoints")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orderpoints"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orderpoints": ops, "count": len(ops)})
}

// Get returns one orderpoint.
func (h *OrderpointHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid orderpoint id"})
		return
	}

	op, err := h.ops.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err, "failed to fetch orderpoint")
		return
	}

	c.JSON(http.StatusOK, op)
}

type createOrderpointRequest struct {
	ProductID      int64   `json:"product_id" binding:"required"`
	LocationID     int64   `json:"location_id" binding:"required"`
	WarehouseID    int64   `json:"warehouse_id" binding:"required"`
	CompanyID      int64   `json:"company_id" binding:"required"`
	Trigger        string  `json:"trigger"`
	ProductMinQty  string  `json:"product_min_qty"`
	ProductMaxQty  string  `json:"product_max_qty"`
	QtyMultiple    string  `json:"qty_multiple"`
	VisibilityDays int     `json:"visibility_days"`
	DaysToOrder    int     `json:"days_to_order"`
	RouteID        *int64  `json:"route_id"`
}

// Create registers an operator-defined orderpoint.
func (h *OrderpointHandler) Create(c *gin.Context) {
	var req createOrderpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op := &domain.Orderpoint{
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		WarehouseID:    req.WarehouseID,
		CompanyID:      req.CompanyID,
		Trigger:        domain.TriggerAuto,
		Origin:         domain.OriginOperator,
		Active:         true,
		VisibilityDays: req.VisibilityDays,
		DaysToOrder:    req.DaysToOrder,
		RouteID:        req.RouteID,
	}
	if req.Trigger != "" {
		op.Trigger = domain.OrderpointTrigger(req.Trigger)
	}

	var err error
	if op.ProductMinQty, err = parseQty(req.ProductMinQty); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product_min_qty"})
		return
	}
	if op.ProductMaxQty, err = parseQty(req.ProductMaxQty); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product_max_qty"})
		return
	}
	if op.QtyMultiple, err = parseQty(req.QtyMultiple); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid qty_multiple"})
		return
	}
	if op.QtyMultiple.IsZero() {
		op.QtyMultiple = decimalOne
	}

	if err := h.ops.Create(c.Request.Context(), op); err != nil {
		writeDomainError(c, err, "failed to create orderpoint")
		return
	}

	c.JSON(http.StatusCreated, op)
}

type updateOrderpointRequest struct {
	ProductMinQty    *string `json:"product_min_qty"`
	ProductMaxQty    *string `json:"product_max_qty"`
	QtyMultiple      *string `json:"qty_multiple"`
	QtyToOrderManual *string `json:"qty_to_order_manual"`
	VisibilityDays   *int    `json:"visibility_days"`
	DaysToOrder      *int    `json:"days_to_order"`
	Active           *bool   `json:"active"`
	RouteID          *int64  `json:"route_id"`
}

// Update edits the operator-owned fields. The write takes the same
// NOWAIT lock as the replenishment cycle, so a collision with a running
// cycle comes back as 409 rather than blocking it.
func (h *OrderpointHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid orderpoint id"})
		return
	}

	var req updateOrderpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op, err := h.ops.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err, "failed to fetch orderpoint")
		return
	}

	for _, f := range []struct {
		src *string
		dst *decimal.Decimal
		name string
	}{
		{req.ProductMinQty, &op.ProductMinQty, "product_min_qty"},
		{req.ProductMaxQty, &op.ProductMaxQty, "product_max_qty"},
		{req.QtyMultiple, &op.QtyMultiple, "qty_multiple"},
		{req.QtyToOrderManual, &op.QtyToOrderManual, "qty_to_order_manual"},
	} {
		if f.src == nil {
			continue
		}
		qty, err := decimal.NewFromString(*f.src)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + f.name})
			return
		}
		*f.dst = qty
	}
	if req.VisibilityDays != nil {
		op.VisibilityDays = *req.VisibilityDays
	}
	if req.DaysToOrder != nil {
		op.DaysToOrder = *req.DaysToOrder
	}
	if req.Active != nil {
		op.Active = *req.Active
	}
	if req.RouteID != nil {
		op.RouteID = req.RouteID
	}

	if err := h.ops.Update(c.Request.Context(), op); err != nil {
		writeDomainError(c, err, "failed to update orderpoint")
		return
	}

	c.JSON(http.StatusOK, op)
}

// Delete removes an orderpoint.
func (h *OrderpointHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid orderpoint id"})
		return
	}

	if err := h.ops.Delete(c.Request.Context(), id); err != nil {
		writeDomainError(c, err, "failed to delete orderpoint")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "orderpoint deleted"})
}

type replenishRequest struct {
	IDs        []int64 `json:"ids" binding:"required"`
	ForceToMax bool    `json:"force_to_max"`
}

// Replenish runs the engine once for an explicit orderpoint subset.
func (h *OrderpointHandler) Replenish(c *gin.Context) {
	var req replenishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must not be empty"})
		return
	}

	if err := h.orchestrator.Replenish(c.Request.Context(), req.IDs, req.ForceToMax); err != nil {
		writeDomainError(c, err, "replenishment failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "replenishment completed", "count": len(req.IDs)})
}

type snoozeRequest struct {
	Until time.Time `json:"until" binding:"required"`
}

// Snooze postpones a manual orderpoint.
func (h *OrderpointHandler) Snooze(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid orderpoint id"})
		return
	}

	var req snoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orchestrator.Snooze(c.Request.Context(), id, req.Until); err != nil {
		writeDomainError(c, err, "failed to snooze orderpoint")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "orderpoint snoozed", "until": req.Until})
}

var decimalOne = decimal.NewFromInt(1)

func parseQty(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func writeDomainError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "orderpoint not found"})
	case errors.Is(err, domain.ErrOrderpointBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "orderpoint is being replenished, retry shortly"})
	case domain.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
