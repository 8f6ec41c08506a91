package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"storefront/internal/gateway"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

const maxWebhookBody = 1 << 20

type orderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type initiatePaymentRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

func (h *Handler) placeOrder(c *gin.Context) {
	order, err := h.orders.PlaceOrder(c.Request.Context(), actor(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), actor(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) orderHistory(c *gin.Context) {
	orders, err := h.orders.OrderHistory(c.Request.Context(), actor(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), actor(c).UserID, orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) setOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orders.SetStatus(c.Request.Context(), actor(c), orderID, req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) initiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.payments.Initiate(c.Request.Context(), actor(c), req.OrderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// paymentWebhook answers the gateway first and sends the customer notice afterwards
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	outcome, err := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)

	if outcome.HasNotice() {
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		go func() {
			ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
			ctx, cancel := context.WithTimeout(ctx, h.notifyTimeout)
			defer cancel()
			h.payments.Dispatch(ctx, outcome)
		}()
	}
}
