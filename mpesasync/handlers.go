package mpesasync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/reconcile"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	BusinessId  string `json:"business_id" validate:"required"`
	OrderId     *int   `json:"order_id"`
	InvoiceId   *int   `json:"invoice_id"`
	PhoneNumber string `json:"phone_number" validate:"required"`
}

type CheckoutResponse struct {
	MerchantRequestId string `json:"merchantRequestId"`
	CheckoutRequestId string `json:"checkoutRequestId"`
	CustomerMessage   string `json:"customerMessage"`
}

// CheckoutHandler triggers an STK push for an existing order or invoice.
func CheckoutHandler(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	if (req.OrderId == nil) == (req.InvoiceId == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of order_id and invoice_id is required"})
		return
	}

	ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)

	amount, accountRef, targetRef, err := resolveCheckoutTarget(ctx, &req)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) || errors.Is(err, models.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client, err := NewClient(ctx, req.BusinessId)
	if err != nil {
		if errors.Is(err, models.ErrIntegrationNotConfigured) {
			c.JSON(http.StatusConflict, gin.H{"error": "mpesa integration not configured"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	pushResp, err := client.StkPush(ctx, req.PhoneNumber, amount, accountRef, targetRef)
	if err != nil {
		config.LogError(config.GetLogger(), "mpesasync", "CheckoutHandler", req.BusinessId, req, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "stk push failed"})
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{
		MerchantRequestId: pushResp.MerchantRequestID,
		CheckoutRequestId: pushResp.CheckoutRequestID,
		CustomerMessage:   pushResp.CustomerMessage,
	})
}

func resolveCheckoutTarget(ctx context.Context, req *CheckoutRequest) (amount decimal.Decimal, accountRef, targetRef string, err error) {
	if req.OrderId != nil {
		order, getErr := models.GetOrder(ctx, req.BusinessId, *req.OrderId)
		if getErr != nil {
			return decimal.Zero, "", "", getErr
		}
		return order.TotalAmount, fmt.Sprintf("Order %d", order.ID), "order-" + strconv.Itoa(order.ID), nil
	}
	invoice, getErr := models.GetInvoice(ctx, req.BusinessId, *req.InvoiceId)
	if getErr != nil {
		return decimal.Zero, "", "", getErr
	}
	outstanding := invoice.TotalAmount.Sub(invoice.PaidAmount)
	if outstanding.Sign() <= 0 {
		return decimal.Zero, "", "", errors.New("invoice has no outstanding balance")
	}
	return outstanding, "Invoice " + invoice.InvoiceNumber, "invoice-" + strconv.Itoa(invoice.ID), nil
}

// CallbackHandler processes the STK result. Daraja retries on any non-200,
// so every outcome including processing failures is acknowledged with 200;
// failures are recorded in the webhook log instead.
func CallbackHandler(c *gin.Context) {
	businessId := c.Query("b")
	targetRef := c.Query("ref")
	ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

	ack := func() {
		c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<16))
	if err != nil {
		ack()
		return
	}

	log := reconcile.NewWebhookLog(ctx, businessId, ProviderName, "stkCallback", body)

	var envelope CallbackEnvelope
	if err := utils.UnmarshalFromJSON(body, &envelope); err != nil {
		reconcile.MarkWebhookFailed(ctx, log, err)
		ack()
		return
	}
	callback := envelope.Body.StkCallback

	if callback.ResultCode != 0 {
		// Cancelled or failed on the handset. Nothing to apply.
		config.GetLogger().WithField("module", "mpesasync").
			WithField("business_id", businessId).
			WithField("result_code", callback.ResultCode).
			Info("stk push not completed: " + callback.ResultDesc)
		reconcile.MarkWebhookProcessed(ctx, log)
		ack()
		return
	}

	if err := applyStkResult(ctx, businessId, targetRef, &callback); err != nil {
		reconcile.MarkWebhookFailed(ctx, log, err)
		config.LogError(config.GetLogger(), "mpesasync", "CallbackHandler", businessId, callback.CheckoutRequestID, err)
		ack()
		return
	}

	reconcile.MarkWebhookProcessed(ctx, log)
	ack()
}

func applyStkResult(ctx context.Context, businessId, targetRef string, callback *StkCallback) error {
	if businessId == "" {
		return errors.New("callback missing business id")
	}

	receipt := callback.MetadataString("MpesaReceiptNumber")
	if receipt == "" {
		return errors.New("callback missing MpesaReceiptNumber")
	}
	paid, ok := callback.MetadataNumber("Amount")
	if !ok {
		return errors.New("callback missing Amount")
	}
	amount := decimal.NewFromFloat(paid)

	orderId, invoiceId, err := parseTargetRef(targetRef)
	if err != nil {
		return err
	}

	_, err = reconcile.ApplyPayment(ctx, &reconcile.PaymentApplication{
		BusinessId:    businessId,
		OrderId:       orderId,
		InvoiceId:     invoiceId,
		Amount:        amount,
		Currency:      "kes",
		PaymentMethod: "mpesa",
		Reference:     receipt,
		HandlerName:   "mpesa.stk_callback",
		MessageId:     receipt,
	})
	return err
}

func parseTargetRef(ref string) (orderId *int, invoiceId *int, err error) {
	switch {
	case strings.HasPrefix(ref, "order-"):
		id, convErr := strconv.Atoi(strings.TrimPrefix(ref, "order-"))
		if convErr != nil {
			return nil, nil, errors.New("malformed order reference: " + ref)
		}
		return &id, nil, nil
	case strings.HasPrefix(ref, "invoice-"):
		id, convErr := strconv.Atoi(strings.TrimPrefix(ref, "invoice-"))
		if convErr != nil {
			return nil, nil, errors.New("malformed invoice reference: " + ref)
		}
		return nil, &id, nil
	}
	return nil, nil, errors.New("callback missing order or invoice reference")
}
