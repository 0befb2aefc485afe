package mailer

import (
	"errors"
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/gin-gonic/gin"
)

type SendInvoiceRequest struct {
	BusinessId string `json:"business_id" validate:"required"`
	InvoiceId  int    `json:"invoice_id" validate:"required"`
}

// SendInvoiceHandler emails an invoice to its customer and moves it from
// Draft to Sent.
func SendInvoiceHandler(c *gin.Context) {
	var req SendInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}

	ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)

	invoice, err := models.GetInvoice(ctx, req.BusinessId, req.InvoiceId)
	if err != nil {
		if errors.Is(err, models.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if invoice.CustomerId == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "invoice has no customer"})
		return
	}

	var customer models.Customer
	if err := config.GetDB().WithContext(ctx).
		Take(&customer, "business_id = ? AND id = ?", req.BusinessId, *invoice.CustomerId).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "invoice customer not found"})
		return
	}
	if customer.Email == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "customer has no email address"})
		return
	}

	business, err := models.GetBusiness(ctx, req.BusinessId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	email := &Email{
		To:      []string{customer.Email},
		Subject: fmt.Sprintf("Invoice %s from %s", invoice.InvoiceNumber, business.Name),
		Html: fmt.Sprintf(
			"<p>Hello %s,</p><p>Invoice <strong>%s</strong> for <strong>%s %s</strong> is ready.</p><p>%s</p>",
			customer.Name, invoice.InvoiceNumber,
			invoice.TotalAmount.StringFixed(2), invoice.Currency, business.Name),
	}
	messageId, err := Send(ctx, req.BusinessId, email)
	if err != nil {
		config.LogError(config.GetLogger(), "mailer", "SendInvoiceHandler", req.BusinessId, req.InvoiceId, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send invoice email"})
		return
	}

	if err := models.MarkInvoiceSent(ctx, req.BusinessId, invoice.ID); err != nil {
		// Email went out; log the status failure rather than reporting it
		// to the caller as a send failure.
		config.LogError(config.GetLogger(), "mailer", "SendInvoiceHandler", req.BusinessId, invoice.ID, err)
	}

	c.JSON(http.StatusOK, gin.H{"message_id": messageId, "sent_to": customer.Email})
}
