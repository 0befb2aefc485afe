package stripesync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"
)

// For Stripe the integration row holds the secret API key in SecretKey and
// the webhook signing secret in ApiKey.
const ProviderName = models.IntegrationProviderStripe

type CheckoutRequest struct {
	BusinessId string `json:"business_id" validate:"required"`
	OrderId    *int   `json:"order_id"`
	InvoiceId  *int   `json:"invoice_id"`
	SuccessUrl string `json:"success_url" validate:"required,url"`
	CancelUrl  string `json:"cancel_url" validate:"required,url"`
}

type CheckoutResponse struct {
	Url string `json:"url"`
}

func newStripeClient(secretKey string) *stripeclient.API {
	sc := &stripeclient.API{}
	sc.Init(secretKey, nil)
	return sc
}

// CheckoutHandler creates a hosted Checkout Session for an existing order
// or invoice and returns its redirect URL.
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

	session, err := CreateCheckoutSession(ctx, &req)
	if err != nil {
		if errors.Is(err, models.ErrIntegrationNotConfigured) {
			c.JSON(http.StatusConflict, gin.H{"error": "stripe integration not configured"})
			return
		}
		if errors.Is(err, models.ErrOrderNotFound) || errors.Is(err, models.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		config.LogError(config.GetLogger(), "stripesync", "CheckoutHandler", req.BusinessId, req, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{Url: session.URL})
}

// CreateCheckoutSession resolves the target's amount and currency, converts
// to Stripe minor units and calls the Checkout Sessions API with the
// tenant's secret key.
func CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*stripe.CheckoutSession, error) {
	integration, err := models.GetActiveIntegration(ctx, req.BusinessId, ProviderName)
	if err != nil {
		return nil, err
	}

	var (
		amount      decimal.Decimal
		currency    string
		description string
		metadata    = map[string]string{}
		reference   string
	)
	if req.OrderId != nil {
		order, err := models.GetOrder(ctx, req.BusinessId, *req.OrderId)
		if err != nil {
			return nil, err
		}
		amount = order.TotalAmount
		currency = order.Currency
		description = fmt.Sprintf("Order #%d", order.ID)
		metadata["order_id"] = strconv.Itoa(order.ID)
		reference = "order-" + strconv.Itoa(order.ID)
	} else {
		invoice, err := models.GetInvoice(ctx, req.BusinessId, *req.InvoiceId)
		if err != nil {
			return nil, err
		}
		amount = invoice.TotalAmount.Sub(invoice.PaidAmount)
		currency = invoice.Currency
		description = fmt.Sprintf("Invoice %s", invoice.InvoiceNumber)
		metadata["invoice_id"] = strconv.Itoa(invoice.ID)
		reference = "invoice-" + strconv.Itoa(invoice.ID)
	}
	if currency == "" {
		currency = models.GetBusinessCurrency(ctx, req.BusinessId)
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("nothing to collect: amount is not positive")
	}
	metadata["business_id"] = req.BusinessId

	unitAmount := amount.Mul(decimal.NewFromInt(MinorUnits(currency))).Round(0).IntPart()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessUrl),
		CancelURL:  stripe.String(req.CancelUrl),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(unitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
			},
		},
		ClientReferenceID: stripe.String(reference),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sc := newStripeClient(integration.SecretKey)
	return sc.CheckoutSessions.New(params)
}
