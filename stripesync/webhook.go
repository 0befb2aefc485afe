package stripesync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/reconcile"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const maxWebhookBody = 1 << 16

// signingSecretFor resolves the webhook signing secret: the tenant's
// integration row first, then the process-level STRIPE_WEBHOOK_SECRET.
func signingSecretFor(ctx context.Context, businessId string) string {
	if integration, err := models.GetActiveIntegration(ctx, businessId, ProviderName); err == nil && integration.ApiKey != "" {
		return integration.ApiKey
	}
	return os.Getenv("STRIPE_WEBHOOK_SECRET")
}

// WebhookHandler receives Stripe events. The tenant rides in the b query
// parameter, set when the endpoint is registered with Stripe. Signature
// verification uses the tenant's signing secret and is lenient unless
// WEBHOOK_STRICT_SIGNATURES is on.
func WebhookHandler(c *gin.Context) {
	businessId := c.Query("b")
	if businessId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing b query parameter"})
		return
	}
	ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	signingSecret := signingSecretFor(ctx, businessId)

	var event stripe.Event
	switch {
	case signingSecret != "":
		event, err = webhook.ConstructEvent(body, c.GetHeader("Stripe-Signature"), signingSecret)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
			return
		}
	case config.StrictWebhookSignatures():
		c.JSON(http.StatusBadRequest, gin.H{"error": "no signing secret configured"})
		return
	default:
		if err := json.Unmarshal(body, &event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
			return
		}
	}

	log := reconcile.NewWebhookLog(ctx, businessId, ProviderName, string(event.Type), body)

	switch event.Type {
	case "checkout.session.completed":
		result, err := handleCheckoutCompleted(c, businessId, &event)
		if err != nil {
			reconcile.MarkWebhookFailed(ctx, log, err)
			config.LogError(config.GetLogger(), "stripesync", "WebhookHandler", businessId, event.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
			return
		}
		reconcile.MarkWebhookProcessed(ctx, log)
		c.JSON(http.StatusOK, gin.H{"received": true, "replayed": result.Replayed})
	default:
		// Acknowledged but not handled; Stripe stops retrying.
		reconcile.MarkWebhookProcessed(ctx, log)
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func handleCheckoutCompleted(c *gin.Context, businessId string, event *stripe.Event) (*reconcile.Result, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, err
	}

	orderId, invoiceId, err := resolveTarget(&session)
	if err != nil {
		return nil, err
	}

	amount := decimal.NewFromInt(session.AmountTotal).
		Div(decimal.NewFromInt(MinorUnits(string(session.Currency))))

	reference := session.ID
	if session.PaymentIntent != nil {
		reference = session.PaymentIntent.ID
	}

	return reconcile.ApplyPayment(c.Request.Context(), &reconcile.PaymentApplication{
		BusinessId:    businessId,
		OrderId:       orderId,
		InvoiceId:     invoiceId,
		Amount:        amount,
		Currency:      string(session.Currency),
		PaymentMethod: "stripe",
		Reference:     reference,
		HandlerName:   "stripe.checkout.session.completed",
		MessageId:     event.ID,
	})
}

// resolveTarget reads the order/invoice id we stamped into session metadata
// at checkout time, falling back to client_reference_id.
func resolveTarget(session *stripe.CheckoutSession) (orderId *int, invoiceId *int, err error) {
	if raw, ok := session.Metadata["order_id"]; ok {
		id, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return nil, nil, errors.New("malformed order_id metadata")
		}
		return &id, nil, nil
	}
	if raw, ok := session.Metadata["invoice_id"]; ok {
		id, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return nil, nil, errors.New("malformed invoice_id metadata")
		}
		return nil, &id, nil
	}

	ref := session.ClientReferenceID
	switch {
	case len(ref) > 6 && ref[:6] == "order-":
		id, convErr := strconv.Atoi(ref[6:])
		if convErr == nil {
			return &id, nil, nil
		}
	case len(ref) > 8 && ref[:8] == "invoice-":
		id, convErr := strconv.Atoi(ref[8:])
		if convErr == nil {
			return nil, &id, nil
		}
	}
	return nil, nil, errors.New("checkout session carries no order or invoice reference")
}
