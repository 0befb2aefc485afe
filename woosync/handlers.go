package woosync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/reconcile"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VerifySignature checks WooCommerce's webhook signature: base64 HMAC-SHA256
// of the raw body under the webhook secret.
func VerifySignature(body []byte, header, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// rejectUnverified decides whether an unverified webhook is refused. Only
// strict mode rejects; the lenient default logs and proceeds.
func rejectUnverified(verified bool) bool {
	return !verified && config.StrictWebhookSignatures()
}

// WebhookHandler receives WooCommerce webhooks, tenant in the b query
// parameter. Woo sends a bodyless ping when a webhook is first saved; that
// gets a plain 200 so the store marks the endpoint healthy.
func WebhookHandler(c *gin.Context) {
	businessId := c.Query("b")
	if businessId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing b query parameter"})
		return
	}
	ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
	topic := c.GetHeader("X-WC-Webhook-Topic")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}
	if len(body) == 0 || topic == "" {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	secret := ""
	if integration, err := models.GetActiveIntegration(ctx, businessId, ProviderName); err == nil {
		secret = integration.SecretKey
	}
	signature := c.GetHeader("X-WC-Webhook-Signature")
	verified := secret != "" && VerifySignature(body, signature, secret)
	if rejectUnverified(verified) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}
	if !verified && secret != "" {
		config.GetLogger().WithField("module", "woosync").
			WithField("business_id", businessId).
			Warn("webhook signature mismatch; processing anyway")
	}

	log := reconcile.NewWebhookLog(ctx, businessId, ProviderName, topic, body)

	var handleErr error
	switch topic {
	case "order.created", "order.updated":
		handleErr = handleOrderTopic(ctx, businessId, body)
	case "product.created", "product.updated":
		handleErr = handleProductTopic(ctx, businessId, body)
	default:
		reconcile.MarkWebhookProcessed(ctx, log)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if handleErr != nil {
		reconcile.MarkWebhookFailed(ctx, log, handleErr)
		config.LogError(config.GetLogger(), "woosync", "WebhookHandler", businessId, topic, handleErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}
	reconcile.MarkWebhookProcessed(ctx, log)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func handleOrderTopic(ctx context.Context, businessId string, body []byte) error {
	var order WooOrder
	if err := utils.UnmarshalFromJSON(body, &order); err != nil {
		return err
	}
	if order.Id == 0 {
		return errors.New("order payload has no id")
	}
	_, err := reconcile.ProcessOrderEvent(ctx, businessId, &order)
	return err
}

func handleProductTopic(ctx context.Context, businessId string, body []byte) error {
	var product WooProduct
	if err := utils.UnmarshalFromJSON(body, &product); err != nil {
		return err
	}
	if product.Sku == "" {
		return nil
	}
	return upsertProduct(ctx, businessId, &product)
}

func upsertProduct(ctx context.Context, businessId string, wooProduct *WooProduct) error {
	price, err := decimal.NewFromString(wooProduct.Price)
	if err != nil {
		price = decimal.Zero
	}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		location, err := models.FindDefaultLocation(tx, businessId)
		if err != nil {
			return err
		}
		_, _, err = models.FindOrCreateProductBySku(tx, businessId, wooProduct.Sku, wooProduct.Name, price, location.ID)
		return err
	})
	if err != nil {
		return err
	}

	if wooProduct.StockQuantity == nil {
		return nil
	}
	return models.SetStockQuantityBySku(ctx, businessId, wooProduct.Sku,
		decimal.NewFromInt(int64(*wooProduct.StockQuantity)))
}

// ExecuteSyncRun performs one queued sync action against the store.
func ExecuteSyncRun(ctx context.Context, run *models.SyncRun) (synced, failed int, err error) {
	client, err := NewClient(ctx, run.BusinessId)
	if err != nil {
		return 0, 0, err
	}

	switch run.Action {
	case "pull_orders":
		return pullOrders(ctx, client, run.BusinessId)
	case "pull_inventory":
		return pullInventory(ctx, client, run.BusinessId)
	case "push_inventory":
		return pushInventory(ctx, client, run.BusinessId)
	}
	return 0, 0, fmt.Errorf("unknown sync action %q", run.Action)
}

func pullOrders(ctx context.Context, client *Client, businessId string) (synced, failed int, err error) {
	orders, err := client.GetOrders(ctx)
	if err != nil {
		return 0, 0, err
	}
	for i := range orders {
		if _, err := reconcile.ProcessOrderEvent(ctx, businessId, &orders[i]); err != nil {
			config.LogError(config.GetLogger(), "woosync", "pullOrders", businessId, orders[i].Id, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

func pullInventory(ctx context.Context, client *Client, businessId string) (synced, failed int, err error) {
	products, err := client.GetProducts(ctx)
	if err != nil {
		return 0, 0, err
	}
	for i := range products {
		if products[i].Sku == "" {
			continue
		}
		if err := upsertProduct(ctx, businessId, &products[i]); err != nil {
			config.LogError(config.GetLogger(), "woosync", "pullInventory", businessId, products[i].Sku, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

// pushInventory overwrites store stock counts from local levels, matching by
// SKU. A local product the store has never seen is created with its current
// stock count. SKU-less local products are skipped.
func pushInventory(ctx context.Context, client *Client, businessId string) (synced, failed int, err error) {
	remoteProducts, err := client.GetProducts(ctx)
	if err != nil {
		return 0, 0, err
	}
	idBySku := map[string]int64{}
	for _, product := range remoteProducts {
		if product.Sku != "" {
			idBySku[product.Sku] = product.Id
		}
	}

	localProducts, err := models.ListProducts(ctx, businessId, 250)
	if err != nil {
		return 0, 0, err
	}
	for _, product := range localProducts {
		if product.Sku == "" {
			continue
		}
		quantity, err := models.GetStockQuantity(ctx, businessId, product.ID)
		if err != nil {
			failed++
			continue
		}

		remoteId, ok := idBySku[product.Sku]
		if !ok {
			_, err = client.CreateProduct(ctx, product.Name, product.Sku,
				product.Price.StringFixed(2), int(quantity.IntPart()))
			if err != nil {
				config.LogError(config.GetLogger(), "woosync", "pushInventory", businessId, product.Sku, err)
				failed++
				continue
			}
			synced++
			continue
		}
		if err := client.UpdateStockQuantity(ctx, remoteId, int(quantity.IntPart())); err != nil {
			config.LogError(config.GetLogger(), "woosync", "pushInventory", businessId, product.Sku, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}
