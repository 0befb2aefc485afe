package shopifysync

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

// VerifyHmac checks Shopify's webhook signature: base64 HMAC-SHA256 of the
// raw body under the shared secret.
func VerifyHmac(body []byte, header, secret string) bool {
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

// WebhookHandler receives Shopify webhooks. The tenant rides in the b query
// parameter. Order topics flow through the shared reconciler; product topics
// update local stock levels.
func WebhookHandler(c *gin.Context) {
	businessId := c.Query("b")
	if businessId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing b query parameter"})
		return
	}
	ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
	topic := c.GetHeader("X-Shopify-Topic")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	secret := ""
	if integration, err := models.GetActiveIntegration(ctx, businessId, ProviderName); err == nil {
		secret = integration.SecretKey
	}
	signature := c.GetHeader("X-Shopify-Hmac-Sha256")
	verified := secret != "" && VerifyHmac(body, signature, secret)
	if rejectUnverified(verified) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}
	if !verified && secret != "" {
		config.GetLogger().WithField("module", "shopifysync").
			WithField("business_id", businessId).
			Warn("webhook signature mismatch; processing anyway")
	}

	log := reconcile.NewWebhookLog(ctx, businessId, ProviderName, topic, body)

	var handleErr error
	switch topic {
	case "orders/create", "orders/updated", "orders/paid":
		handleErr = handleOrderTopic(ctx, businessId, body)
	case "products/create", "products/update":
		handleErr = handleProductTopic(ctx, businessId, body)
	default:
		reconcile.MarkWebhookProcessed(ctx, log)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if handleErr != nil {
		reconcile.MarkWebhookFailed(ctx, log, handleErr)
		config.LogError(config.GetLogger(), "shopifysync", "WebhookHandler", businessId, topic, handleErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}
	reconcile.MarkWebhookProcessed(ctx, log)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func handleOrderTopic(ctx context.Context, businessId string, body []byte) error {
	var order ShopifyOrder
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
	var product ShopifyProduct
	if err := utils.UnmarshalFromJSON(body, &product); err != nil {
		return err
	}
	synced, failed := upsertProductVariants(ctx, businessId, &product)
	if failed > 0 && synced == 0 {
		return fmt.Errorf("all %d variants of product %d failed", failed, product.Id)
	}
	return nil
}

// upsertProductVariants creates missing local products for the variants'
// SKUs and overwrites their stock levels. SKU-less variants are skipped.
func upsertProductVariants(ctx context.Context, businessId string, product *ShopifyProduct) (synced, failed int) {
	db := config.GetDB()
	logger := config.GetLogger()

	for _, variant := range product.Variants {
		if variant.Sku == "" {
			continue
		}

		price, err := decimal.NewFromString(variant.Price)
		if err != nil {
			price = decimal.Zero
		}

		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			location, err := models.FindDefaultLocation(tx, businessId)
			if err != nil {
				return err
			}
			_, _, err = models.FindOrCreateProductBySku(tx, businessId, variant.Sku, product.Title, price, location.ID)
			return err
		})
		if err == nil {
			err = models.SetStockQuantityBySku(ctx, businessId, variant.Sku,
				decimal.NewFromInt(int64(variant.InventoryQuantity)))
		}
		if err != nil {
			config.LogError(logger, "shopifysync", "upsertProductVariants", businessId, variant.Sku, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed
}

// ExecuteSyncRun performs one queued sync action against the shop. Returns
// the synced/failed counters for the SyncRun record.
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
			config.LogError(config.GetLogger(), "shopifysync", "pullOrders", businessId, orders[i].Id, err)
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
		s, f := upsertProductVariants(ctx, businessId, &products[i])
		synced += s
		failed += f
	}
	return synced, failed, nil
}

// PushProductInventory pushes one local product's stock level to the shop,
// matched by SKU. The product is created shop-side when no variant matches.
func PushProductInventory(ctx context.Context, businessId string, productId int) error {
	product, err := models.GetProduct(ctx, businessId, productId)
	if err != nil {
		return err
	}
	if product.Sku == "" {
		return errors.New("product has no sku")
	}

	client, err := NewClient(ctx, businessId)
	if err != nil {
		return err
	}
	location, err := client.GetPrimaryLocation(ctx)
	if err != nil {
		return err
	}
	remoteProducts, err := client.GetProducts(ctx)
	if err != nil {
		return err
	}

	var itemId int64
	for _, remote := range remoteProducts {
		for _, variant := range remote.Variants {
			if variant.Sku == product.Sku {
				itemId = variant.InventoryItemId
			}
		}
	}
	if itemId == 0 {
		itemId, err = createRemoteProduct(ctx, client, product)
		if err != nil {
			return err
		}
	}

	quantity, err := models.GetStockQuantity(ctx, businessId, product.ID)
	if err != nil {
		return err
	}
	return client.SetInventoryLevel(ctx, location.Id, itemId, int(quantity.IntPart()))
}

// createRemoteProduct creates the shop-side counterpart of a local product
// and returns the inventory item id of its SKU variant.
func createRemoteProduct(ctx context.Context, client *Client, product *models.Product) (int64, error) {
	created, err := client.CreateProduct(ctx, product.Name, product.Sku, product.Price.StringFixed(2))
	if err != nil {
		return 0, err
	}
	for _, variant := range created.Variants {
		if variant.Sku == product.Sku {
			return variant.InventoryItemId, nil
		}
	}
	if len(created.Variants) > 0 {
		return created.Variants[0].InventoryItemId, nil
	}
	return 0, fmt.Errorf("created product %d has no variants", created.Id)
}

// pushInventory overwrites the shop's inventory levels from local stock.
// Variants are matched by SKU; a local product the shop has never seen is
// created first. SKU-less local products are skipped.
func pushInventory(ctx context.Context, client *Client, businessId string) (synced, failed int, err error) {
	location, err := client.GetPrimaryLocation(ctx)
	if err != nil {
		return 0, 0, err
	}
	remoteProducts, err := client.GetProducts(ctx)
	if err != nil {
		return 0, 0, err
	}
	itemBySku := map[string]int64{}
	for _, product := range remoteProducts {
		for _, variant := range product.Variants {
			if variant.Sku != "" {
				itemBySku[variant.Sku] = variant.InventoryItemId
			}
		}
	}

	localProducts, err := models.ListProducts(ctx, businessId, 250)
	if err != nil {
		return 0, 0, err
	}
	for i := range localProducts {
		product := &localProducts[i]
		if product.Sku == "" {
			continue
		}
		itemId, ok := itemBySku[product.Sku]
		if !ok {
			itemId, err = createRemoteProduct(ctx, client, product)
			if err != nil {
				config.LogError(config.GetLogger(), "shopifysync", "pushInventory", businessId, product.Sku, err)
				failed++
				continue
			}
		}
		quantity, err := models.GetStockQuantity(ctx, businessId, product.ID)
		if err != nil {
			failed++
			continue
		}
		if err := client.SetInventoryLevel(ctx, location.Id, itemId, int(quantity.IntPart())); err != nil {
			config.LogError(config.GetLogger(), "shopifysync", "pushInventory", businessId, product.Sku, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}
