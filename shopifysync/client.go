package shopifysync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
)

const apiVersion = "2024-01"

// Client wraps the Shopify Admin REST API for one tenant. ShopUrl on the
// integration row is the myshopify domain, SecretKey the Admin API access
// token (also used as the webhook HMAC secret).
type Client struct {
	shopDomain  string
	accessToken string
	httpClient  *http.Client
}

func NewClient(ctx context.Context, businessId string) (*Client, error) {
	integration, err := models.GetActiveIntegration(ctx, businessId, ProviderName)
	if err != nil {
		return nil, err
	}
	domain := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(integration.ShopUrl), "https://"), "/")
	if domain == "" {
		return nil, errors.New("shopify integration has no shop domain")
	}
	return &Client{
		shopDomain:  domain,
		accessToken: integration.SecretKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (cl *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	url := fmt.Sprintf("https://%s/admin/api/%s/%s", cl.shopDomain, apiVersion, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Shopify-Access-Token", cl.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shopify %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("shopify %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// GetProducts returns up to one page (250) of products with their variants.
func (cl *Client) GetProducts(ctx context.Context) ([]ShopifyProduct, error) {
	var result struct {
		Products []ShopifyProduct `json:"products"`
	}
	if err := cl.do(ctx, http.MethodGet, "products.json?limit=250", nil, &result); err != nil {
		return nil, err
	}
	return result.Products, nil
}

// GetOrders returns up to one page of orders regardless of status.
func (cl *Client) GetOrders(ctx context.Context) ([]ShopifyOrder, error) {
	var result struct {
		Orders []ShopifyOrder `json:"orders"`
	}
	if err := cl.do(ctx, http.MethodGet, "orders.json?status=any&limit=250", nil, &result); err != nil {
		return nil, err
	}
	return result.Orders, nil
}

// CreateProduct creates a single-variant product in the shop. Push sync uses
// it when a local product has no SKU match on the remote side.
func (cl *Client) CreateProduct(ctx context.Context, title, sku, price string) (*ShopifyProduct, error) {
	payload := map[string]interface{}{
		"product": map[string]interface{}{
			"title": title,
			"variants": []map[string]interface{}{
				{"sku": sku, "price": price},
			},
		},
	}
	var result struct {
		Product ShopifyProduct `json:"product"`
	}
	if err := cl.do(ctx, http.MethodPost, "products.json", payload, &result); err != nil {
		return nil, err
	}
	return &result.Product, nil
}

// GetPrimaryLocation returns the first active location; Shopify scopes all
// inventory levels to a location.
func (cl *Client) GetPrimaryLocation(ctx context.Context) (*ShopifyLocation, error) {
	var result struct {
		Locations []ShopifyLocation `json:"locations"`
	}
	if err := cl.do(ctx, http.MethodGet, "locations.json", nil, &result); err != nil {
		return nil, err
	}
	for _, location := range result.Locations {
		if location.Active {
			return &location, nil
		}
	}
	return nil, errors.New("shop has no active location")
}

// SetInventoryLevel overwrites the available quantity for one inventory item
// at one location.
func (cl *Client) SetInventoryLevel(ctx context.Context, locationId, inventoryItemId int64, available int) error {
	payload := map[string]interface{}{
		"location_id":       locationId,
		"inventory_item_id": inventoryItemId,
		"available":         available,
	}
	return cl.do(ctx, http.MethodPost, "inventory_levels/set.json", payload, nil)
}
