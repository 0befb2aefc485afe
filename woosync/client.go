package woosync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
)

// Client wraps the WooCommerce REST API for one tenant. ShopUrl is the store
// base URL; ApiKey/SecretKey are the consumer key and secret, sent as query
// parameters the way Woo's own client libraries do over HTTPS.
type Client struct {
	baseUrl        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
}

func NewClient(ctx context.Context, businessId string) (*Client, error) {
	integration, err := models.GetActiveIntegration(ctx, businessId, ProviderName)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(strings.TrimSpace(integration.ShopUrl), "/")
	if base == "" {
		return nil, errors.New("woocommerce integration has no shop url")
	}
	return &Client{
		baseUrl:        base,
		consumerKey:    integration.ApiKey,
		consumerSecret: integration.SecretKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (cl *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("consumer_key", cl.consumerKey)
	query.Set("consumer_secret", cl.consumerSecret)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	fullUrl := cl.baseUrl + "/wp-json/wc/v3/" + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, fullUrl, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("woocommerce %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("woocommerce %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// GetOrders returns up to one page (100) of orders, any status.
func (cl *Client) GetOrders(ctx context.Context) ([]WooOrder, error) {
	query := url.Values{"per_page": {"100"}}
	var orders []WooOrder
	if err := cl.do(ctx, http.MethodGet, "orders", query, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetProducts returns up to one page of products.
func (cl *Client) GetProducts(ctx context.Context) ([]WooProduct, error) {
	query := url.Values{"per_page": {"100"}}
	var products []WooProduct
	if err := cl.do(ctx, http.MethodGet, "products", query, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// CreateProduct creates a store product with stock management on. Push sync
// uses it when a local product has no SKU match in the store.
func (cl *Client) CreateProduct(ctx context.Context, name, sku, regularPrice string, quantity int) (*WooProduct, error) {
	payload := map[string]interface{}{
		"name":           name,
		"sku":            sku,
		"regular_price":  regularPrice,
		"manage_stock":   true,
		"stock_quantity": quantity,
	}
	var product WooProduct
	if err := cl.do(ctx, http.MethodPost, "products", nil, payload, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateStockQuantity overwrites one product's stock count, enabling stock
// management on it if the store had it off.
func (cl *Client) UpdateStockQuantity(ctx context.Context, productId int64, quantity int) error {
	payload := map[string]interface{}{
		"manage_stock":   true,
		"stock_quantity": quantity,
	}
	return cl.do(ctx, http.MethodPut, fmt.Sprintf("products/%d", productId), nil, payload, nil)
}
