package shopifysync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateProduct(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]interface{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"product":{"id":77,"title":"Sisal Basket","variants":[{"id":1,"sku":"SKU-1","price":"12.50","inventory_item_id":9001}]}}`))
	}))
	defer srv.Close()

	cl := &Client{
		shopDomain:  strings.TrimPrefix(srv.URL, "https://"),
		accessToken: "shpat_test",
		httpClient:  srv.Client(),
	}

	created, err := cl.CreateProduct(context.Background(), "Sisal Basket", "SKU-1", "12.50")
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if gotPath != "/admin/api/2024-01/products.json" {
		t.Errorf("path = %q, want /admin/api/2024-01/products.json", gotPath)
	}
	if gotToken != "shpat_test" {
		t.Errorf("access token header = %q, want shpat_test", gotToken)
	}

	product, ok := gotBody["product"].(map[string]interface{})
	if !ok {
		t.Fatalf("request body has no product object: %v", gotBody)
	}
	variants, ok := product["variants"].([]interface{})
	if !ok || len(variants) != 1 {
		t.Fatalf("request body variants = %v, want one variant", product["variants"])
	}
	variant, _ := variants[0].(map[string]interface{})
	if variant["sku"] != "SKU-1" || variant["price"] != "12.50" {
		t.Errorf("variant payload = %v, want sku SKU-1 price 12.50", variant)
	}

	if len(created.Variants) != 1 || created.Variants[0].InventoryItemId != 9001 {
		t.Errorf("created variants = %v, want inventory_item_id 9001", created.Variants)
	}
}
