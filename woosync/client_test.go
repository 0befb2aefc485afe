package woosync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateProduct(t *testing.T) {
	var gotMethod, gotPath, gotKey string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("consumer_key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":55,"name":"Kiondo Bag","sku":"SKU-2","price":"100.00","manage_stock":true,"stock_quantity":7}`))
	}))
	defer srv.Close()

	cl := &Client{
		baseUrl:        srv.URL,
		consumerKey:    "ck_test",
		consumerSecret: "cs_test",
		httpClient:     srv.Client(),
	}

	created, err := cl.CreateProduct(context.Background(), "Kiondo Bag", "SKU-2", "100.00", 7)
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/wp-json/wc/v3/products" {
		t.Errorf("request = %s %s, want POST /wp-json/wc/v3/products", gotMethod, gotPath)
	}
	if gotKey != "ck_test" {
		t.Errorf("consumer_key = %q, want ck_test", gotKey)
	}
	if gotBody["sku"] != "SKU-2" || gotBody["manage_stock"] != true {
		t.Errorf("payload = %v, want sku SKU-2 with manage_stock on", gotBody)
	}
	if qty, ok := gotBody["stock_quantity"].(float64); !ok || qty != 7 {
		t.Errorf("stock_quantity = %v, want 7", gotBody["stock_quantity"])
	}

	if created.Id != 55 || created.Sku != "SKU-2" {
		t.Errorf("created = %+v, want id 55 sku SKU-2", created)
	}
	if created.StockQuantity == nil || *created.StockQuantity != 7 {
		t.Errorf("created stock quantity = %v, want 7", created.StockQuantity)
	}
}
