package reconcile_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/reconcile"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestReconcileExternalOrderEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "commerce_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:         "Duka Moja",
		Email:        "owner@duka.test",
		BaseCurrency: "kes",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	if err := db.WithContext(ctx).Create(&models.Location{
		BusinessId: businessID,
		Name:       "Main Store",
		IsActive:   utils.NewTrue(),
	}).Error; err != nil {
		t.Fatalf("create location: %v", err)
	}

	external := &reconcile.ExternalOrder{
		Provider:        models.IntegrationProviderShopify,
		ExternalOrderId: "900001",
		Customer: reconcile.ExternalCustomer{
			FirstName: "Amina",
			LastName:  "Odhiambo",
			Email:     "Amina@Example.com",
			Phone:     "0712345678",
		},
		TotalAmount: decimal.NewFromInt(700),
		Currency:    "kes",
		Status:      "paid",
		Items: []reconcile.ExternalLineItem{
			{Sku: "SKU-NEW", Name: "Widget", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(200)},
			{Sku: "SKU-OLD", Name: "Gadget", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(300)},
		},
	}

	// Pre-seed SKU-OLD so find-or-create must reuse it.
	var existingProduct *models.Product
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		location, err := models.FindDefaultLocation(tx, businessID)
		if err != nil {
			return err
		}
		existingProduct, _, err = models.FindOrCreateProductBySku(tx, businessID, "SKU-OLD", "Gadget", decimal.NewFromInt(300), location.ID)
		return err
	})
	if err != nil {
		t.Fatalf("seed SKU-OLD: %v", err)
	}

	result, err := reconcile.ProcessExternalOrder(ctx, businessID, external)
	if err != nil {
		t.Fatalf("ProcessExternalOrder: %v", err)
	}
	if !result.Success || result.Replayed {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Stub product created for the unknown SKU, with a zero stock level.
	var stub models.Product
	if err := db.WithContext(ctx).Where("business_id = ? AND sku = ?", businessID, "SKU-NEW").Take(&stub).Error; err != nil {
		t.Fatalf("stub product not created: %v", err)
	}
	qty, err := models.GetStockQuantity(ctx, businessID, stub.ID)
	if err != nil {
		t.Fatalf("GetStockQuantity: %v", err)
	}
	if !qty.IsZero() {
		t.Errorf("stub product stock = %s, want 0", qty)
	}

	// Existing SKU reused, not duplicated.
	var productCount int64
	if err := db.WithContext(ctx).Model(&models.Product{}).
		Where("business_id = ? AND sku = ?", businessID, "SKU-OLD").Count(&productCount).Error; err != nil {
		t.Fatalf("count SKU-OLD: %v", err)
	}
	if productCount != 1 {
		t.Errorf("SKU-OLD product rows = %d, want 1", productCount)
	}

	// Customer created once, email stored lowercased.
	var customer models.Customer
	if err := db.WithContext(ctx).Where("business_id = ? AND email = ?", businessID, "amina@example.com").Take(&customer).Error; err != nil {
		t.Fatalf("customer not created: %v", err)
	}

	order, err := models.GetOrder(ctx, businessID, result.OrderId)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != models.OrderStatusPaid {
		t.Errorf("order status = %q, want Paid", order.Status)
	}
	if order.CustomerId == nil || *order.CustomerId != customer.ID {
		t.Errorf("order customer = %v, want %d", order.CustomerId, customer.ID)
	}
	if len(order.Items) != 2 {
		t.Errorf("order items = %d, want 2", len(order.Items))
	}
	_ = existingProduct

	// Replay: same external order again. No new order, no new customer.
	replay, err := reconcile.ProcessExternalOrder(ctx, businessID, external)
	if err != nil {
		t.Fatalf("ProcessExternalOrder replay: %v", err)
	}
	if !replay.Replayed || replay.OrderId != result.OrderId {
		t.Fatalf("replay result = %+v, want replayed order %d", replay, result.OrderId)
	}
	var orderCount int64
	if err := db.WithContext(ctx).Model(&models.Order{}).
		Where("business_id = ?", businessID).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 1 {
		t.Errorf("order rows = %d, want 1", orderCount)
	}
	var customerCount int64
	if err := db.WithContext(ctx).Model(&models.Customer{}).
		Where("business_id = ?", businessID).Count(&customerCount).Error; err != nil {
		t.Fatalf("count customers: %v", err)
	}
	if customerCount != 1 {
		t.Errorf("customer rows = %d, want 1", customerCount)
	}

	// Payment applied once even when the provider event is redelivered.
	paymentApp := &reconcile.PaymentApplication{
		BusinessId:    businessID,
		OrderId:       &result.OrderId,
		Amount:        decimal.NewFromInt(700),
		Currency:      "kes",
		PaymentMethod: "mpesa",
		Reference:     "NLJ7RT61SV",
		HandlerName:   "mpesa.stk_callback",
		MessageId:     "NLJ7RT61SV",
	}
	first, err := reconcile.ApplyPayment(ctx, paymentApp)
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if !first.Success || first.Replayed {
		t.Fatalf("first payment result = %+v", first)
	}
	second, err := reconcile.ApplyPayment(ctx, paymentApp)
	if err != nil {
		t.Fatalf("ApplyPayment replay: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("second payment result = %+v, want replayed", second)
	}
	var paymentCount int64
	if err := db.WithContext(ctx).Model(&models.Payment{}).
		Where("business_id = ? AND reference = ?", businessID, "NLJ7RT61SV").Count(&paymentCount).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paymentCount != 1 {
		t.Errorf("payment rows = %d, want 1", paymentCount)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("commerce-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("commerce-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=commerce_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
