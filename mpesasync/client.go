package mpesasync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"github.com/shopspring/decimal"
)

const ProviderName = models.IntegrationProviderMpesa

const (
	sandboxBaseUrl = "https://sandbox.safaricom.co.ke"
	liveBaseUrl    = "https://api.safaricom.co.ke"

	// Safaricom's published Lipa na M-Pesa sandbox passkey.
	sandboxPasskey = "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"

	timestampLayout = "20060102150405"
)

// Client talks to the Daraja API for one tenant. Credentials come from the
// Integration row: ApiKey is the consumer key, SecretKey the consumer
// secret, and ShopUrl packs "SHORTCODE|PASSKEY" (passkey omitted in sandbox
// falls back to the published one).
type Client struct {
	businessId     string
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	baseUrl        string
	httpClient     *http.Client
}

func NewClient(ctx context.Context, businessId string) (*Client, error) {
	integration, err := models.GetActiveIntegration(ctx, businessId, ProviderName)
	if err != nil {
		return nil, err
	}

	shortCode, passkey := unpackShortCode(integration.ShopUrl)
	if shortCode == "" {
		return nil, errors.New("mpesa integration has no short code")
	}
	if passkey == "" {
		if config.MpesaProduction() {
			return nil, errors.New("mpesa production requires a passkey")
		}
		passkey = sandboxPasskey
	}

	baseUrl := sandboxBaseUrl
	if config.MpesaProduction() {
		baseUrl = liveBaseUrl
	}

	return &Client{
		businessId:     businessId,
		consumerKey:    integration.ApiKey,
		consumerSecret: integration.SecretKey,
		shortCode:      shortCode,
		passkey:        passkey,
		baseUrl:        baseUrl,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func unpackShortCode(packed string) (shortCode, passkey string) {
	parts := strings.SplitN(packed, "|", 2)
	shortCode = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		passkey = strings.TrimSpace(parts[1])
	}
	return
}

// stkPassword derives the Lipa na M-Pesa password for one request.
func stkPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// accessToken fetches (or reuses) an OAuth token. Daraja tokens last an
// hour; the Redis cache keeps them for 50 minutes.
func (cl *Client) accessToken(ctx context.Context) (string, error) {
	cacheKey := "MpesaToken:" + cl.businessId
	if token, ok, err := config.GetRedisValue(cacheKey); err == nil && ok {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		cl.baseUrl+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(cl.consumerKey, cl.consumerSecret)

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("daraja oauth: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja oauth: status %d: %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("daraja oauth: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("daraja oauth: empty access token")
	}

	_ = config.SetRedisValue(cacheKey, token.AccessToken, 50*time.Minute)
	return token.AccessToken, nil
}

// StkPush sends a CustomerPayBillOnline prompt to the subscriber's handset.
// The amount is rounded up to a whole shilling; Daraja rejects fractions.
// The callback URL carries the tenant and the target reference so the result
// handler can resolve them without server-side state.
func (cl *Client) StkPush(ctx context.Context, phone string, amount decimal.Decimal, accountReference, targetRef string) (*StkPushResponse, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	token, err := cl.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(timestampLayout)
	callbackUrl := fmt.Sprintf("%s/webhooks/mpesa?b=%s&ref=%s",
		publicBaseUrl(), url.QueryEscape(cl.businessId), url.QueryEscape(targetRef))

	payload := stkPushRequest{
		BusinessShortCode: cl.shortCode,
		Password:          stkPassword(cl.shortCode, cl.passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.Ceil().String(),
		PartyA:            normalized,
		PartyB:            cl.shortCode,
		PhoneNumber:       normalized,
		CallBackURL:       callbackUrl,
		AccountReference:  accountReference,
		TransactionDesc:   accountReference,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cl.baseUrl+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daraja stk push: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daraja stk push: status %d: %s", resp.StatusCode, string(respBody))
	}

	var pushResp StkPushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		return nil, fmt.Errorf("daraja stk push: %w", err)
	}
	if pushResp.ResponseCode != "0" {
		return &pushResp, fmt.Errorf("daraja stk push rejected: %s", pushResp.ResponseDescription)
	}
	return &pushResp, nil
}

func publicBaseUrl() string {
	base := os.Getenv("PUBLIC_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return strings.TrimRight(base, "/")
}
