package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
)

const resendEndpoint = "https://api.resend.com/emails"

type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Html    string   `json:"html"`
}

type sendResponse struct {
	Id string `json:"id"`
}

// Send delivers one email through Resend. The API key comes from the
// tenant's resend Integration row, falling back to RESEND_API_KEY.
func Send(ctx context.Context, businessId string, email *Email) (string, error) {
	apiKey := ""
	if integration, err := models.GetActiveIntegration(ctx, businessId, models.IntegrationProviderResend); err == nil {
		apiKey = integration.ApiKey
	}
	if apiKey == "" {
		apiKey = os.Getenv("RESEND_API_KEY")
	}
	if apiKey == "" {
		return "", errors.New("no resend api key configured")
	}
	if email.From == "" {
		email.From = os.Getenv("MAIL_FROM")
	}
	if email.From == "" {
		return "", errors.New("no sender address configured")
	}

	payload, err := json.Marshal(email)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("resend: status %d: %s", resp.StatusCode, string(body))
	}

	var result sendResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	return result.Id, nil
}
