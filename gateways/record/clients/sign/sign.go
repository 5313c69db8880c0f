package sign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	config "github.com/kolla/backend/config/record"
)

// Client talks to the external document signing service. The pipeline
// only hands over paths and identities; key material never crosses this
// boundary in the other direction.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type SignPDFRequest struct {
	MeetingID string `json:"meeting_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

type SignPDFResponse struct {
	Success    bool   `json:"success"`
	SignedFile string `json:"signed_file"`
	Message    string `json:"message"`
}

type CreateKeyRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type CreateKeyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func New(cfg *config.ServiceConfig) *Client {
	log := slog.Default()
	baseURL := fmt.Sprintf("http://%s:%d", cfg.Url, cfg.Port)
	log.Debug("creating sign client",
		slog.String("base_url", baseURL),
		slog.String("service_url", cfg.Url),
		slog.Int("service_port", cfg.Port))
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		log:        log,
	}
}

func (c *Client) SignPDF(ctx context.Context, meetingID, userID, userName string) (*SignPDFResponse, error) {
	c.log.Info("SignPDF called",
		slog.String("meeting_id", meetingID),
		slog.String("user_id", userID))

	var result SignPDFResponse
	err := c.post(ctx, "/api/sign_pdf", SignPDFRequest{
		MeetingID: meetingID,
		UserID:    userID,
		UserName:  userName,
	}, &result)
	if err != nil {
		return nil, err
	}

	c.log.Info("pdf signed",
		slog.String("meeting_id", meetingID),
		slog.String("signed_file", result.SignedFile))
	return &result, nil
}

func (c *Client) CreateKey(ctx context.Context, userID, userName string) (*CreateKeyResponse, error) {
	c.log.Info("CreateKey called", slog.String("user_id", userID))

	var result CreateKeyResponse
	err := c.post(ctx, "/api/create_key", CreateKeyRequest{
		UserID:   userID,
		UserName: userName,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		c.log.Error("failed to marshal request", slog.String("error", err.Error()))
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + path
	c.log.Debug("sending POST request to sign service", slog.String("url", url))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("HTTP request failed",
			slog.String("error", err.Error()),
			slog.String("url", url))
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	c.log.Debug("response received", slog.Int("status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.log.Error("sign service returned error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(respBody)))
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Error("failed to decode response", slog.String("error", err.Error()))
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
