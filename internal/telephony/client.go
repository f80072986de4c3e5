package telephony

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultBaseURL is the Vonage API host.
const DefaultBaseURL = "https://api.nexmo.com"

const tokenTTL = 15 * time.Minute

// ErrMissingNumber is returned when no destination is given.
var ErrMissingNumber = errors.New("to number is required")

// Config configures a Client.
type Config struct {
	ApplicationID string
	// PrivateKey is the application's PEM-encoded RSA key.
	PrivateKey []byte
	FromNumber string
	BaseURL    string
	HTTPClient *http.Client
}

// Client calls the Vonage Voice API with application JWTs.
type Client struct {
	appID   string
	key     *rsa.PrivateKey
	from    string
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// CallResult is the API's answer to a create-call request.
type CallResult struct {
	UUID             string `json:"uuid"`
	Status           string `json:"status"`
	Direction        string `json:"direction"`
	ConversationUUID string `json:"conversation_uuid"`
}

type endpoint struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type createCallRequest struct {
	To        []endpoint `json:"to"`
	From      endpoint   `json:"from"`
	AnswerURL []string   `json:"answer_url"`
	EventURL  []string   `json:"event_url,omitempty"`
}

// LoadPrivateKey reads a PEM key file.
func LoadPrivateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return key, nil
}

// NewClient parses the private key and creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ApplicationID == "" {
		return nil, errors.New("application id is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	c := &Client{
		appID:   cfg.ApplicationID,
		key:     key,
		from:    cfg.FromNumber,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		now:     time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	return c, nil
}

// Token returns a signed application JWT.
func (c *Client) Token() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"application_id": c.appID,
		"iat":            now.Unix(),
		"exp":            now.Add(tokenTTL).Unix(),
		"jti":            uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
}

// CreateCall dials to and fetches the call's NCCO from answerURL.
func (c *Client) CreateCall(ctx context.Context, to, answerURL, eventURL string) (*CallResult, error) {
	to = normalizeNumber(to)
	if to == "" {
		return nil, ErrMissingNumber
	}

	body := createCallRequest{
		To:        []endpoint{{Type: "phone", Number: to}},
		From:      endpoint{Type: "phone", Number: normalizeNumber(c.from)},
		AnswerURL: []string{answerURL},
	}
	if eventURL != "" {
		body.EventURL = []string{eventURL}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	token, err := c.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/calls", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("vonage returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result CallResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// normalizeNumber strips the E.164 "+" and spacing; Vonage wants bare digits.
func normalizeNumber(n string) string {
	n = strings.TrimSpace(n)
	n = strings.TrimPrefix(n, "+")
	return strings.ReplaceAll(n, " ", "")
}
