/**
 * @description
 * Custodial payout provider: executes transfers through a Circle-style
 * developer-controlled-wallet API. Amounts are converted from smallest
 * units to the rail's decimal-string representation with exact integer
 * arithmetic; a fresh idempotency key is generated per attempt, so the
 * rail does NOT deduplicate retries — the allocation state machine is the
 * real idempotency boundary.
 *
 * @dependencies
 * - bytes, context, crypto/*, encoding/*, net/http: Standard Go libraries.
 * - github.com/google/uuid: Idempotency key generation.
 */
package payout

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockquiz/rewards-service/internal/domain"
	"github.com/blockquiz/rewards-service/pkg/units"
)

// CustodialProvider talks to the custodial wallet API.
type CustodialProvider struct {
	baseURL     string
	apiKey      string
	walletID    string
	entityKey   []byte
	blockchain  string
	usdcAddress string
	httpClient  *http.Client

	mu        sync.Mutex
	railKey   *rsa.PublicKey
}

// NewCustodialProvider validates credentials and returns the provider.
func NewCustodialProvider(cfg Config) (*CustodialProvider, error) {
	if cfg.CustodialAPIKey == "" {
		return nil, fmt.Errorf("%w: custodial api key missing", ErrConfig)
	}
	if cfg.CustodialWalletID == "" {
		return nil, fmt.Errorf("%w: custodial wallet id missing", ErrConfig)
	}
	entityKey, err := hex.DecodeString(cfg.CustodialEntityKey)
	if err != nil || len(entityKey) != 32 {
		return nil, fmt.Errorf("%w: custodial entity secret must be 32-byte hex", ErrConfig)
	}

	baseURL := cfg.CustodialAPIBaseURL
	if baseURL == "" {
		baseURL = "https://api.circle.com"
	}
	blockchain := cfg.CustodialBlockchain
	if blockchain == "" {
		blockchain = "BASE"
	}

	return &CustodialProvider{
		baseURL:     baseURL,
		apiKey:      cfg.CustodialAPIKey,
		walletID:    cfg.CustodialWalletID,
		entityKey:   entityKey,
		blockchain:  blockchain,
		usdcAddress: cfg.CustodialUSDCAddress,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type custodialTransferRequest struct {
	WalletID               string   `json:"walletId"`
	DestinationAddress     string   `json:"destinationAddress"`
	IdempotencyKey         string   `json:"idempotencyKey"`
	EntitySecretCiphertext string   `json:"entitySecretCiphertext"`
	Amounts                []string `json:"amounts"`
	FeeLevel               string   `json:"feeLevel"`
	Blockchain             string   `json:"blockchain"`
	TokenAddress           string   `json:"tokenAddress"`
}

type custodialTransferResponse struct {
	Data struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"data"`
}

// ErrorResponse represents an error payload from the custodial API.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("custodial api error: %d - %s", e.Code, e.Message)
	}
	return fmt.Sprintf("custodial api error: status %d", e.Status)
}

// Transfer sends amountUnits of token to destination and returns the
// rail's transaction id as the settlement reference.
func (c *CustodialProvider) Transfer(ctx context.Context, token domain.RewardToken, destination string, amountUnits *big.Int) (string, error) {
	if token == domain.TokenUSDC && c.usdcAddress == "" {
		return "", fmt.Errorf("%w: custodial usdc token address missing", ErrConfig)
	}

	ciphertext, err := c.entitySecretCiphertext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to prepare entity secret ciphertext: %w", err)
	}

	// Fresh key per attempt: a retry after a timeout is a new request from
	// the rail's point of view.
	idempotencyKey := uuid.NewString()

	reqPayload := custodialTransferRequest{
		WalletID:               c.walletID,
		DestinationAddress:     destination,
		IdempotencyKey:         idempotencyKey,
		EntitySecretCiphertext: ciphertext,
		Amounts:                []string{units.ToDecimalString(amountUnits, token.Decimals())},
		FeeLevel:               "MEDIUM",
		Blockchain:             c.blockchain,
	}
	if token == domain.TokenUSDC {
		reqPayload.TokenAddress = c.usdcAddress
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/w3s/developer/transactions/transfer", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-Id", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=custodial_provider op=transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return "", fmt.Errorf("custodial transfer failed (status %d)", resp.StatusCode)
		}
		errResp.Status = resp.StatusCode
		log.Printf("level=warn component=custodial_provider op=transfer status=%d code=%d detail=%q", resp.StatusCode, errResp.Code, errResp.Message)
		return "", &errResp
	}

	var successResp custodialTransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return "", fmt.Errorf("failed to decode transfer response: %w", err)
	}
	if successResp.Data.ID == "" {
		return "", fmt.Errorf("custodial transfer response missing transaction id")
	}
	return successResp.Data.ID, nil
}

// entitySecretCiphertext encrypts the entity secret with the rail's RSA
// public key. The ciphertext must be freshly generated per request; OAEP
// randomization takes care of that once the key is cached.
func (c *CustodialProvider) entitySecretCiphertext(ctx context.Context) (string, error) {
	key, err := c.railPublicKey(ctx)
	if err != nil {
		return "", err
	}
	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, c.entityKey, nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt entity secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func (c *CustodialProvider) railPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.railKey != nil {
		return c.railKey, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/w3s/config/entity/publicKey", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rail public key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch rail public key (status %d)", resp.StatusCode)
	}

	var keyResp struct {
		Data struct {
			PublicKey string `json:"publicKey"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&keyResp); err != nil {
		return nil, fmt.Errorf("failed to decode rail public key response: %w", err)
	}

	key, err := parseRSAPublicKeyPEM(keyResp.Data.PublicKey)
	if err != nil {
		return nil, err
	}
	c.railKey = key
	return key, nil
}

func parseRSAPublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("rail public key is not valid PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rail public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("rail public key is not RSA")
	}
	return rsaKey, nil
}
