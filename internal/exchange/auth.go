// Package exchange implements the Bybit v5 linear perpetuals REST client
// used to enter and exit positions, plus a paper-trading counterpart for
// dry-run mode.
//
// Every trading request is HMAC-SHA256 signed per Bybit's v5 scheme:
// sign_payload = timestamp + api_key + recv_window + payload, where payload
// is the sorted query string for GET or the raw JSON body for POST.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"auction-trader/internal/config"
)

// Auth signs Bybit v5 REST requests with a static API key/secret pair.
type Auth struct {
	apiKey     string
	apiSecret  string
	recvWindow string
}

// NewAuth builds an Auth from the configured API credentials.
func NewAuth(cfg config.Config) *Auth {
	return &Auth{
		apiKey:     cfg.API.APIKey,
		apiSecret:  cfg.API.APISecret,
		recvWindow: strconv.FormatInt(cfg.API.RecvWindow.Milliseconds(), 10),
	}
}

// RecvWindow returns the configured receive window, in milliseconds, as a string.
func (a *Auth) RecvWindow() string {
	return a.recvWindow
}

// SignGET signs a GET request. params are sorted by key into the Bybit
// canonical query string, which is also the payload the caller must send.
func (a *Auth) SignGET(params map[string]string, timestamp string) (query, signature string) {
	query = sortedQueryString(params)
	payload := timestamp + a.apiKey + a.recvWindow + query
	return query, a.sign(payload)
}

// SignPOST signs a POST request whose body is the raw JSON payload.
func (a *Auth) SignPOST(body string, timestamp string) string {
	payload := timestamp + a.apiKey + a.recvWindow + body
	return a.sign(payload)
}

func (a *Auth) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the X-BAPI-* headers for a signed request.
func (a *Auth) Headers(timestamp, signature string) map[string]string {
	return map[string]string{
		"X-BAPI-API-KEY":     a.apiKey,
		"X-BAPI-SIGN":        signature,
		"X-BAPI-TIMESTAMP":   timestamp,
		"X-BAPI-RECV-WINDOW": a.recvWindow,
	}
}

// Timestamp returns the current time in Bybit's millisecond epoch format.
func Timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func sortedQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(parts, "&")
}

// GenerateClientOrderID returns a short, unique order-link id, the shape
// Bybit's orderLinkId field expects.
func GenerateClientOrderID() string {
	return "at_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
