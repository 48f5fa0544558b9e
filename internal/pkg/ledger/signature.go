package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// BuildSignatureParams flattens a notification body into the parameter set
// the gateway signs. The nested transaction object is preferred when
// present; the signature field itself, nulls and nested objects are
// dropped, and customer email/ip are folded in under customer_email /
// customer_ip. This must reproduce the gateway-side canonicalization
// exactly, so value stringification follows JavaScript String() semantics.
func BuildSignatureParams(payload map[string]any) map[string]string {
	source := payload
	if tx, ok := payload["transaction"].(map[string]any); ok {
		source = tx
	}

	params := make(map[string]string, len(source))
	for key, value := range source {
		if key == "signature" || value == nil {
			continue
		}
		switch v := value.(type) {
		case map[string]any, []any:
			// objects and arrays never participate in the signature
			continue
		default:
			params[key] = jsString(v)
		}
	}

	if customer, ok := source["customer"].(map[string]any); ok {
		if email, ok := customer["email"].(string); ok && email != "" {
			params["customer_email"] = email
		}
		if ip, ok := customer["ip"].(string); ok && ip != "" {
			params["customer_ip"] = ip
		}
	}

	return params
}

// SignatureString sorts the parameter keys lexicographically and joins
// key=value pairs with "&".
func SignatureString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

// ComputeSignature returns the lowercase hex HMAC-SHA256 of the
// canonicalized body under the shared secret.
func ComputeSignature(rawBody []byte, secret string) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SignatureString(BuildSignatureParams(payload))))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the body signature and compares it to the
// header-supplied value in constant time.
func VerifySignature(rawBody []byte, signatureHeader, secret string) bool {
	sig := strings.ToLower(strings.TrimSpace(signatureHeader))
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	provided, err := hex.DecodeString(sig)
	if err != nil || len(provided) == 0 {
		return false
	}

	computedHex, err := ComputeSignature(rawBody, secret)
	if err != nil {
		return false
	}
	computed, err := hex.DecodeString(computedHex)
	if err != nil {
		return false
	}

	return hmac.Equal(computed, provided)
}

// jsString formats a decoded JSON scalar the way JavaScript's String()
// does: integral numbers without a decimal point, booleans as true/false.
func jsString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
