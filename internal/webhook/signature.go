package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
)

// SignatureVerifier validates notification authenticity against one or more
// shared HMAC keys. Multiple keys are supported so that key rotation never
// drops notifications: any configured key may currently be the live one.
type SignatureVerifier struct {
	keys []string
}

func NewSignatureVerifier(keys []string) *SignatureVerifier {
	return &SignatureVerifier{keys: keys}
}

// Verify returns true when the item's hmacSignature matches the signature
// computed with at least one configured key. It has no side effects and must
// be called before any state mutation.
func (v *SignatureVerifier) Verify(item *Notification) bool {
	provided := item.AdditionalData[AdditionalDataHMACSignature]
	if provided == "" {
		return false
	}

	payload := signingPayload(item)
	for _, key := range v.keys {
		expected, err := computeSignature(key, payload)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1 {
			return true
		}
	}
	return false
}

// signingPayload builds the canonical colon-separated string the gateway
// signs: pspReference:originalReference:merchantAccountCode:merchantReference:
// value:currency:eventCode:success. Backslashes and colons inside field
// values are escaped.
func signingPayload(item *Notification) string {
	success := "false"
	if item.Success {
		success = "true"
	}
	fields := []string{
		item.PspReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		success,
	}
	escaped := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, `\`, `\\`)
		f = strings.ReplaceAll(f, `:`, `\:`)
		escaped[i] = f
	}
	return strings.Join(escaped, ":")
}

func computeSignature(hexKey, payload string) (string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
