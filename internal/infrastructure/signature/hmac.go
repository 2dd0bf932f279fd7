package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// HMACVerifier checks gateway signatures of the form
// hex(HMAC-SHA256(secret, gatewayOrderID + "|" + gatewayPaymentID)).
type HMACVerifier struct {
	secret []byte
}

var _ payment.Verifier = (*HMACVerifier)(nil)

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign returns the lowercase hex signature for the given references.
func (v *HMACVerifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	return hex.EncodeToString(v.mac(gatewayOrderID, gatewayPaymentID))
}

func (v *HMACVerifier) Verify(_ context.Context, c payment.Confirmation) bool {
	if len(v.secret) == 0 {
		return false
	}
	supplied, err := hex.DecodeString(strings.ToLower(c.Signature))
	if err != nil {
		return false
	}
	return hmac.Equal(v.mac(c.GatewayOrderID, c.GatewayPaymentID), supplied)
}

func (v *HMACVerifier) mac(gatewayOrderID, gatewayPaymentID string) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return h.Sum(nil)
}
