package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

func TestSignMatchesReferenceHMAC(t *testing.T) {
	h := hmac.New(sha256.New, []byte("s3cret"))
	h.Write([]byte("order_9A|pay_29Q"))
	want := hex.EncodeToString(h.Sum(nil))

	assert.Equal(t, want, NewHMACVerifier("s3cret").Sign("order_9A", "pay_29Q"))
}

func TestVerify(t *testing.T) {
	v := NewHMACVerifier("s3cret")
	sig := v.Sign("order_9A", "pay_29Q")
	ctx := context.Background()

	cases := []struct {
		name string
		c    payment.Confirmation
		want bool
	}{
		{"valid", payment.Confirmation{GatewayOrderID: "order_9A", GatewayPaymentID: "pay_29Q", Signature: sig}, true},
		{"uppercase hex", payment.Confirmation{GatewayOrderID: "order_9A", GatewayPaymentID: "pay_29Q", Signature: strings.ToUpper(sig)}, true},
		{"swapped refs", payment.Confirmation{GatewayOrderID: "pay_29Q", GatewayPaymentID: "order_9A", Signature: sig}, false},
		{"tampered", payment.Confirmation{GatewayOrderID: "order_9A", GatewayPaymentID: "pay_29R", Signature: sig}, false},
		{"not hex", payment.Confirmation{GatewayOrderID: "order_9A", GatewayPaymentID: "pay_29Q", Signature: "zz"}, false},
		{"truncated", payment.Confirmation{GatewayOrderID: "order_9A", GatewayPaymentID: "pay_29Q", Signature: sig[:10]}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, v.Verify(ctx, tc.c))
		})
	}
}

func TestEmptySecretNeverVerifies(t *testing.T) {
	v := NewHMACVerifier("")
	c := payment.Confirmation{GatewayOrderID: "a", GatewayPaymentID: "b", Signature: v.Sign("a", "b")}
	assert.False(t, v.Verify(context.Background(), c))
}
