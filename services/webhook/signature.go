package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the processor's HMAC over the raw request body,
// prefixed with the algorithm tag, e.g. "sha256=<hex digest>".
const SignatureHeader = "BTCPay-Sig"

var errSignatureMismatch = errors.New("signature does not match payload")

// VerifySignature checks the keyed hash of the raw payload against the header
// value. Only the portion after the first "=" is compared; the comparison is
// constant-time. Fails closed on a missing or malformed header.
func VerifySignature(secret string, body []byte, header string) error {
	_, digest, ok := strings.Cut(header, "=")
	if !ok || digest == "" {
		return errors.New("missing or malformed signature header")
	}

	provided, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("signature digest is not hex: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	if !hmac.Equal(mac.Sum(nil), provided) {
		return errSignatureMismatch
	}

	return nil
}
