package ledger

import (
	"crypto/rand"
	"encoding/base32"
	"strconv"
	"strings"
	"time"
)

// CouponCodePrefix marks codes produced by points redemption.
const CouponCodePrefix = "MIND"

// randomSegmentLen base32 characters carry 5 bits each (60 bits of entropy).
const randomSegmentLen = 12

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewCouponCode returns PREFIX-RANDOM-TIME where TIME is the base-36
// millisecond timestamp, so support staff can roughly date a code.
func NewCouponCode(now time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	random := codeEncoding.EncodeToString(buf)[:randomSegmentLen]
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return CouponCodePrefix + "-" + random + "-" + stamp, nil
}

// NormalizeCouponCode trims and upper-cases user input.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
