package session

import (
	"math/rand/v2"
	"strconv"

	"imi-storefront/internal/clock"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID returns a tab session id of the form s_<unix-ms>_<8 base-36 chars>.
func NewSessionID(clk clock.Clock) string {
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return "s_" + strconv.FormatInt(clk.Now().UnixMilli(), 10) + "_" + string(suffix)
}
