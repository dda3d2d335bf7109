package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// canonicalize renders request params as the exchange expects them signed:
// keys sorted ascending, joined as key=value pairs with '&'.
func canonicalize(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// signPayload computes SIGN = hex(HMAC-SHA256(secret, timestamp + apiKey +
// recvWindow + canonicalParams)).
func signPayload(secret, apiKey string, timestamp, recvWindow int64, canonical string) string {
	payload := strconv.FormatInt(timestamp, 10) + apiKey + strconv.FormatInt(recvWindow, 10) + canonical
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
