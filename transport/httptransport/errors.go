package httptransport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
)

// maxRetryAfter caps server-requested delays.
const maxRetryAfter = 24 * time.Hour

// parseProtocolError builds a ProtocolError from a non-2xx response. The
// body is the standard {"errcode", "error", "retry_after_ms"} object; when
// it is not, only the status is kept. A Retry-After header (in seconds) is
// used when the body carries no delay.
func parseProtocolError(status int, header http.Header, body []byte) *syncErrors.ProtocolError {
	pe := &syncErrors.ProtocolError{StatusCode: status}

	if gjson.ValidBytes(body) {
		fields := gjson.GetManyBytes(body, "errcode", "error", "retry_after_ms")
		if fields[0].Type == gjson.String {
			pe.ErrCode = fields[0].String()
		}
		if fields[1].Type == gjson.String {
			pe.Message = fields[1].String()
		}
		if fields[2].Type == gjson.Number && fields[2].Int() > 0 {
			pe.RetryAfter = clampRetryAfter(fields[2].Int(), time.Millisecond)
		}
	}

	if pe.RetryAfter == 0 {
		if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
				pe.RetryAfter = clampRetryAfter(secs, time.Second)
			}
		}
	}

	if pe.Message == "" && pe.ErrCode == "" {
		pe.Message = http.StatusText(status)
	}
	return pe
}

// clampRetryAfter converts n units to a duration no longer than
// maxRetryAfter without overflowing.
func clampRetryAfter(n int64, unit time.Duration) time.Duration {
	if n > int64(maxRetryAfter/unit) {
		return maxRetryAfter
	}
	return time.Duration(n) * unit
}
