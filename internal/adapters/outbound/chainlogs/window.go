package chainlogs

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// window is the sweep position for one market. chunk shrinks when the
// provider rejects a range and grows back toward max after successes.
type window struct {
	market common.Address
	start  uint64
	chunk  uint64
	max    uint64
}

// bounds returns the inclusive range of the next query, clipped to to.
func (w *window) bounds(to uint64) (from, end uint64) {
	end = w.start + w.chunk - 1
	if end > to || end < w.start {
		end = to
	}
	return w.start, end
}

// advance moves past end and doubles the chunk up to max.
func (w *window) advance(end uint64) {
	w.start = end + 1
	if w.chunk < w.max {
		w.chunk *= 2
		if w.chunk > w.max {
			w.chunk = w.max
		}
	}
}

// shrink halves the chunk. It returns false when the chunk is already 1.
func (w *window) shrink() bool {
	if w.chunk <= 1 {
		return false
	}
	w.chunk /= 2
	return true
}

// Error codes and messages providers use to reject oversized eth_getLogs ranges.
const limitExceededCode = -32005

var rangeTooLargeMessages = []string{
	"query returned more than",
	"block range",
	"range too large",
	"range is too large",
	"limit exceeded",
	"too many blocks",
	"exceed maximum block range",
	"response size exceeded",
	"more than 10000 results",
}

func isRangeTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == limitExceededCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rangeTooLargeMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
