package tradelog

import "fmt"

// Pebble key schema.
//
// Instrument index: "trade:{ticker}:{seq}" with the per-instrument sequence
// zero-padded to 20 digits, so lexicographic order is execution order.
// User index: "utrade:{user}:{ts}:{id}" with one entry per counterparty,
// timestamp zero-padded for time ordering.
const (
	prefixTrade     = "trade:"
	prefixUserTrade = "utrade:"
)

func tradeKey(ticker string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, ticker, seq))
}

func tradePrefix(ticker string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, ticker))
}

func userTradeKey(user string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixUserTrade, user, ts, id))
}

func userTradePrefix(user string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixUserTrade, user))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
