package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizeAmount converts a gateway amount into integer minor currency
// units. Values containing a decimal point are major units and are
// multiplied by 100 with half-up rounding; plain integers are already
// minor units and pass through.
func NormalizeAmount(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("empty amount")
	}

	if strings.Contains(trimmed, ".") {
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", raw, err)
		}
		return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
	}

	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return n, nil
}

// NormalizeRawAmount accepts the undecoded JSON form, which may be a
// number or a quoted string.
func NormalizeRawAmount(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return 0, err
		}
		s = unquoted
	}
	return NormalizeAmount(s)
}
