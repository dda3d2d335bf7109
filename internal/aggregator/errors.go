package aggregator

import "errors"

// Validation failures for inbound source signals. Malformed candidates are
// dropped and logged; they never abort a cycle.
var (
	errEmptySymbol   = errors.New("empty symbol")
	errEmptySource   = errors.New("empty source tag")
	errBadDirection  = errors.New("invalid direction")
	errBadConfidence = errors.New("confidence outside [0,1]")
)
