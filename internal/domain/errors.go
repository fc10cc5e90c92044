package domain

import "errors"

// Error taxonomy for the scoring pipeline. InvalidProbability, MissingField
// and MissingProbability reject a single record; Configuration aborts before
// any scoring output is produced.
var (
	ErrInvalidProbability = errors.New("probability outside [0,1]")
	ErrMissingField       = errors.New("missing or malformed record field")
	ErrMissingProbability = errors.New("no probability for customer")
	ErrConfiguration      = errors.New("invalid engine configuration")
)
