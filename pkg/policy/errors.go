package policy

import "errors"

var (
	errInvalidEffect = errors.New("rule effect must be \"allow\" or \"deny\"")
	errEmptyActions  = errors.New("rule actions must be non-empty")
	errEmptyResource = errors.New("rule resource must be non-empty")
)
