package webhook

import "errors"

var (
	ErrMissingSecret       = errors.New("webhook: signing secret is required")
	ErrMissingHeaders      = errors.New("webhook: missing required signature headers")
	ErrInvalidTimestamp    = errors.New("webhook: invalid timestamp header")
	ErrTimestampOutOfRange = errors.New("webhook: timestamp outside tolerance window")
	ErrSignatureMismatch   = errors.New("webhook: signature mismatch")
)
