package errorsx

import "errors"

// ReasonedError carries a machine-readable reason code alongside the
// underlying error, so log lines and metrics can classify failures without
// string matching.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap tags err with a reason. Nil stays nil, and an error that already
// carries a reason keeps its first one: the innermost classification wins.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason attached anywhere in err's chain, or
// ReasonUnknown.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given reason.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
