package auth

// SignatureError reports that a signing string or token could not be
// computed from the given input. It never describes a server-side rejection.
type SignatureError struct {
	Reason string
	Err    error
}

func (e *SignatureError) Error() string {
	if e.Err != nil {
		return "compute signature: " + e.Reason + ": " + e.Err.Error()
	}
	return "compute signature: " + e.Reason
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}
