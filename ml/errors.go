package ml

// FitError reports training data the classifier cannot be fit on.
type FitError struct {
	Reason string
}

func (e *FitError) Error() string {
	return "fit failed: " + e.Reason
}
