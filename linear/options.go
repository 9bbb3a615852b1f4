package linear

// Option is a function that configures LinearRegression
type Option func(*LinearRegression)

// WithAlpha sets the L2 regularization strength
func WithAlpha(alpha float64) Option {
	return func(lr *LinearRegression) {
		lr.Alpha = alpha
	}
}

// WithFitIntercept sets whether to calculate the intercept
func WithFitIntercept(fit bool) Option {
	return func(lr *LinearRegression) {
		lr.FitIntercept = fit
	}
}

// WithNormalize sets whether features are standardized before solving
func WithNormalize(normalize bool) Option {
	return func(lr *LinearRegression) {
		lr.Normalize = normalize
	}
}
