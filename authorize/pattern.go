package authorize

// RequestPattern classifies how the authorization request parameters were
// conveyed. The by-reference form takes precedence over the by-value form
// when a client sends both, and either beats plain query parameters.
type RequestPattern string

const (
	// PatternNormal carries all parameters as plain query/form values.
	PatternNormal RequestPattern = "normal"
	// PatternRequestObject carries a JWT in the request parameter.
	PatternRequestObject RequestPattern = "request_object"
	// PatternRequestURI references a request object by URI.
	PatternRequestURI RequestPattern = "request_uri"
)

// DetectPattern inspects the raw parameters and picks the analysis pattern.
func DetectPattern(params Parameters) RequestPattern {
	if params.Has(ParamRequestURI) {
		return PatternRequestURI
	}
	if params.Has(ParamRequest) {
		return PatternRequestObject
	}
	return PatternNormal
}
