package utils

// Ptr returns a pointer to v, for optional response fields.
func Ptr[T any](v T) *T {
	return &v
}
