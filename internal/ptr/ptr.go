package ptr

// To returns a pointer to v. Handy for taking addresses of literals and
// function results.
func To[T any](v T) *T {
	return &v
}
