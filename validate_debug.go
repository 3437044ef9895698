//go:build !release

package tensorgraph

// validateAfterPass enables the module validation after each pass. Build with the "release"
// tag to disable it.
const validateAfterPass = true
