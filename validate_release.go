//go:build release

package tensorgraph

const validateAfterPass = false
