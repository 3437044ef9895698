package utils

import "strings"

// OutputParameterPrefix marks the parameters of a module that receive destination
// buffers (pre-allocated outputs) instead of inputs: "#output_0", "#output_1", ...
const OutputParameterPrefix = "#output_"

// IsOutputParameter returns whether the parameter name follows the output naming convention.
func IsOutputParameter(name string) bool {
	return strings.Contains(name, OutputParameterPrefix)
}

// OutputParameterIndex returns the output index encoded in an output parameter name,
// or -1 if the name is not an output parameter.
func OutputParameterIndex(name string) int {
	pos := strings.LastIndex(name, OutputParameterPrefix)
	if pos < 0 {
		return -1
	}
	digits := name[pos+len(OutputParameterPrefix):]
	if digits == "" {
		return -1
	}
	idx := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			return -1
		}
		idx = idx*10 + int(r-'0')
	}
	return idx
}

// NormalizeIdentifier converts the name of an identifier (module name or parameter
// name) to a printable one: only letters, digits, and underscores are allowed.
//
// Invalid characters are replaced with underscores.
// If the name starts with a digit, it is prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	result := make([]rune, 0, len(name)+1)
	if name[0] >= '0' && name[0] <= '9' {
		result = append(result, '_')
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			result = append(result, r)
		} else {
			result = append(result, '_')
		}
	}
	return string(result)
}
