package utils

import "testing"

func TestToSnakeCase(t *testing.T) {
	for camel, want := range map[string]string{
		"Add":              "add",
		"MultiBroadcast":   "multi_broadcast",
		"UnpackInt4":       "unpack_int4",
		"DequantizeLinear": "dequantize_linear",
		"IOBuffer":         "io_buffer",
	} {
		if got := ToSnakeCase(camel); got != want {
			t.Errorf("ToSnakeCase(%q) = %q, want %q", camel, got, want)
		}
	}
}

func TestOutputParameters(t *testing.T) {
	if !IsOutputParameter("#output_3") || IsOutputParameter("x") {
		t.Error("IsOutputParameter misclassified names")
	}
	if got := OutputParameterIndex("body:#output_12"); got != 12 {
		t.Errorf("OutputParameterIndex = %d, want 12", got)
	}
	if got := OutputParameterIndex("#output_"); got != -1 {
		t.Errorf("OutputParameterIndex(no digits) = %d, want -1", got)
	}
	if got := NormalizeIdentifier("1st@loop"); got != "_1st_loop" {
		t.Errorf("NormalizeIdentifier = %q", got)
	}
}
