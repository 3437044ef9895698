package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// fileSchema is the top-level structure of a configuration file.
type fileSchema struct {
	Compile []*compileBlock `hcl:"compile,block"`
}

type compileBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// LoadFile reads the options from an HCL file, starting from Default().
// The file holds one compile block:
//
//	compile {
//	  disabled_passes = ["eliminate_concat"]
//	  workers         = 4
//	  trace_passes    = env.TRACE == "1"
//	}
//
// Environment variables are available to expressions as env.NAME.
func LoadFile(path string) (Options, error) {
	return LoadFileWithBase(path, Default())
}

// LoadFileWithBase is like LoadFile, but attributes missing in the file keep the values of base.
func LoadFileWithBase(path string, base Options) (Options, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return base, errors.Errorf("failed to parse config file %s: %s", path, diags.Error())
	}
	var parsed fileSchema
	if diags = gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return base, errors.Errorf("failed to decode config file %s: %s", path, diags.Error())
	}
	if len(parsed.Compile) > 1 {
		return base, errors.Errorf("config file %s has %d compile blocks, only one is allowed", path, len(parsed.Compile))
	}
	opts := base
	if len(parsed.Compile) == 1 {
		if diags = gohcl.DecodeBody(parsed.Compile[0].Body, envEvalContext(), &opts); diags.HasErrors() {
			return base, errors.Errorf("failed to decode compile block of %s: %s", path, diags.Error())
		}
	}
	return opts, nil
}

// envEvalContext exposes the environment variables as the object "env".
func envEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, found := strings.Cut(kv, "=")
		if !found || !hclsyntax.ValidIdentifier(name) {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

// Environment variables read by FromEnv.
const (
	EnvDisablePasses          = "TENSORGRAPH_DISABLE_PASSES"
	EnvTracePasses            = "TENSORGRAPH_TRACE_PASSES"
	EnvTimePasses             = "TENSORGRAPH_TIME_PASSES"
	EnvTracePropagateConstant = "TENSORGRAPH_TRACE_PROPAGATE_CONSTANT"
	EnvSkipValidation         = "TENSORGRAPH_SKIP_VALIDATION"
	EnvWorkers                = "TENSORGRAPH_WORKERS"
)

// FromEnv returns base with the overrides set in the environment.
// TENSORGRAPH_DISABLE_PASSES is a comma-separated list added to the disabled passes.
func FromEnv(base Options) (Options, error) {
	opts := base
	if list, found := os.LookupEnv(EnvDisablePasses); found {
		for _, name := range strings.Split(list, ",") {
			if name = strings.TrimSpace(name); name != "" {
				opts = opts.WithDisabledPasses(name)
			}
		}
	}
	for _, flag := range []struct {
		env   string
		field *bool
	}{
		{EnvTracePasses, &opts.TracePasses},
		{EnvTimePasses, &opts.TimePasses},
		{EnvTracePropagateConstant, &opts.TracePropagateConstant},
		{EnvSkipValidation, &opts.SkipValidation},
	} {
		value, found := os.LookupEnv(flag.env)
		if !found || value == "" {
			continue
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return base, errors.Wrapf(err, "invalid value for %s", flag.env)
		}
		*flag.field = b
	}
	if value, found := os.LookupEnv(EnvWorkers); found && value != "" {
		workers, err := strconv.Atoi(value)
		if err != nil {
			return base, errors.Wrapf(err, "invalid value for %s", EnvWorkers)
		}
		opts.Workers = workers
	}
	return opts, nil
}
