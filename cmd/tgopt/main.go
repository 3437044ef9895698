// tgopt loads a saved tensorgraph program, applies the default pass pipeline and saves and/or
// prints the result.
//
// Usage:
//
//	tgopt [-config compile.hcl] [-o out.tgp] [-print] in.tgp
//
// Options are read from the HCL file given by -config, and then overridden by the TENSORGRAPH_*
// environment variables (see config.FromEnv).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/config"
	"github.com/gomlx/tensorgraph/passes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "HCL file with the compilation options.")
	flagOutput = flag.String("o", "", "File to save the optimized program to.")
	flagPrint  = flag.Bool("print", false, "Print the optimized program to the standard output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <program file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	defer klog.Flush()

	opts := config.Default()
	if *flagConfig != "" {
		opts = must1(config.LoadFile(*flagConfig))
	}
	opts = must1(config.FromEnv(opts))

	p := must1(load(flag.Arg(0)))
	must(tensorgraph.RunPasses(p, passes.Default(opts), opts))
	if *flagPrint {
		fmt.Println(p)
	}
	if *flagOutput != "" {
		must(save(p, *flagOutput))
	}
}

func load(path string) (*tensorgraph.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening program file")
	}
	defer func() { _ = f.Close() }()
	p, err := tensorgraph.Load(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading program from %q", path)
	}
	return p, nil
}

func save(p *tensorgraph.Program, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err := p.Save(f); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "saving program %q to %q", p.Name(), path)
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}

func must(err error) {
	if err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

func must1[T any](value T, err error) T {
	must(err)
	return value
}
