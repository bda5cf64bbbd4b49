package compiler

import (
	"fmt"

	"github.com/spf13/afero"
)

// Kind selects a compiler backend.
type Kind string

const (
	KindCommand Kind = "command"
	KindScript  Kind = "script"
)

// Options describes how to build a Compiler.
type Options struct {
	Kind      Kind
	Command   string
	Args      []string
	Script    string
	Namespace string
	Bare      bool
}

// New builds the compiler described by opts. Script bundles are read
// through fsys so tests can supply them from memory.
func New(fsys afero.Fs, opts Options) (Compiler, error) {
	switch opts.Kind {
	case KindCommand, "":
		return NewCommandCompiler(opts.Command, opts.Args, WithBare(opts.Bare))
	case KindScript:
		if opts.Script == "" {
			return nil, fmt.Errorf("script compiler requires a bundle path")
		}
		bundle, err := afero.ReadFile(fsys, opts.Script)
		if err != nil {
			return nil, fmt.Errorf("reading compiler bundle: %w", err)
		}
		return NewScriptCompiler(bundle, ScriptOptions{Namespace: opts.Namespace, Bare: opts.Bare})
	default:
		return nil, fmt.Errorf("unknown compiler kind %q", opts.Kind)
	}
}
