// Package manifest reads module definitions from HCL files.
//
//	module "pos" {
//	  version               = "1.2.0"
//	  required_capabilities = ["pos_system"]
//	  depends_on            = ["payments"]
//	  version_constraints   = { payments = "^1.0.0" }
//	  remote                = var.remote
//
//	  slot "dashboard" {
//	    contribution = "pos-widget"
//	    priority     = 10
//	  }
//	}
//
// Values passed as variables are available to expressions as var.<name>.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

type file struct {
	Modules []*binderyv1alpha1.Module `hcl:"module,block"`
}

// Parser decodes manifests. One Parser may read many files; a module id may
// appear only once across them.
type Parser struct {
	parser *hclparse.Parser
	ctx    *hcl.EvalContext
	seen   map[string]string
}

func NewParser(vars map[string]string) *Parser {
	values := make(map[string]cty.Value, len(vars))
	for k, v := range vars {
		values[k] = cty.StringVal(v)
	}
	varObj := cty.EmptyObjectVal
	if len(values) > 0 {
		varObj = cty.ObjectVal(values)
	}
	return &Parser{
		parser: hclparse.NewParser(),
		ctx: &hcl.EvalContext{
			Variables: map[string]cty.Value{"var": varObj},
		},
		seen: make(map[string]string),
	}
}

// Parse decodes src. filename is used in diagnostics.
func (p *Parser) Parse(src []byte, filename string) ([]*binderyv1alpha1.Module, error) {
	f, diags := p.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse manifest %s: %w", filename, diags)
	}

	var decoded file
	if diags := gohcl.DecodeBody(f.Body, p.ctx, &decoded); diags.HasErrors() {
		return nil, fmt.Errorf("decode manifest %s: %w", filename, diags)
	}

	for _, m := range decoded.Modules {
		if prev, ok := p.seen[m.ID]; ok {
			return nil, fmt.Errorf("manifest %s: module %q already defined in %s", filename, m.ID, prev)
		}
		p.seen[m.ID] = filename
	}
	return decoded.Modules, nil
}

// ParseFile reads and decodes the manifest at path.
func (p *Parser) ParseFile(path string) ([]*binderyv1alpha1.Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return p.Parse(src, path)
}

// LoadDir decodes every *.hcl file directly under dir, in name order.
func LoadDir(dir string, vars map[string]string) ([]*binderyv1alpha1.Module, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	p := NewParser(vars)
	var out []*binderyv1alpha1.Module
	for _, path := range paths {
		mods, err := p.ParseFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, mods...)
	}
	return out, nil
}
