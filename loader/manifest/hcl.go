package manifest

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclRoot is the top level of a .fx.hcl file.
type hclRoot struct {
	Plugin hclPlugin `hcl:"plugin,block"`
	Remain hcl.Body  `hcl:",remain"`
}

type hclPlugin struct {
	Name       string     `hcl:"name,label"`
	Vendor     string     `hcl:"vendor,optional"`
	Version    string     `hcl:"version,optional"`
	ID         string     `hcl:"id,optional"`
	Category   string     `hcl:"category,optional"`
	Inputs     int        `hcl:"inputs"`
	Outputs    int        `hcl:"outputs"`
	InitDelay  string     `hcl:"init_delay,optional"`
	Fail       string     `hcl:"fail,optional"`
	Parameters *cty.Value `hcl:"parameters,optional"`
}

func decodeHCL(filename string, data []byte) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	var root hclRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, diags
	}

	p := root.Plugin
	params, err := ctyParameters(p.Parameters)
	if err != nil {
		return nil, err
	}
	delay, err := parseDelay(p.InitDelay)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		Name:       p.Name,
		Vendor:     p.Vendor,
		Version:    p.Version,
		ID:         p.ID,
		Category:   p.Category,
		Inputs:     p.Inputs,
		Outputs:    p.Outputs,
		Parameters: params,
		InitDelay:  delay,
		Fail:       p.Fail,
	}, nil
}

// ctyParameters flattens an object or map of numbers into Go values.
func ctyParameters(val *cty.Value) (map[string]float64, error) {
	if val == nil || val.IsNull() {
		return nil, nil
	}
	if !val.IsKnown() {
		return nil, fmt.Errorf("%w: parameters must be known values", ErrInvalid)
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("%w: parameters must be an object, got %s", ErrInvalid, ty.FriendlyName())
	}

	out := make(map[string]float64)
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		if v.IsNull() || !v.Type().Equals(cty.Number) {
			return nil, fmt.Errorf("%w: parameter %q must be a number", ErrInvalid, k.AsString())
		}
		f, _ := v.AsBigFloat().Float64()
		out[k.AsString()] = f
	}
	return out, nil
}
