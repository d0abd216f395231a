package attr

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// TagName is the struct tag read by DecodeInto and FromStruct.
const TagName = "attr"

// DecodeInto fills the struct pointed to by out from the bag. Fields are matched by their
// `attr` tag; names without a matching field are ignored and left in the bag. Numeric
// widening (int -> float) and string/number coercion are allowed.
func DecodeInto(b Bag, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          TagName,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("attr: decoder: %w", err)
	}
	if err := dec.Decode(b.Map()); err != nil {
		return fmt.Errorf("attr: decode: %w", err)
	}
	return nil
}

// FromStruct converts a tagged struct into a bag. Fields that are not scalars are rejected.
func FromStruct(in any) (Bag, error) {
	var m map[string]any
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: TagName,
		Result:  &m,
	})
	if err != nil {
		return nil, fmt.Errorf("attr: decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return nil, fmt.Errorf("attr: encode struct: %w", err)
	}
	out := make(Bag, len(m))
	for k, x := range m {
		v, err := FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("attr: %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Overlay writes the tagged fields of in on top of b, leaving unrelated names untouched.
func (b Bag) Overlay(in any) error {
	o, err := FromStruct(in)
	if err != nil {
		return err
	}
	b.Merge(o)
	return nil
}
