package catalog

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// AttributeKind tags a product attribute with a known schema kind.
type AttributeKind string

const (
	AttrColor    AttributeKind = "color"
	AttrSize     AttributeKind = "size"
	AttrMaterial AttributeKind = "material"
	AttrWeight   AttributeKind = "weight"
	AttrFlavor   AttributeKind = "flavor"
	AttrStyle    AttributeKind = "style"
)

var knownKinds = map[AttributeKind]struct{}{
	AttrColor:    {},
	AttrSize:     {},
	AttrMaterial: {},
	AttrWeight:   {},
	AttrFlavor:   {},
	AttrStyle:    {},
}

// Attributes is a tagged map of product attributes keyed by validated kinds.
// It replaces the untyped JSON bag: pricing and snapshot logic can rely on
// every key being one of the declared kinds.
type Attributes map[AttributeKind]string

// Validate rejects attribute kinds outside the declared schema.
func (a Attributes) Validate() error {
	for kind := range a {
		if _, ok := knownKinds[kind]; !ok {
			return errors.Errorf("unknown attribute kind %q", kind)
		}
	}
	return nil
}

// Clone returns a copy safe to snapshot into an order item.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// EncodeAttributes serializes a to its JSONB representation with stable key
// order.
func EncodeAttributes(a Attributes) []byte {
	e := &jx.Encoder{}
	e.ObjStart()
	kinds := make([]string, 0, len(a))
	for k := range a {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		e.FieldStart(k)
		e.Str(a[AttributeKind(k)])
	}
	e.ObjEnd()
	return e.Bytes()
}

// DecodeAttributes parses the JSONB representation and validates every kind.
func DecodeAttributes(raw []byte) (Attributes, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(raw)
	out := Attributes{}
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		if err != nil {
			return errors.Wrapf(err, "attribute %q", key)
		}
		out[AttributeKind(key)] = v
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode attributes")
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
