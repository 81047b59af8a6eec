package collection

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"
)

// geoFeature is one GeoJSON feature on disk. Properties hold the entity
// key under "id", the owning site under "site_id", and every accumulated
// attribute.
type geoFeature struct {
	Type       string                     `json:"type"`
	Geometry   json.RawMessage            `json:"geometry"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type geoCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

// LoadGeoJSON reads a canonical collection from a GeoJSON feature
// collection. Feature order on disk becomes canonical entity order.
func LoadGeoJSON(path string) (*Collection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading collection file")
	}
	var gc geoCollection
	if err := json.Unmarshal(raw, &gc); err != nil {
		return nil, errors.Wrap(err, "parsing collection file")
	}

	entities := make([]*Entity, 0, len(gc.Features))
	for _, f := range gc.Features {
		e := &Entity{Geometry: f.Geometry, Attrs: make(map[string]cty.Value)}
		for name, rawVal := range f.Properties {
			switch name {
			case "id":
				if err := json.Unmarshal(rawVal, &e.Key); err != nil {
					return nil, errors.Wrap(err, "parsing feature id")
				}
			case "site_id":
				if err := json.Unmarshal(rawVal, &e.Site); err != nil {
					return nil, errors.Wrap(err, "parsing feature site_id")
				}
			default:
				v, err := decodeAttr(rawVal)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing attribute %q", name)
				}
				if v != cty.NilVal {
					e.Attrs[name] = v
				}
			}
		}
		if e.Key == "" {
			return nil, errors.New("feature is missing the 'id' property")
		}
		if e.Site == "" {
			// Derive the site from the key's "site#sub" form when the
			// property is absent.
			if i := strings.IndexByte(e.Key, '#'); i > 0 {
				e.Site = e.Key[:i]
			}
		}
		entities = append(entities, e)
	}
	c, err := New(entities)
	if err != nil {
		return nil, errors.Wrap(err, "building collection")
	}
	return c, nil
}

// SaveGeoJSON writes the collection as a GeoJSON feature collection with
// stable feature and property ordering, so identical collections always
// serialize byte-identically.
func SaveGeoJSON(c *Collection, path string) error {
	var buf strings.Builder
	buf.WriteString("{\"type\":\"FeatureCollection\",\"features\":[")
	for i, e := range c.Entities() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeFeature(&buf, e); err != nil {
			return errors.Wrapf(err, "encoding entity %q", e.Key)
		}
	}
	buf.WriteString("]}\n")
	return errors.Wrap(os.WriteFile(path, []byte(buf.String()), 0o644), "writing collection file")
}

func writeFeature(buf *strings.Builder, e *Entity) error {
	buf.WriteString("{\"type\":\"Feature\",\"geometry\":")
	if len(e.Geometry) > 0 {
		buf.Write(e.Geometry)
	} else {
		buf.WriteString("null")
	}
	buf.WriteString(",\"properties\":{")

	writeProp := func(first bool, name string, raw []byte) {
		if !first {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(raw)
	}

	id, _ := json.Marshal(e.Key)
	writeProp(true, "id", id)
	site, _ := json.Marshal(e.Site)
	writeProp(false, "site_id", site)

	for _, name := range e.AttrNames() {
		raw, err := encodeAttr(e.Attrs[name])
		if err != nil {
			return err
		}
		writeProp(false, name, raw)
	}
	buf.WriteString("}}")
	return nil
}

func decodeAttr(raw json.RawMessage) (cty.Value, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return cty.NilVal, err
	}
	switch t := v.(type) {
	case nil:
		return cty.NilVal, nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	default:
		return cty.NilVal, errors.Newf("unsupported attribute value of type %T", v)
	}
}

func encodeAttr(v cty.Value) ([]byte, error) {
	switch {
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return json.Marshal(f)
	case v.Type() == cty.String:
		return json.Marshal(v.AsString())
	case v.Type() == cty.Bool:
		return json.Marshal(v.True())
	default:
		return nil, errors.Newf("unsupported attribute type %s", v.Type().FriendlyName())
	}
}
