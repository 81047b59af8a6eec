package compare

import (
	"sort"
	"strconv"

	"github.com/zclconf/go-cty/cty"
)

func sortedNames(attrs map[string]cty.Value) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func renderValue(v cty.Value) string {
	switch {
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return renderFloat(f)
	case v.Type() == cty.String:
		return v.AsString()
	case v.Type() == cty.Bool:
		return strconv.FormatBool(v.True())
	default:
		return v.GoString()
	}
}
