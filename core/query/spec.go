// Package query builds the gorm scopes used to filter tracks and collections.
package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Spec is a structured plugin-data filter for one key.
type Spec interface {
	isSpec()
}

// Range matches values that, read as numbers, lie in [Low, High].
type Range struct {
	Low, High float64
}

// Multi matches values equal to any of Values.
type Multi struct {
	Values []string
}

// Fuzzy matches values containing Value, ignoring case.
type Fuzzy struct {
	Value string
}

func (Range) isSpec() {}
func (Multi) isSpec() {}
func (Fuzzy) isSpec() {}

// ParseSpec converts a loosely typed value into a Spec: a two element numeric
// list is a Range, any other list a Multi, a scalar a Fuzzy. A nil value
// yields a nil Spec, which filters nothing.
func ParseSpec(v interface{}) (Spec, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case Spec:
		return s, nil
	case string:
		return Fuzzy{Value: s}, nil
	case []string:
		return Multi{Values: append([]string(nil), s...)}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		if len(items) == 2 {
			low, okLow := toFloat(items[0])
			high, okHigh := toFloat(items[1])
			if okLow && okHigh {
				return Range{Low: low, High: high}, nil
			}
		}
		values := make([]string, len(items))
		for i, item := range items {
			values[i] = fmt.Sprint(item)
		}
		return Multi{Values: values}, nil
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Fuzzy{Value: fmt.Sprint(v)}, nil
	}
	return nil, fmt.Errorf("unsupported filter value of type %T", v)
}

// ParseSpecs applies ParseSpec to every entry, dropping nil specs.
func ParseSpecs(in map[string]interface{}) (map[string]Spec, error) {
	out := make(map[string]Spec, len(in))
	for key, v := range in {
		spec, err := ParseSpec(v)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", key, err)
		}
		if spec != nil {
			out[key] = spec
		}
	}
	return out, nil
}

// ParseSpecString reads the compact text form used on command lines and in
// query strings: "low:high" is a Range, "a,b" a Multi, anything else a Fuzzy.
func ParseSpecString(v string) Spec {
	if low, high, ok := strings.Cut(v, ":"); ok {
		l, errL := strconv.ParseFloat(low, 64)
		h, errH := strconv.ParseFloat(high, 64)
		if errL == nil && errH == nil {
			return Range{Low: l, High: h}
		}
	}
	if strings.Contains(v, ",") {
		return Multi{Values: strings.Split(v, ",")}
	}
	return Fuzzy{Value: v}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}
