// SPDX-License-Identifier: BSD-2-Clause

// Package config implements the jail Config model (component B): typed
// properties with special-property parsing, defaults fallback, and
// JSON/UCL/ZFS-property persistence.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the underlying representation of a Value, modelling the
// source's dict-as-mapping config as a proper tagged variant (§9 "Dict-as-
// mapping config with typed slots").
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
)

// Value is one property's parsed value. Only the field matching Kind is
// meaningful.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	List  []string
}

func NoneValue() Value       { return Value{Kind: KindNone} }
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}
func ListValue(items []string) Value { return Value{Kind: KindList, List: items} }

// String renders a Value back to its on-disk textual form, the inverse of
// ParseValue.
func (v Value) String() string {
	switch v.Kind {
	case KindNone:
		return "none"
	case KindBool:
		if v.Bool {
			return "yes"
		}
		return "no"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindList:
		escaped := make([]string, len(v.List))
		for i, item := range v.List {
			escaped[i] = strings.ReplaceAll(item, ",", `\,`)
		}
		return strings.Join(escaped, ",")
	default:
		return v.Str
	}
}

var (
	trueWords  = map[string]bool{"yes": true, "true": true, "on": true, "1": true}
	falseWords = map[string]bool{"no": true, "false": true, "off": true, "0": true}
	noneWords  = map[string]bool{"none": true, "-": true, "": true}
)

// ParseValue normalises a raw string value the way §4.2.1 specifies:
// recognised booleans/none keywords first, then strict int/float, then
// comma-delimited lists (with "\," escaping a literal comma), falling back
// to a plain string.
func ParseValue(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)

	if noneWords[lower] {
		return NoneValue()
	}
	if trueWords[lower] {
		return BoolValue(true)
	}
	if falseWords[lower] {
		return BoolValue(false)
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Value{Kind: KindInt, Int: i}
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Value{Kind: KindFloat, Float: f}
	}
	if strings.Contains(trimmed, ",") {
		return Value{Kind: KindList, List: splitEscaped(trimmed)}
	}
	return StringValue(trimmed)
}

// splitEscaped splits on unescaped commas, unescaping "\," to "," in each
// resulting item.
func splitEscaped(s string) []string {
	var items []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			items = append(items, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	items = append(items, cur.String())
	return items
}

// AsBool reports v's boolean interpretation, defaulting to false for
// non-bool kinds (callers that need strictness should check Kind first).
func (v Value) AsBool() bool {
	return v.Kind == KindBool && v.Bool
}

func (v Value) AsString() string {
	if v.Kind == KindNone {
		return ""
	}
	return v.String()
}

func (v Value) IsNone() bool { return v.Kind == KindNone }

func (v Value) AsInt() (int64, error) {
	switch v.Kind {
	case KindInt:
		return v.Int, nil
	case KindString:
		return strconv.ParseInt(v.Str, 10, 64)
	default:
		return 0, fmt.Errorf("value is not an integer: %v", v)
	}
}
