// Package capability maps business attributes to capability sets and infers
// business models from them.
package capability

import (
	"sort"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Attributes is a business attribute profile as read from the profile store.
// Values are loosely typed; see Enabled.
type Attributes map[string]any

// Enabled reports whether the named attribute is set to true. Absent or
// malformed values count as false.
func (a Attributes) Enabled(name string) bool {
	switch v := a[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

// Resolve returns the capability set enabled by attrs. The core capabilities
// are always present. The result does not depend on map iteration order.
func Resolve(attrs Attributes) sets.Set[string] {
	out := sets.New[string](CoreCapabilities...)
	for name, caps := range AttributeCapabilities {
		if attrs.Enabled(name) {
			out.Insert(caps...)
		}
	}
	return out
}

// AttributesFor returns the attributes that would enable capability, sorted.
func AttributesFor(capability string) []string {
	var attrs []string
	for name, caps := range AttributeCapabilities {
		for _, c := range caps {
			if c == capability {
				attrs = append(attrs, name)
				break
			}
		}
	}
	sort.Strings(attrs)
	return attrs
}

// Known reports whether capability belongs to the reference vocabulary.
func Known(capability string) bool {
	return vocabulary().Has(capability)
}

// Vocabulary returns the reference vocabulary, sorted.
func Vocabulary() []string {
	return sets.List(vocabulary())
}

func vocabulary() sets.Set[string] {
	v := sets.New[string](CoreCapabilities...)
	for _, caps := range AttributeCapabilities {
		v.Insert(caps...)
	}
	return v
}
