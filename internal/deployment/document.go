// Package deployment reconciles the tenant's customizer scripts into the single document served
// by the remote execution host.
//
// The document is rebuilt from the customizer store on every change and patched with one slot
// at a time. Patches are small trees whose leaves are either a script or a tombstone; merging
// a tombstone removes the slot, and a token key left with no slots is removed with it, so the
// document never carries an empty entry.
package deployment

import (
	"maps"
	"slices"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
)

// Slots maps a use case to the script source deployed for it.
type Slots map[customizer.UseCase]string

// Document is the deployment artifact: token key to use case to script source.
type Document map[customizer.TokenKey]Slots

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for key, slots := range d {
		out[key] = maps.Clone(slots)
	}
	return out
}

// IsEmpty reports whether no slot is populated.
func (d Document) IsEmpty() bool {
	for _, slots := range d {
		if len(slots) > 0 {
			return false
		}
	}
	return true
}

// Script returns the source stored in one slot.
func (d Document) Script(key customizer.TokenKey, useCase customizer.UseCase) (string, bool) {
	s, ok := d[key][useCase]
	return s, ok
}

// Keys returns the token keys present, sorted.
func (d Document) Keys() []customizer.TokenKey {
	return slices.Sorted(maps.Keys(d))
}

// BuildDocument derives the document from stored customizers. Only JavaScript scripts can run
// on the remote host, so slots in any other runtime are left out.
func BuildDocument(c customizer.Customizers) Document {
	doc := make(Document, len(c))
	for key, entry := range c {
		if entry.IsEmpty() {
			continue
		}
		slots := make(Slots, 2)
		for useCase, s := range entry.Scripts {
			if s.Source == "" || s.Runtime.OrDefault() != customizer.RuntimeJavaScript {
				continue
			}
			slots[useCase] = s.Source
		}
		if len(slots) > 0 {
			doc[key] = slots
		}
	}
	return doc
}

// leaf is one slot of a patch. A nil leaf is a tombstone.
type leaf = *string

type patch map[customizer.TokenKey]map[customizer.UseCase]leaf

func set(script string) leaf {
	return &script
}

// merge applies p to a copy of d. Slots not named by the patch are carried over untouched.
func merge(d Document, p patch) Document {
	out := d.Clone()
	for key, branch := range p {
		slots := out[key]
		if slots == nil {
			slots = make(Slots, len(branch))
		}
		for useCase, l := range branch {
			if l == nil {
				delete(slots, useCase)
				continue
			}
			slots[useCase] = *l
		}
		if len(slots) == 0 {
			delete(out, key)
			continue
		}
		out[key] = slots
	}
	return out
}
