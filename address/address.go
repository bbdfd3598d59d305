// Package address implements the substrate's reference resolver: a small
// fixed grammar for addressing a value reachable from a registered entity
// (`@<uuid>.field[idx]...`), resolution of that grammar against a Resolver,
// borrowing with per-element provenance, and classification of call-site
// kwargs into entity/address/literal/config_primitive patterns.
package address

import (
	"strings"

	"github.com/google/uuid"

	"github.com/entityflow/entityflow/entity"
)

// segmentKind distinguishes a dotted field access from a bracketed index
// access within a parsed address.
type segmentKind int

const (
	segField segmentKind = iota
	segIndex
)

// segment is one step of an address's path, following the root entity
// reference: either ".name" (a struct field) or "[key]" (a slice/array index
// or map key).
type segment struct {
	kind segmentKind
	text string
}

// parsedAddress is the root entity reference plus the ordered path of
// segments descending from it.
type parsedAddress struct {
	raw      string
	ecsID    entity.ID
	segments []segment
}

// parse tokenizes raw against the address grammar:
//
//	address := "@" entity-ref ( "." field )* ( "[" index "]" )*
//	entity-ref := uuid | uuid "." field
//	field := identifier
//	index := integer | quoted-string
//
// The leading "@" is mandatory; everything up to the first "." or "[" is the
// entity reference. "@uuid.field" is simply the uuid followed by one field
// segment, so no special case is needed for the entity-ref shorthand.
func parse(raw string) (*parsedAddress, error) {
	if !strings.HasPrefix(raw, "@") {
		return nil, &MalformedAddressError{Raw: raw, Reason: "address must start with '@'"}
	}
	rest := raw[1:]
	if rest == "" {
		return nil, &MalformedAddressError{Raw: raw, Reason: "empty address"}
	}

	idEnd := len(rest)
	for i, r := range rest {
		if r == '.' || r == '[' {
			idEnd = i
			break
		}
	}
	idText := rest[:idEnd]
	if idText == "" {
		return nil, &MalformedAddressError{Raw: raw, Reason: "missing entity reference"}
	}
	id, err := uuid.Parse(idText)
	if err != nil {
		return nil, &MalformedAddressError{Raw: raw, Reason: "invalid entity reference: " + err.Error()}
	}

	pa := &parsedAddress{raw: raw, ecsID: id}

	remainder := rest[idEnd:]
	for len(remainder) > 0 {
		switch remainder[0] {
		case '.':
			remainder = remainder[1:]
			end := len(remainder)
			for i, r := range remainder {
				if r == '.' || r == '[' {
					end = i
					break
				}
			}
			name := remainder[:end]
			if name == "" {
				return nil, &MalformedAddressError{Raw: raw, Reason: "empty field segment"}
			}
			pa.segments = append(pa.segments, segment{kind: segField, text: name})
			remainder = remainder[end:]

		case '[':
			close := strings.IndexByte(remainder, ']')
			if close < 0 {
				return nil, &MalformedAddressError{Raw: raw, Reason: "unterminated '['"}
			}
			key := strings.Trim(remainder[1:close], `"'`)
			if key == "" {
				return nil, &MalformedAddressError{Raw: raw, Reason: "empty index"}
			}
			pa.segments = append(pa.segments, segment{kind: segIndex, text: key})
			remainder = remainder[close+1:]

		default:
			return nil, &MalformedAddressError{Raw: raw, Reason: "unexpected character after root reference"}
		}
	}

	return pa, nil
}

// LooksLikeAddress reports whether raw has the surface shape of an address
// (starts with "@"), without validating the rest of its grammar. Used by the
// input classifier to distinguish an address-shaped string from a plain
// string literal before attempting a full parse.
func LooksLikeAddress(raw string) bool {
	return strings.HasPrefix(raw, "@")
}
