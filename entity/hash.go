package entity

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// hashBytes returns the hex-encoded blake2b-256 digest of b.
func hashBytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// hashJoin folds an ordered list of child hashes (already in whatever order
// the caller wants them combined in) into one hash.
func hashJoin(hashes []string) string {
	buf := make([]byte, 0, 64*len(hashes)+8)
	buf = append(buf, '[')
	for i, h := range hashes {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, h...)
	}
	buf = append(buf, ']')
	return hashBytes(buf)
}

// hashTypeFields folds a type name and its ordered (field name, field hash)
// pairs into the type's own structural hash.
func hashTypeFields(typeName string, fields []fieldHash) string {
	buf := []byte(typeName)
	buf = append(buf, '{')
	for i, f := range fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, f.name...)
		buf = append(buf, '=')
		buf = append(buf, f.hash...)
	}
	buf = append(buf, '}')
	return hashBytes(buf)
}

// canonicalHash hashes a non-entity value's canonical byte representation.
func canonicalHash(v reflect.Value) string {
	return hashBytes(canonicalRepr(v))
}

func canonicalRepr(v reflect.Value) []byte {
	if !v.IsValid() {
		return []byte("null")
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return []byte("null")
		}
		return canonicalRepr(v.Elem())
	case reflect.Interface:
		if v.IsNil() {
			return []byte("null")
		}
		return canonicalRepr(v.Elem())
	case reflect.Bool:
		if v.Bool() {
			return []byte("b:true")
		}
		return []byte("b:false")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte("n:" + strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return []byte("n:" + strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return []byte("f:" + strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case reflect.String:
		return []byte("s:" + strconv.Quote(v.String()))
	case reflect.Slice, reflect.Array:
		buf := []byte("[")
		n := v.Len()
		for i := 0; i < n; i++ {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, canonicalRepr(v.Index(i))...)
		}
		return append(buf, ']')
	case reflect.Map:
		keys := v.MapKeys()
		type kv struct {
			key string
			val []byte
		}
		entries := make([]kv, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, kv{stringify(k), canonicalRepr(v.MapIndex(k))})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
		buf := []byte("{")
		for i, e := range entries {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, strconv.Quote(e.key)...)
			buf = append(buf, ':')
			buf = append(buf, e.val...)
		}
		return append(buf, '}')
	case reflect.Struct:
		t := v.Type()
		buf := []byte(t.Name())
		buf = append(buf, '{')
		wrote := false
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			if wrote {
				buf = append(buf, ',')
			}
			buf = append(buf, sf.Name...)
			buf = append(buf, '=')
			buf = append(buf, canonicalRepr(v.Field(i))...)
			wrote = true
		}
		return append(buf, '}')
	default:
		return []byte(fmt.Sprintf("x:%v", v.Interface()))
	}
}

// stringify renders an arbitrary map key as a canonical string for sorting
// and hashing when it is not already a string.
func stringify(v reflect.Value) string {
	return string(canonicalRepr(v))
}
