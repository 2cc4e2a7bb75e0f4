package ulog

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldDef is one declared field of a topic format: base type, array length
// (1 for scalars) and name.
type fieldDef struct {
	typeName string
	count    int
	name     string
}

type formatDef struct {
	name   string
	fields []fieldDef
}

var scalarSizes = map[string]int{
	"int8_t": 1, "uint8_t": 1, "bool": 1, "char": 1,
	"int16_t": 2, "uint16_t": 2,
	"int32_t": 4, "uint32_t": 4, "float": 4,
	"int64_t": 8, "uint64_t": 8, "double": 8,
}

// parseFormat interprets an 'F' record body of the form
// "message_name:type0 name0;type1 name1;".
func parseFormat(body []byte) (*formatDef, error) {
	text := string(body)
	sep := strings.IndexByte(text, ':')
	if sep <= 0 {
		return nil, fmt.Errorf("malformed format definition %q", text)
	}
	def := &formatDef{name: text[:sep]}
	for _, part := range strings.Split(text[sep+1:], ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		space := strings.IndexByte(part, ' ')
		if space <= 0 {
			return nil, fmt.Errorf("malformed field %q in %s", part, def.name)
		}
		f := fieldDef{typeName: part[:space], count: 1, name: part[space+1:]}
		if open := strings.IndexByte(f.typeName, '['); open >= 0 {
			end := strings.IndexByte(f.typeName, ']')
			if end <= open {
				return nil, fmt.Errorf("malformed array type %q in %s", f.typeName, def.name)
			}
			n, err := strconv.Atoi(f.typeName[open+1 : end])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad array length in %q", f.typeName)
			}
			f.count = n
			f.typeName = f.typeName[:open]
		}
		def.fields = append(def.fields, f)
	}
	return def, nil
}

// elementSize resolves the encoded size of one element of typeName, chasing
// nested message types through the format registry.
func elementSize(typeName string, formats map[string]*formatDef) (int, error) {
	if size, ok := scalarSizes[typeName]; ok {
		return size, nil
	}
	nested, ok := formats[typeName]
	if !ok {
		return 0, fmt.Errorf("unknown type %q", typeName)
	}
	total := 0
	for _, f := range nested.fields {
		size, err := elementSize(f.typeName, formats)
		if err != nil {
			return 0, err
		}
		total += size * f.count
	}
	return total, nil
}

// fieldOffsets flattens a format into element key -> (offset, type) entries.
// Array elements get keys like "q[1]"; scalars use the bare field name.
// Nested-type fields contribute to offsets but are not addressable.
func fieldOffsets(def *formatDef, formats map[string]*formatDef) (map[string]fieldSlot, error) {
	slots := make(map[string]fieldSlot)
	offset := 0
	for _, f := range def.fields {
		size, err := elementSize(f.typeName, formats)
		if err != nil {
			return nil, err
		}
		_, scalar := scalarSizes[f.typeName]
		for i := 0; i < f.count; i++ {
			if scalar && f.typeName != "char" {
				key := f.name
				if f.count > 1 {
					key = fmt.Sprintf("%s[%d]", f.name, i)
				}
				slots[key] = fieldSlot{offset: offset, typeName: f.typeName}
			}
			offset += size
		}
	}
	return slots, nil
}

// fieldSlot locates one scalar element inside an encoded data record.
type fieldSlot struct {
	offset   int
	typeName string
}
