package wasm

// Encode writes the module preamble followed by the given sections.
func Encode(sections []Section) []byte {
	size := len(Magic)
	for _, s := range sections {
		size += len(s.Data) + len(s.Name) + 12
	}
	out := make([]byte, 0, size)
	out = append(out, Magic...)
	for _, s := range sections {
		out = appendSection(out, s)
	}
	return out
}

// Encode re-serializes the module's current section list.
func (m *Module) Encode() []byte {
	return Encode(m.Sections)
}

func appendSection(dst []byte, s Section) []byte {
	dst = append(dst, s.ID)
	if s.ID == SectionCustom {
		name := AppendUleb128(nil, uint64(len(s.Name)))
		name = append(name, s.Name...)
		dst = AppendUleb128(dst, uint64(len(name)+len(s.Data)))
		dst = append(dst, name...)
		return append(dst, s.Data...)
	}
	dst = AppendUleb128(dst, uint64(len(s.Data)))
	return append(dst, s.Data...)
}

func appendName(dst []byte, name string) []byte {
	dst = AppendUleb128(dst, uint64(len(name)))
	return append(dst, name...)
}

// setSection replaces the payload of the section with the given ID, or
// inserts a new one at its canonical position.
func setSection(sections []Section, id byte, data []byte) []Section {
	for i := range sections {
		if sections[i].ID == id {
			sections[i].Data = data
			return sections
		}
	}
	order := sectionOrder(id)
	at := len(sections)
	for i, s := range sections {
		if s.ID != SectionCustom && sectionOrder(s.ID) > order {
			at = i
			break
		}
	}
	sections = append(sections, Section{})
	copy(sections[at+1:], sections[at:])
	sections[at] = Section{ID: id, Data: data}
	return sections
}

// vecBody returns the entries of a vector payload without the count prefix.
func vecBody(data []byte) (uint32, []byte, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	r := newReader(data)
	n, err := r.u32()
	if err != nil {
		return 0, nil, err
	}
	return n, data[r.pos:], nil
}
