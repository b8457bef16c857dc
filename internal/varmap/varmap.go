// Package varmap implements the instrumentation mapping artifact: a flat,
// serializable key→value table that translates the short identifiers observed
// at runtime back to the composite coordinate keys they were minted for.
//
// A map consists of two kinds of rows:
//
//   - reserved rows, one per coordinate namespace, listing the namespace's
//     values in index order (the decoder's lookup tables);
//   - ordinary entries, mapping one short identifier to one composite key.
//
// Reserved rows are an explicit, tagged part of the structure rather than
// specially crafted keys relying on lexical sort order. The text form is one
// `key:value` pair per line with reserved rows first (their keys carry a
// leading space, so a plain sort of the file keeps them on top) and ordinary
// entries sorted by key.
package varmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Row is a reserved namespace-listing row. Values are stored in namespace
// index order, which the decoder relies on.
type Row struct {
	Name   string
	Values []string
}

// Map is a finalized instrumentation mapping. It is immutable once built.
type Map struct {
	reserved []Row
	entries  map[string]string
}

// New builds a Map from the reserved namespace rows and the
// identifier→composite-key entries. The entries map is used as-is and must
// not be mutated by the caller afterwards.
func New(reserved []Row, entries map[string]string) *Map {
	return &Map{reserved: reserved, entries: entries}
}

// Reserved returns the reserved row with the given name, or false if the map
// carries no such row.
func (m *Map) Reserved(name string) (Row, bool) {
	for _, r := range m.reserved {
		if r.Name == name {
			return r, true
		}
	}
	return Row{}, false
}

// Lookup returns the composite key recorded for the given short identifier.
func (m *Map) Lookup(id string) (string, bool) {
	v, ok := m.entries[id]
	return v, ok
}

// Len returns the number of ordinary (non-reserved) entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// reservedPrefix keeps reserved rows ahead of all ordinary entries when the
// serialized file is sorted by key: identifiers are base64 characters, all of
// which sort after the space character.
const reservedPrefix = " "

// Write serializes the map in its text form.
func (m *Map) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, r := range m.reserved {
		if err := writePair(bw, reservedPrefix+r.Name, strings.Join(r.Values, ",")); err != nil {
			return err
		}
	}
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := writePair(bw, id, m.entries[id]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writePair(w io.Writer, key, value string) error {
	if strings.ContainsAny(key, ":\n") || strings.ContainsRune(value, '\n') {
		return fmt.Errorf("varmap: key %q or its value contains a character the text form can't carry", key)
	}
	_, err := fmt.Fprintf(w, "%s:%s\n", key, value)
	return err
}

// Read parses the text form produced by Write.
func Read(r io.Reader) (*Map, error) {
	m := &Map{entries: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		key, value, found := strings.Cut(text, ":")
		if !found {
			return nil, fmt.Errorf("varmap: line %d: %q is not a key:value pair", line, text)
		}
		if strings.HasPrefix(key, reservedPrefix) {
			row := Row{Name: key[len(reservedPrefix):]}
			if value != "" {
				row.Values = strings.Split(value, ",")
			}
			m.reserved = append(m.reserved, row)
			continue
		}
		if _, ok := m.entries[key]; ok {
			return nil, fmt.Errorf("varmap: line %d: duplicate identifier %q", line, key)
		}
		m.entries[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("varmap: failed to read mapping: %w", err)
	}
	return m, nil
}

// Save writes the map to the named file.
func (m *Map) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("varmap: failed to create %s: %w", filename, err)
	}
	if err := m.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("varmap: failed to write %s: %w", filename, err)
	}
	return f.Close()
}

// Load reads a map previously written by Save.
func Load(filename string) (*Map, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("varmap: failed to open %s: %w", filename, err)
	}
	defer f.Close()
	return Read(f)
}
