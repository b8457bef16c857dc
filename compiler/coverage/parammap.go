package coverage

import (
	"errors"
	"fmt"
	"math"

	"github.com/prodcov/prodcov/internal/varmap"
	"github.com/prodcov/prodcov/internal/vlq"
)

// Names of the reserved namespace-listing rows in the materialized mapping.
// Each row holds one namespace's values in index order, which the decoder
// uses as its lookup table.
const (
	FileNamesRow     = "FileNames"
	FunctionNamesRow = "FunctionNames"
	TypesRow         = "Types"
)

// ErrIdentifierOverflow is returned when the unique identifier counter would
// exceed the signed 32-bit range representable by the Base64 VLQ encoding.
// This is a hard capacity limit; the compilation must be aborted.
var ErrIdentifierOverflow = errors.New("unique identifier exceeds the signed 32-bit range of the Base64 VLQ encoding")

// namespace assigns dense, zero-based integer indices to distinct strings in
// first-seen order. Indices are never reassigned or removed.
type namespace struct {
	index map[string]int
	names []string
}

func newNamespace() *namespace {
	return &namespace{index: make(map[string]int)}
}

// indexOf returns the index of name, assigning the next unused one if name
// hasn't been seen before.
func (ns *namespace) indexOf(name string) int {
	if i, ok := ns.index[name]; ok {
		return i
	}
	i := len(ns.names)
	ns.index[name] = i
	ns.names = append(ns.names, name)
	return i
}

// ParameterMapping assigns compact unique identifiers to distinct
// (fileName, functionName, kind) coordinates and records the bidirectional
// mapping needed to decode them later.
//
// Coordinates are reduced to a composite key: the three namespace indices,
// each Base64 VLQ encoded, concatenated. Equal composite keys denote the same
// coordinate and always map to the same identifier, so EncodeParam is a pure
// deduplicating function over the sequence of distinct coordinates seen.
//
// One instance serves exactly one compilation: construction, any number of
// EncodeParam calls from a single goroutine, one Materialize call, discard.
type ParameterMapping struct {
	// paramValueEncodings maps the composite key to the VLQ-encoded unique
	// identifier, e.g. "ACA" (indices [0,1,0]) -> "C" (identifier 1). The map
	// is inverted during Materialize so the persisted form reads "C:ACA".
	paramValueEncodings map[string]string

	fileNames     *namespace
	functionNames *namespace
	types         *namespace

	nextUniqueIdentifier int64
	materialized         bool
}

// NewParameterMapping creates an empty registry for one compilation.
func NewParameterMapping() *ParameterMapping {
	return &ParameterMapping{
		paramValueEncodings: make(map[string]string),
		fileNames:           newNamespace(),
		functionNames:       newNamespace(),
		types:               newNamespace(),
	}
}

// EncodeParam returns the encoded unique identifier for the coordinate,
// allocating the next identifier if the coordinate hasn't been seen before.
// Identifiers are numbered from 1 in first-distinct-encounter order.
//
// The only possible failure is ErrIdentifierOverflow, which is fatal for the
// compilation.
func (m *ParameterMapping) EncodeParam(fileName, functionName, kind string) (string, error) {
	if m.materialized {
		panic(fmt.Errorf("EncodeParam(%q, %q, %q) called after Materialize()", fileName, functionName, kind))
	}

	key := string(vlq.AppendAll(nil,
		m.fileNames.indexOf(fileName),
		m.functionNames.indexOf(functionName),
		m.types.indexOf(kind)))

	if encoded, ok := m.paramValueEncodings[key]; ok {
		return encoded, nil
	}

	m.nextUniqueIdentifier++
	if m.nextUniqueIdentifier > math.MaxInt32 {
		return "", ErrIdentifierOverflow
	}
	encoded := string(vlq.Append(nil, int(m.nextUniqueIdentifier)))
	m.paramValueEncodings[key] = encoded
	return encoded, nil
}

// Materialize finalizes the registry into the persistable mapping artifact:
// the three reserved namespace rows plus the inverted
// identifier→composite-key table. Decoding at runtime goes from the short
// identifier back to its coordinate, the opposite direction to encoding,
// hence the inversion.
//
// Materialize must be called exactly once, after all EncodeParam calls for
// the compilation; calling it twice is a programmer error.
func (m *ParameterMapping) Materialize() *varmap.Map {
	if m.materialized {
		panic(fmt.Errorf("Materialize() called twice on the same ParameterMapping"))
	}
	m.materialized = true

	inverted := make(map[string]string, len(m.paramValueEncodings))
	for key, id := range m.paramValueEncodings {
		inverted[id] = key
	}
	return varmap.New([]varmap.Row{
		{Name: FileNamesRow, Values: m.fileNames.names},
		{Name: FunctionNamesRow, Values: m.functionNames.names},
		{Name: TypesRow, Values: m.types.names},
	}, inverted)
}
