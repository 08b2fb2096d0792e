package lsp

import "encoding/json"

// wireSymbol is the JSON-serializable shadow of Symbol: the overload index
// is marshaled as OverloadIndex, and parent links are not marshaled (they
// are rebuilt on decode since they are back-references).
type wireSymbol struct {
	Name           string       `json:"name"`
	Kind           SymbolKind   `json:"kind"`
	Detail         string       `json:"detail,omitempty"`
	Range          Range        `json:"range"`
	SelectionRange Range        `json:"selectionRange"`
	Location       Location     `json:"location"`
	Children       []wireSymbol `json:"children,omitempty"`
	Body           *string      `json:"body,omitempty"`
	OverloadIndex  int          `json:"overloadIndex"`
}

// marshalSymbols serializes a symbol forest for cache persistence. This
// nests inside the hand-framed binary cache envelope (cache.go) the same
// way the teacher's index/persist.go frames its own string/int fields;
// encoding/json is used for the tree payload itself since nothing in the
// pack provides a generic struct serializer and hand-rolling one for an
// arbitrarily nested tree would just reinvent encoding/json poorly.
func marshalSymbols(roots []*Symbol) ([]byte, error) {
	return json.Marshal(toWireSymbols(roots))
}

// unmarshalSymbols deserializes a symbol forest and relinks parent pointers.
func unmarshalSymbols(data []byte) ([]*Symbol, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var wire []wireSymbol
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	return fromWireSymbols(wire, nil), nil
}

func toWireSymbols(roots []*Symbol) []wireSymbol {
	wire := make([]wireSymbol, len(roots))
	for i, s := range roots {
		wire[i] = wireSymbol{
			Name:           s.Name,
			Kind:           s.Kind,
			Detail:         s.Detail,
			Range:          s.Range,
			SelectionRange: s.SelectionRange,
			Location:       s.Location,
			Children:       toWireSymbols(s.Children),
			Body:           s.Body,
			OverloadIndex:  s.overloadIndex,
		}
	}
	return wire
}

func fromWireSymbols(wire []wireSymbol, parent *Symbol) []*Symbol {
	roots := make([]*Symbol, len(wire))
	for i, w := range wire {
		s := &Symbol{
			Name:           w.Name,
			Kind:           w.Kind,
			Detail:         w.Detail,
			Range:          w.Range,
			SelectionRange: w.SelectionRange,
			Location:       w.Location,
			Body:           w.Body,
			parent:         parent,
			overloadIndex:  w.OverloadIndex,
		}
		s.Children = fromWireSymbols(w.Children, s)
		roots[i] = s
	}
	return roots
}
