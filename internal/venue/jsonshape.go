package venue

import "encoding/json"

// flexStringList decodes a field that may arrive either as a JSON-encoded
// string containing a list ("[\"Yes\",\"No\"]") or as a native JSON array
// (["Yes","No"]). The gamma API uses both shapes depending on endpoint and
// market vintage; the SDK's typed structs only model one of them, which is
// why this package talks to the venue directly over resty instead of
// through the SDK's gamma client.
func flexStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList
	}

	var asEncodedString string
	if err := json.Unmarshal(raw, &asEncodedString); err == nil {
		var nested []string
		if err := json.Unmarshal([]byte(asEncodedString), &nested); err == nil {
			return nested
		}
	}
	return nil
}

// flexFloatList mirrors flexStringList for numeric arrays such as
// outcomePrices, which the venue also emits as either shape.
func flexFloatList(raw json.RawMessage) []float64 {
	if len(raw) == 0 {
		return nil
	}

	var asList []json.Number
	if err := json.Unmarshal(raw, &asList); err == nil {
		return numbersToFloats(asList)
	}

	var asEncodedString string
	if err := json.Unmarshal(raw, &asEncodedString); err == nil {
		var nested []json.Number
		if err := json.Unmarshal([]byte(asEncodedString), &nested); err == nil {
			return numbersToFloats(nested)
		}
	}
	return nil
}

func numbersToFloats(ns []json.Number) []float64 {
	out := make([]float64, 0, len(ns))
	for _, n := range ns {
		f, err := n.Float64()
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// flexBool tolerates a field that may be a JSON bool or a string "true"/"false".
func flexBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "true"
	}
	return false
}
