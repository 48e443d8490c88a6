package domain

import "encoding/json"

// splitFields decodes a JSON object into its raw members so that known keys
// can be taken out and everything else carried through untouched.
func splitFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

// takeField decodes fields[key] into dst and removes it from fields.
// A missing key or a JSON null leaves dst untouched.
func takeField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	if string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// joinFields re-encodes extra members together with the known ones.
// Known values that are nil are omitted.
func joinFields(extra map[string]json.RawMessage, known map[string]any) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(extra)+len(known))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range known {
		if v == nil {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return json.Marshal(out)
}
