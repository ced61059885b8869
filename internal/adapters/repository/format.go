package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/okian/facequiz/internal/domain/model"
)

// document is a decoded durable file.
type document struct {
	entries map[model.Fingerprint]model.Identity
	legacy  bool
	skipped int
}

// decodeDocument accepts the mapping format {"<fp>": "<identity>"} and the
// legacy list format [{"hash": "<fp>", "name": "<identity>"}]. Records with a
// missing or malformed field are skipped and counted.
func decodeDocument(data []byte) (document, error) {
	doc := document{entries: make(map[model.Fingerprint]model.Identity)}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if !gjson.ValidBytes(data) {
		return doc, fmt.Errorf("%w: not valid JSON", ErrCorruptDurableState)
	}

	root := gjson.ParseBytes(data)
	switch {
	case root.IsObject():
		root.ForEach(func(key, value gjson.Result) bool {
			doc.add(key.String(), value)
			return true
		})
	case root.IsArray():
		doc.legacy = true
		root.ForEach(func(_, rec gjson.Result) bool {
			if !rec.IsObject() {
				doc.skipped++
				return true
			}
			doc.add(rec.Get("hash").String(), rec.Get("name"))
			return true
		})
	case root.Type == gjson.Null:
	default:
		return doc, fmt.Errorf("%w: unexpected top-level %s", ErrCorruptDurableState, root.Type)
	}
	return doc, nil
}

func (d *document) add(rawFP string, name gjson.Result) {
	fp, ok := model.ParseFingerprint(rawFP)
	if !ok || name.Type != gjson.String || !model.Identity(name.Str).Storable() {
		d.skipped++
		return
	}
	d.entries[fp] = model.Identity(name.Str)
}

// sortedAssociations orders by identity, then fingerprint.
func sortedAssociations(entries map[model.Fingerprint]model.Identity) []model.Association {
	out := make([]model.Association, 0, len(entries))
	for fp, id := range entries {
		out = append(out, model.Association{Fingerprint: fp, Identity: id})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// encodeDocument renders entries in mapping format with keys in identity order.
// encoding/json would sort object keys by fingerprint, so the object is written by hand.
func encodeDocument(entries map[model.Fingerprint]model.Identity) ([]byte, error) {
	assocs := sortedAssociations(entries)
	if len(assocs) == 0 {
		return []byte("{}\n"), nil
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, a := range assocs {
		buf.WriteString("  ")
		if err := writeJSONString(&buf, string(a.Fingerprint)); err != nil {
			return nil, err
		}
		buf.WriteString(": ")
		if err := writeJSONString(&buf, string(a.Identity)); err != nil {
			return nil, err
		}
		if i < len(assocs)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode %q: %w", s, err)
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
