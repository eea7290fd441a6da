package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/points-engine/calendar"
)

// Decode parses a stored document and fills defaults for fields older
// writers left out. An empty payload decodes to an empty document.
func Decode(data []byte) (Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Empty(), nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return Normalize(doc), nil
}

// Encode serializes a document for storage.
func Encode(doc Document) ([]byte, error) {
	doc = Normalize(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Normalize is the best-effort default-filling pass:
//   - nil record list becomes empty
//   - missing ids are derived from position and content
//   - a used voucher without usedAt takes its record date
//   - an unused voucher never carries usedAt
//   - an unparseable lastSignInDate is dropped
//
// Unknown record types are kept as-is.
func Normalize(doc Document) Document {
	out := doc.Clone()
	if out.Records == nil {
		out.Records = []Record{}
	}
	for i := range out.Records {
		r := &out.Records[i]
		if r.ID == "" {
			r.ID = LegacyID(i, *r)
		}
		if r.Type == TypeReward {
			switch {
			case r.Used && r.UsedAt == nil:
				at := r.Date
				r.UsedAt = &at
			case !r.Used:
				r.UsedAt = nil
			}
		}
	}
	if out.LastSignInDate != "" {
		if _, err := calendar.ParseKey(string(out.LastSignInDate)); err != nil {
			out.LastSignInDate = ""
		}
	}
	return out
}
