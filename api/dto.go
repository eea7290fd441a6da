/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Most responses reuse
  the domain types directly (they already carry JSON tags); the types here
  cover request bodies and the few responses that need reshaping.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *Response: Response wrappers

HIDDEN FIELDS:
  A quiz wager stores its questions with their answers. Until the wager is
  finished, records leaving the API have those answers blanked.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/points-engine/catalog"
	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PointsInput accepts points typed by a user either as a JSON string ("12")
// or a JSON number (12). The value is validated by the ledger, not here.
type PointsInput string

func (p *PointsInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PointsInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("points must be a string or a number")
	}
	*p = PointsInput(n.String())
	return nil
}

// ManualRequest is the body of POST /api/manual.
type ManualRequest struct {
	Points PointsInput `json:"points"`
	Reason string      `json:"reason"`
}

// StartQuizRequest is the body of POST /api/quiz/start.
type StartQuizRequest struct {
	Bet int `json:"bet"`
}

// AnswerRequest is the body of PUT /api/quiz/answers.
type AnswerRequest struct {
	Index  int    `json:"index"`
	Choice string `json:"choice"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// HealthResponse reports liveness and whether a document has been loaded.
type HealthResponse struct {
	Status string `json:"status"`
	Loaded bool   `json:"loaded"`
}

// RecordsResponse wraps the ledger.
type RecordsResponse struct {
	Records []ledger.Record `json:"records"`
	Balance int             `json:"balance"`
}

// RevisionsResponse lists the store's write history.
type RevisionsResponse struct {
	Revisions []docstore.Revision `json:"revisions"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

// publicRecord blanks the answers of an unfinished wager.
func publicRecord(r ledger.Record) ledger.Record {
	if !r.IsQuizWagerRecord() || r.Finished || len(r.Questions) == 0 {
		return r
	}
	qs := make([]catalog.Question, len(r.Questions))
	for i, q := range r.Questions {
		q.Answer = ""
		qs[i] = q
	}
	r.Questions = qs
	return r
}

func publicRecords(records []ledger.Record) []ledger.Record {
	out := make([]ledger.Record, len(records))
	for i, r := range records {
		out[i] = publicRecord(r)
	}
	return out
}
