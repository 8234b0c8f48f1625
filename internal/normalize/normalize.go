// Package normalize classifies the matching webhook's JSON payload.
//
// The webhook has changed shape several times: bare arrays, {body: [...]}
// wrappers, and not_boat flags carried as strings or as booleans with a
// separate user message. Classify folds every known shape into one ordered
// dispatch so callers only ever see a Response.
package normalize

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the variant of a Response.
type Kind string

const (
	KindSuccess Kind = "success"  // zero or more candidate matches
	KindNotBoat Kind = "not_boat" // upstream declined to treat the image as a boat
	KindFailure Kind = "failure"  // transport or decode error
)

// DefaultNotBoatMessage is shown when upstream sets not_boat=true without a user message.
const DefaultNotBoatMessage = "Oops! 🚫 The uploaded image doesn't seem to show a watercraft. Please upload a yacht, boat, or other water vessel to continue."

// NoResultsMessage is the description of the placeholder row shown for an empty result set.
const NoResultsMessage = "No results found."

// Match is one candidate classified ad.
// JSON names follow the upstream payload, which is also the history storage format.
type Match struct {
	URL              string `json:"url"`
	ShortDescription string `json:"user_short_description"`
	Thumbnail        string `json:"thumbnail,omitempty"`
	Title            string `json:"title,omitempty"`
	Description      string `json:"description,omitempty"`
	ImagesHTML       string `json:"user_images_html,omitempty"`
}

// Response is the normalized upstream result. Exactly one variant is populated:
// Matches for KindSuccess, Message for KindNotBoat, Reason for KindFailure.
type Response struct {
	Kind    Kind    `json:"kind"`
	Message string  `json:"message,omitempty"`
	Matches []Match `json:"matches,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Success builds a success response. A nil slice becomes an empty one.
func Success(matches []Match) Response {
	if matches == nil {
		matches = []Match{}
	}
	return Response{Kind: KindSuccess, Matches: matches}
}

// MarshalJSON emits "matches" on every success, as [] when there are none.
// Other kinds omit it.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	if r.Kind != KindSuccess {
		return json.Marshal(plain(r))
	}
	matches := r.Matches
	if matches == nil {
		matches = []Match{}
	}
	return json.Marshal(struct {
		Kind    Kind    `json:"kind"`
		Message string  `json:"message,omitempty"`
		Matches []Match `json:"matches"`
		Reason  string  `json:"reason,omitempty"`
	}{r.Kind, r.Message, matches, r.Reason})
}

// NotBoat builds a diagnostic response.
func NotBoat(message string) Response {
	return Response{Kind: KindNotBoat, Message: message}
}

// Failure builds a transport/decode failure response.
func Failure(reason string) Response {
	return Response{Kind: KindFailure, Reason: reason}
}

// Chargeable reports whether the outcome consumes a credit.
// A not_boat diagnostic is chargeable because upstream did the work.
func (r Response) Chargeable() bool {
	return r.Kind == KindSuccess || r.Kind == KindNotBoat
}

// Display returns the rows to render. An empty success is rendered as a single
// "No results found." placeholder; not_boat and failure render no rows.
func (r Response) Display() []Match {
	if r.Kind != KindSuccess {
		return nil
	}
	if len(r.Matches) == 0 {
		return []Match{{URL: "", ShortDescription: NoResultsMessage}}
	}
	return r.Matches
}

// HistoryPayload returns the value persisted in search history:
// {"not_boat": msg} for diagnostics, the match list otherwise.
func (r Response) HistoryPayload() any {
	if r.Kind == KindNotBoat {
		return map[string]string{"not_boat": r.Message}
	}
	if r.Matches == nil {
		return []Match{}
	}
	return r.Matches
}

// Decode parses raw upstream bytes and classifies them.
// Undecodable bytes are a Failure, never an empty success.
func Decode(data []byte) Response {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Failure(fmt.Sprintf("decode upstream response: %v", err))
	}
	return Classify(payload)
}

// Classify maps an already-decoded JSON value to a Response. First match wins:
//
//  1. list whose first element carries not_boat
//  2. object carrying not_boat at the top level
//  3. object whose body list's first element carries not_boat
//  4. list of matches
//  5. object whose body field is a list of matches
//  6. anything else: empty success
//
// Diagnostics are checked before lists at every level so a not_boat element is
// never read as a garbled match. Classify never panics and never returns Failure.
func Classify(payload any) Response {
	list, isList := asList(payload)
	obj, isObj := asObject(payload)

	if isList && len(list) > 0 {
		if first, ok := asObject(list[0]); ok {
			if msg, ok := notBoatMessage(first); ok {
				return NotBoat(msg)
			}
		}
	}

	var body []any
	hasBody := false
	if isObj {
		if msg, ok := notBoatMessage(obj); ok {
			return NotBoat(msg)
		}
		body, hasBody = asList(obj["body"])
		if hasBody && len(body) > 0 {
			if first, ok := asObject(body[0]); ok {
				if msg, ok := notBoatMessage(first, obj); ok {
					return NotBoat(msg)
				}
			}
		}
	}

	if isList {
		return Success(toMatches(list))
	}
	if hasBody {
		return Success(toMatches(body))
	}
	return Success(nil)
}

// notBoatMessage reports whether carrier has not_boat set (true or a non-empty
// string) and resolves the message. A string flag is used verbatim; a true flag
// takes not_boat_user_message from carrier, then from each fallback in order,
// then DefaultNotBoatMessage.
func notBoatMessage(carrier map[string]any, fallbacks ...map[string]any) (string, bool) {
	switch v := carrier["not_boat"].(type) {
	case string:
		if v != "" {
			return v, true
		}
	case bool:
		if v {
			for _, m := range append([]map[string]any{carrier}, fallbacks...) {
				if msg, ok := m["not_boat_user_message"].(string); ok && msg != "" {
					return msg, true
				}
			}
			return DefaultNotBoatMessage, true
		}
	}
	return "", false
}

// toMatches copies string fields of each element. Non-object elements become a
// zero Match so the result has one entry per upstream element.
func toMatches(items []any) []Match {
	matches := make([]Match, 0, len(items))
	for _, item := range items {
		obj, _ := asObject(item)
		matches = append(matches, Match{
			URL:              str(obj, "url"),
			ShortDescription: str(obj, "user_short_description"),
			Thumbnail:        str(obj, "thumbnail"),
			Title:            str(obj, "title"),
			Description:      str(obj, "description"),
			ImagesHTML:       str(obj, "user_images_html"),
		})
	}
	return matches
}

// str returns obj[key] if it is a string, else "".
func str(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// asList accepts the slice shapes a decoded or hand-built payload may take.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

// asObject accepts a JSON object. A nil map is not an object.
func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return nil, false
	}
	return m, true
}
