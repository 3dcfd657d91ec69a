// Package actionurl implements the icn:// action URL format (spec §6):
// icn://<action_path>?k=v&... with percent-encoded parameters, plus a
// compact icn://x?d=<base64(json(action))> form for QR codes. Both forms
// decode to the same Action value; Encode always favors the verbose form
// and EncodeCompact the QR form, but Decode accepts either.
package actionurl

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

// Kind is the tagged-union discriminant for an action. The six named
// kinds are called out by spec §6; anything else is a custom action path
// and is carried through verbatim.
type Kind string

const (
	Share    Kind = "share"
	Transfer Kind = "transfer"
	Vote     Kind = "vote"
	Join     Kind = "join"
	Verify   Kind = "verify"
	Submit   Kind = "submit"
)

// compactHost is the reserved action_path that signals the base64(json)
// compact payload form instead of a plain query string.
const compactHost = "x"

// compactParam is the query parameter carrying the base64-encoded JSON
// payload in the compact form.
const compactParam = "d"

// Action is the decoded form of an icn:// URL.
type Action struct {
	Kind   Kind              `json:"kind"`
	Params map[string]string `json:"params"`
}

// Encode renders a as icn://<kind>?k=v&... with parameters sorted for
// determinism (§9: URL encoding is not itself security- or consensus-
// relevant, but deterministic output makes tests and logs reproducible).
func Encode(a Action) (string, error) {
	if a.Kind == "" {
		return "", fmt.Errorf("actionurl: empty kind")
	}
	q := url.Values{}
	for k, v := range a.Params {
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "icn",
		Host:     string(a.Kind),
		RawQuery: sortedEncode(q),
	}
	return u.String(), nil
}

// EncodeCompact renders a as icn://x?d=<base64(json(a))>, intended for
// QR-code payloads where query-string bloat from many parameters matters.
func EncodeCompact(a Action) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("actionurl: marshal action: %w", err)
	}
	q := url.Values{}
	q.Set(compactParam, base64.RawURLEncoding.EncodeToString(raw))
	u := url.URL{
		Scheme:   "icn",
		Host:     compactHost,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

// Decode parses either the verbose or compact icn:// form back into an
// Action. decode(encode(action)) == action and decode(encodeCompact(action))
// == action both hold for every Action value.
func Decode(raw string) (Action, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Action{}, fmt.Errorf("actionurl: parse: %w", err)
	}
	if u.Scheme != "icn" {
		return Action{}, fmt.Errorf("actionurl: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()

	if u.Host == compactHost {
		if enc := q.Get(compactParam); enc != "" {
			return decodeCompactPayload(enc)
		}
	}

	if u.Host == "" {
		return Action{}, fmt.Errorf("actionurl: missing action_path")
	}
	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}
	return Action{Kind: Kind(u.Host), Params: params}, nil
}

func decodeCompactPayload(enc string) (Action, error) {
	raw, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		// Tolerate standard-padded base64 producers.
		if raw, err = base64.URLEncoding.DecodeString(enc); err != nil {
			return Action{}, fmt.Errorf("actionurl: decode compact payload: %w", err)
		}
	}
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return Action{}, fmt.Errorf("actionurl: unmarshal compact payload: %w", err)
	}
	return a, nil
}

func sortedEncode(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := url.Values{}
	for _, k := range keys {
		out[k] = q[k]
	}
	return out.Encode()
}
