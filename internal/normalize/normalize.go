// Package normalize turns provider poll responses of any known shape into a
// domain.GenerationResult.
package normalize

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"genorch/internal/domain"
)

var (
	stateKeys    = []string{"state", "status", "taskStatus", "task_status"}
	failCodeKeys = []string{"failCode", "fail_code", "errorCode", "error_code"}
	messageKeys  = []string{"failMsg", "fail_msg", "errorMessage", "error_message", "message", "msg"}

	// Keys that may hold outputs directly inside the payload, in lookup order.
	outputKeys = []string{"outputs", "output", "result", "results", "resultUrls", "result_urls", "urls", "images", "videos", "audios", "url"}

	// Preferred keys on an output object.
	urlKeys = []string{"url", "imageUrl", "videoUrl", "audioUrl", "image_url", "video_url", "audio_url"}
)

var stateSynonyms = map[string]domain.ResultState{
	"pending":     domain.ResultPending,
	"queued":      domain.ResultPending,
	"queuing":     domain.ResultPending,
	"waiting":     domain.ResultPending,
	"submitted":   domain.ResultPending,
	"created":     domain.ResultPending,
	"processing":  domain.ResultProcessing,
	"running":     domain.ResultProcessing,
	"generating":  domain.ResultProcessing,
	"in_progress": domain.ResultProcessing,
	"success":     domain.ResultSuccess,
	"succeed":     domain.ResultSuccess,
	"succeeded":   domain.ResultSuccess,
	"done":        domain.ResultSuccess,
	"finished":    domain.ResultSuccess,
	"completed":   domain.ResultSuccess,
	"fail":        domain.ResultFail,
	"failed":      domain.ResultFail,
	"failure":     domain.ResultFail,
	"error":       domain.ResultFail,
	"timeout":     domain.ResultTimeout,
	"timed_out":   domain.ResultTimeout,
	"expired":     domain.ResultTimeout,
}

// PollResponse normalizes one raw poll body. It never panics; anything it
// cannot make sense of yields ResultUnknown.
func PollResponse(raw []byte) (res domain.GenerationResult) {
	res = domain.GenerationResult{State: domain.ResultUnknown, Raw: cloneRaw(raw)}
	defer func() {
		if r := recover(); r != nil {
			res = domain.GenerationResult{
				State:   domain.ResultUnknown,
				Message: "malformed provider response",
				Raw:     cloneRaw(raw),
			}
		}
	}()

	doc, ok := decode(raw)
	if !ok {
		res.Message = "malformed provider response"
		return res
	}
	root, ok := doc.(map[string]any)
	if !ok {
		// A bare list or string is treated as outputs of an unknown state.
		res.Outputs = extractURLs(doc, 0)
		return res
	}
	body, fallback := root, map[string]any(nil)
	if data, ok := root["data"].(map[string]any); ok {
		body, fallback = data, root
	}

	if s := firstString(stateKeys, body, root); s != "" {
		res.State = mapState(s)
	}
	res.FailCode = failCode(body, root)
	if res.FailCode != "" {
		res.State = domain.ResultFail
	}

	switch res.State {
	case domain.ResultFail, domain.ResultTimeout:
		res.Message = firstString(messageKeys, body, root)
		if res.Message == "" {
			if e, ok := body["error"].(string); ok {
				res.Message = strings.TrimSpace(e)
			}
		}
	case domain.ResultSuccess:
		res.Outputs = outputs(body, fallback)
		if res.Outputs == nil {
			res.Outputs = []string{}
		}
	default:
		res.Outputs = outputs(body, fallback)
	}
	return res
}

func mapState(s string) domain.ResultState {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if st, ok := stateSynonyms[key]; ok {
		return st
	}
	return domain.ResultUnknown
}

func decode(raw []byte) (any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	return doc, true
}

func firstString(keys []string, maps ...map[string]any) string {
	for _, m := range maps {
		for _, k := range keys {
			if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// failCode returns the first non-empty fail or error code. Numeric zero and
// the literal "0" mean no error.
func failCode(maps ...map[string]any) string {
	for _, m := range maps {
		for _, k := range failCodeKeys {
			switch v := m[k].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" && s != "0" {
					return s
				}
			case json.Number:
				if s := v.String(); s != "0" {
					return s
				}
			}
		}
	}
	if e, ok := maps[0]["error"].(string); ok && strings.TrimSpace(e) != "" {
		return "error"
	}
	return ""
}

// outputs looks in body, then in a resultJson string, then in fallback (the
// unwrapped top level, when body came from a data wrapper).
func outputs(body, fallback map[string]any) []string {
	if urls := outputsFrom(body); len(urls) > 0 {
		return urls
	}
	if s, ok := body["resultJson"].(string); ok {
		if nested, ok := decode([]byte(s)); ok {
			if m, ok := nested.(map[string]any); ok {
				if urls := outputsFrom(m); len(urls) > 0 {
					return urls
				}
			}
			if urls := extractURLs(nested, 0); len(urls) > 0 {
				return urls
			}
		}
	}
	if fallback != nil {
		return outputsFrom(fallback)
	}
	return nil
}

func outputsFrom(m map[string]any) []string {
	for _, k := range outputKeys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if urls := extractURLs(v, 0); len(urls) > 0 {
			return urls
		}
	}
	if u := wellKnownURL(m); u != "" {
		return []string{u}
	}
	return nil
}

const maxDepth = 4

func extractURLs(v any, depth int) []string {
	if depth > maxDepth {
		return nil
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
			if nested, ok := decode([]byte(s)); ok {
				return extractURLs(nested, depth+1)
			}
		}
		return []string{s}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, extractURLs(item, depth+1)...)
		}
		return out
	case map[string]any:
		if urls := urlFields(t); len(urls) > 0 {
			return urls
		}
		for _, k := range outputKeys {
			if nested, ok := t[k]; ok {
				if urls := extractURLs(nested, depth+1); len(urls) > 0 {
					return urls
				}
			}
		}
	}
	return nil
}

func wellKnownURL(m map[string]any) string {
	for _, k := range urlKeys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// urlFields collects string values of url-like keys from one output object.
// Well known keys win; otherwise every *Url / *_url key is taken in name order.
func urlFields(m map[string]any) []string {
	if u := wellKnownURL(m); u != "" {
		return []string{u}
	}
	var keys []string
	for k := range m {
		lk := strings.ToLower(k)
		if strings.HasSuffix(lk, "url") && !strings.Contains(lk, "callback") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out []string
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func cloneRaw(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}
