package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var tzSuffix = regexp.MustCompile(`([zZ]|[+-]\d\d:?\d\d)$`)

// ParseTimestamp accepts unix seconds (as a number or numeric string) or an
// ISO-8601 string. A space may replace the 'T' separator, and strings without
// a zone are taken as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("model: empty timestamp")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		whole := int64(secs)
		frac := secs - float64(whole)
		return time.Unix(whole, int64(frac*1e9)).UTC(), nil
	}
	if !strings.Contains(s, "T") {
		s = strings.Replace(s, " ", "T", 1)
	}
	if !tzSuffix.MatchString(s) {
		s += "Z"
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("model: unparseable timestamp %q", raw)
}

func marshalReactions(r Reactions) ([]byte, error) {
	out := make(map[string][]string, len(r))
	for _, e := range r.Emojis() {
		out[e] = r.Senders(e)
	}
	return json.Marshal(out)
}

func unmarshalReactions(r *Reactions, b []byte) error {
	var in map[string][]string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if in == nil {
		*r = nil
		return nil
	}
	out := make(Reactions, len(in))
	for emoji, senders := range in {
		for _, s := range senders {
			out.Add(emoji, s)
		}
	}
	*r = out
	return nil
}
