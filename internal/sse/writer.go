package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Encode writes ev as a single record. Data must not contain newlines.
func Encode(w io.Writer, ev Event) error {
	if strings.ContainsAny(ev.Data, "\r\n") {
		return fmt.Errorf("event %q: data must be a single line", ev.Name)
	}
	var b strings.Builder
	if ev.Name != "" && ev.Name != DefaultEventName {
		b.WriteString(eventPrefix + " " + ev.Name + "\n")
	}
	b.WriteString(dataPrefix + " " + ev.Data + delimiter)
	_, err := io.WriteString(w, b.String())
	return err
}

// EncodeJSON marshals v as the payload of a named record.
func EncodeJSON(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Encode(w, Event{Name: name, Data: string(data)})
}
