// Package model defines the core data types for the import engine.
package model

import (
	"fmt"
	"strings"
	"time"
)

// SourceRecord is one raw row from a (file, sheet) pair. Immutable once
// created; retained for the life of a single pipeline run.
type SourceRecord struct {
	SourceFile  string         `json:"source_file"`
	SourceSheet string         `json:"source_sheet"`
	DataType    string         `json:"data_type"`
	Fields      map[string]any `json:"fields"`
	IngestedAt  time.Time      `json:"ingested_at"`
}

// SourceRef identifies the (file, sheet) pair a value came from.
type SourceRef struct {
	File  string `json:"file"`
	Sheet string `json:"sheet"`
}

func (s SourceRef) String() string {
	return s.File + "/" + s.Sheet
}

// Ref returns the record's source reference.
func (r SourceRecord) Ref() SourceRef {
	return SourceRef{File: r.SourceFile, Sheet: r.SourceSheet}
}

// FieldString returns the record's field value rendered as a trimmed string.
// Missing and nil fields render as "".
func (r SourceRecord) FieldString(key string) string {
	v, ok := r.Fields[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}

// FirstField returns the first non-empty value among the given field keys.
func FirstField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s != "" {
			return s
		}
	}
	return ""
}
