package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field names every record carries regardless of marketplace.
const (
	FieldURL         = "url"
	FieldKeyword     = "SEARCH_KEYWORD"
	FieldMarketplace = "marketplace"
	FieldProductID   = "product_id"
	FieldReviews     = "reviews"
)

type SearchQuery struct {
	Keyword      string `json:"keyword"`
	ProductCount int    `json:"number_of_products"`
	ReviewCount  int    `json:"number_of_reviews"`
}

func (q SearchQuery) Validate() error {
	if strings.TrimSpace(q.Keyword) == "" {
		return fmt.Errorf("keyword is required")
	}
	if q.ProductCount < 1 {
		return fmt.Errorf("number_of_products must be at least 1")
	}
	if q.ReviewCount < 0 {
		return fmt.Errorf("number_of_reviews cannot be negative")
	}
	return nil
}

// ProductReference points at one product found during discovery.
type ProductReference struct {
	Marketplace string `json:"marketplace"`
	ID          string `json:"id"`
	URL         string `json:"url"`
}

type ReviewEntry struct {
	Title        string `json:"review_title"`
	Text         string `json:"review_text"`
	Rating       string `json:"rating"`
	HelpfulCount int    `json:"helpful_count"`
}

// Record is an ordered mapping of field names to extracted values. Values are
// strings, string slices, string maps or review slices. Keys keep the order in
// which they were first set, which is also the JSON output order.
type Record struct {
	keys   []string
	values map[string]any
}

func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

func (r *Record) Set(key string, value any) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// String returns the value stored under key when it is a string, "" otherwise.
func (r *Record) String(key string) string {
	s, _ := r.values[key].(string)
	return s
}

func (r *Record) Strings(key string) []string {
	s, _ := r.values[key].([]string)
	return s
}

func (r *Record) Map(key string) map[string]string {
	m, _ := r.values[key].(map[string]string)
	return m
}

func (r *Record) Reviews() []ReviewEntry {
	reviews, _ := r.values[FieldReviews].([]ReviewEntry)
	return reviews
}

func (r *Record) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

func (r *Record) Len() int {
	return len(r.keys)
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return r.marshalWith(nil)
}

// marshalWith encodes the record followed by extra trailing pairs.
func (r *Record) marshalWith(extra [][2]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writePair := func(first bool, key string, value any) error {
		if !first {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode field %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	first := true
	for _, key := range r.keys {
		if err := writePair(first, key, r.values[key]); err != nil {
			return nil, err
		}
		first = false
	}
	for _, pair := range extra {
		if err := writePair(first, pair[0].(string), pair[1]); err != nil {
			return nil, err
		}
		first = false
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type OutcomeStatus string

const (
	StatusOK     OutcomeStatus = "ok"
	StatusFailed OutcomeStatus = "failed"
)

// Outcome is the result of processing one product reference. A failed outcome
// still carries whatever part of the record was extracted.
type Outcome struct {
	Record *Record
	Status OutcomeStatus
	Error  string
}

func Succeeded(record *Record) Outcome {
	return Outcome{Record: record, Status: StatusOK}
}

func Failed(record *Record, err error) Outcome {
	if record == nil {
		record = NewRecord()
	}
	o := Outcome{Record: record, Status: StatusFailed}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	record := o.Record
	if record == nil {
		record = NewRecord()
	}

	extra := [][2]any{{"status", o.Status}}
	if o.Error != "" {
		extra = append(extra, [2]any{"error", o.Error})
	}
	return record.marshalWith(extra)
}
