package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Decibel is a scalar level in the 0-100 range. It unmarshals from a JSON
// number or a decimal string ("12.345"), which older recorders send.
type Decibel float64

// UnmarshalJSON accepts both 12.3 and "12.3".
func (d *Decibel) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*d = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("decibel %q: %w", s, err)
		}
		*d = Decibel(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*d = Decibel(v)
	return nil
}

// Reading is one timestamped sample from the producer.
type Reading struct {
	Time  time.Time `json:"time"`
	Value Decibel   `json:"value"`
}

// SummaryRecord holds the aggregate statistics of one recorded interval.
// ID is assigned by the producer; SequenceNumber is assigned by the server
// when the record is first inserted into a session's log.
type SummaryRecord struct {
	ID              int64     `json:"id"`
	SequenceNumber  int       `json:"sequenceNumber"`
	CreatedAt       time.Time `json:"createdAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Max             Decibel   `json:"max"`
	Avg             Decibel   `json:"avg"`
	Min             Decibel   `json:"min"`
}

// TimerState is the producer's countdown.
type TimerState struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

// DedupSummaries returns log with one entry per ID, first occurrence wins,
// order preserved. Entries without an ID are kept as they are.
func DedupSummaries(log []SummaryRecord) []SummaryRecord {
	out := make([]SummaryRecord, 0, len(log))
	seen := make(map[int64]struct{}, len(log))
	for _, rec := range log {
		if rec.ID != 0 {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
		}
		out = append(out, rec)
	}
	return out
}
