package importjob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar-day format shared with the remote API.
// Days are timezone-naive: a date parses to midnight UTC.
const DateLayout = "2006-01-02"

// Date is a timezone-naive calendar day.
type Date struct {
	time.Time
}

// ParseDate parses a calendar day in DateLayout.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON renders the day in DateLayout.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(DateLayout))
}

// UnmarshalJSON parses the day from DateLayout.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Request identifies what to import: the remote credential and the
// inclusive date range.
type Request struct {
	APIToken  string `json:"apiToken"`
	StartDate Date   `json:"startDate"`
	EndDate   Date   `json:"endDate"`
}

// Fingerprint is the identity key for a logical import job. Two
// submissions with the same requester and request parameters are the
// same job. Its serialized form is the queue row payload and the value
// compared for status lookups and failed-row deletion.
type Fingerprint struct {
	Requester string  `json:"requester"`
	Request   Request `json:"reqPayload"`
}

// Encode serializes the fingerprint deterministically. Field order
// follows struct declaration, so equal fingerprints encode to equal
// bytes.
func (f Fingerprint) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	return data, nil
}

// Decode parses a queue payload back into a fingerprint.
func Decode(payload []byte) (Fingerprint, error) {
	var f Fingerprint
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if f.Requester == "" || f.Request.APIToken == "" {
		return Fingerprint{}, fmt.Errorf("%w: missing requester or token", ErrMalformedPayload)
	}
	return f, nil
}

// DayRange iterates the inclusive sequence of calendar days between
// start and end, oldest to newest. The sequence is finite and not
// restartable.
type DayRange struct {
	next time.Time
	end  time.Time
}

// Days returns a DayRange over [start, end]. An end before start yields
// an empty range.
func Days(start, end Date) *DayRange {
	return &DayRange{next: start.Time, end: end.Time}
}

// Next returns the next day in the range, or false when exhausted.
func (r *DayRange) Next() (Date, bool) {
	if r.next.After(r.end) {
		return Date{}, false
	}
	d := r.next
	r.next = r.next.AddDate(0, 0, 1)
	return Date{Time: d}, true
}
