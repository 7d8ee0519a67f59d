package dmarc

import "fmt"

// ExtractionError indicates a corrupt archive or compressed stream. The
// attachment yields no reports; siblings are unaffected.
type ExtractionError struct {
	Filename string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract %s: %v", e.Filename, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// MalformedReportError indicates an XML document that does not parse or
// misses one of the required report fields.
type MalformedReportError struct {
	Reason string
	Err    error
}

func (e *MalformedReportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed report: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed report: %s", e.Reason)
}

func (e *MalformedReportError) Unwrap() error {
	return e.Err
}
