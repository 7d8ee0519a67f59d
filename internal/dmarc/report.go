package dmarc

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

// schema defaults, resolved in Parse and nowhere else
const (
	defaultAlignment = "relaxed"
	defaultPercent   = 100
	defaultSPFScope  = "mfrom"
)

// Report is one normalized DMARC aggregate report, not yet persisted.
type Report struct {
	OrgName          string
	Email            string
	ExtraContactInfo string
	ReportID         string
	DateRangeBegin   time.Time
	DateRangeEnd     time.Time
	Domain           string
	ADKIM            string
	ASPF             string
	Policy           string
	SubdomainPolicy  string
	Percent          int
	RawXML           string
	Records          []ReportRecord
}

// ReportRecord is one row of a report: traffic from one source IP under one
// evaluated policy outcome.
type ReportRecord struct {
	SourceIP     string
	Count        int
	Disposition  string
	DKIMResult   string
	SPFResult    string
	HeaderFrom   string
	EnvelopeFrom string
	EnvelopeTo   string
	DKIMAuth     []DKIMAuthResult
	SPFAuth      []SPFAuthResult
}

type DKIMAuthResult struct {
	Domain      string
	Selector    string
	Result      string
	HumanResult string
}

type SPFAuthResult struct {
	Domain string
	Scope  string
	Result string
}

// xmlFeedback mirrors the feedback element of a DMARC aggregate report
// https://tools.ietf.org/html/rfc7489#appendix-C
type xmlFeedback struct {
	ReportMetadata struct {
		OrgName          string `xml:"org_name"`
		Email            string `xml:"email"`
		ExtraContactInfo string `xml:"extra_contact_info"`
		ReportID         string `xml:"report_id"`
		DateRange        struct {
			Begin *int64 `xml:"begin"`
			End   *int64 `xml:"end"`
		} `xml:"date_range"`
	} `xml:"report_metadata"`
	PolicyPublished struct {
		Domain string `xml:"domain"`
		Adkim  string `xml:"adkim"`
		Aspf   string `xml:"aspf"`
		P      string `xml:"p"`
		Sp     string `xml:"sp"`
		Pct    string `xml:"pct"`
	} `xml:"policy_published"`
	Records []xmlRecord `xml:"record"`
}

type xmlRecord struct {
	Row struct {
		SourceIP        string `xml:"source_ip"`
		Count           int    `xml:"count"`
		PolicyEvaluated struct {
			Disposition string `xml:"disposition"`
			Dkim        string `xml:"dkim"`
			Spf         string `xml:"spf"`
		} `xml:"policy_evaluated"`
	} `xml:"row"`
	Identifiers struct {
		HeaderFrom   string `xml:"header_from"`
		EnvelopeFrom string `xml:"envelope_from"`
		EnvelopeTo   string `xml:"envelope_to"`
	} `xml:"identifiers"`
	AuthResults struct {
		Dkim []struct {
			Domain      string `xml:"domain"`
			Selector    string `xml:"selector"`
			Result      string `xml:"result"`
			HumanResult string `xml:"human_result"`
		} `xml:"dkim"`
		Spf []struct {
			Domain string `xml:"domain"`
			Scope  string `xml:"scope"`
			Result string `xml:"result"`
		} `xml:"spf"`
	} `xml:"auth_results"`
}

// Parse unmarshals a single aggregate report and applies the schema
// defaults. report_id, org_name, the date range bounds and the published
// domain and policy are required, everything else falls back to a default.
// Failures are returned as *MalformedReportError.
func Parse(xmlContent []byte) (*Report, error) {
	var doc xmlFeedback
	if err := xml.Unmarshal(xmlContent, &doc); err != nil {
		return nil, &MalformedReportError{Reason: "invalid xml", Err: err}
	}

	meta := doc.ReportMetadata
	if meta.ReportID == "" {
		return nil, &MalformedReportError{Reason: "missing report_metadata report_id"}
	}
	if meta.OrgName == "" {
		return nil, &MalformedReportError{Reason: "missing report_metadata org_name"}
	}
	if meta.DateRange.Begin == nil || meta.DateRange.End == nil {
		return nil, &MalformedReportError{Reason: "missing report_metadata date_range"}
	}

	pol := doc.PolicyPublished
	if pol.Domain == "" {
		return nil, &MalformedReportError{Reason: "missing policy_published domain"}
	}
	if pol.P == "" {
		return nil, &MalformedReportError{Reason: "missing policy_published p"}
	}

	report := &Report{
		OrgName:          meta.OrgName,
		Email:            meta.Email,
		ExtraContactInfo: meta.ExtraContactInfo,
		ReportID:         meta.ReportID,
		DateRangeBegin:   time.Unix(*meta.DateRange.Begin, 0).UTC(),
		DateRangeEnd:     time.Unix(*meta.DateRange.End, 0).UTC(),
		Domain:           pol.Domain,
		ADKIM:            stringOrDefault(pol.Adkim, defaultAlignment),
		ASPF:             stringOrDefault(pol.Aspf, defaultAlignment),
		Policy:           pol.P,
		SubdomainPolicy:  stringOrDefault(pol.Sp, pol.P),
		Percent:          parsePercent(pol.Pct),
		RawXML:           string(xmlContent),
	}

	for _, rec := range doc.Records {
		// a record without a row or source_ip is still kept, the store
		// accepts an empty source IP
		out := ReportRecord{
			SourceIP:     rec.Row.SourceIP,
			Count:        rec.Row.Count,
			Disposition:  rec.Row.PolicyEvaluated.Disposition,
			DKIMResult:   rec.Row.PolicyEvaluated.Dkim,
			SPFResult:    rec.Row.PolicyEvaluated.Spf,
			HeaderFrom:   rec.Identifiers.HeaderFrom,
			EnvelopeFrom: stringOrDefault(rec.Identifiers.EnvelopeFrom, rec.Identifiers.HeaderFrom),
			EnvelopeTo:   rec.Identifiers.EnvelopeTo,
		}
		for _, d := range rec.AuthResults.Dkim {
			out.DKIMAuth = append(out.DKIMAuth, DKIMAuthResult{
				Domain:      d.Domain,
				Selector:    d.Selector,
				Result:      d.Result,
				HumanResult: d.HumanResult,
			})
		}
		for _, s := range rec.AuthResults.Spf {
			out.SPFAuth = append(out.SPFAuth, SPFAuthResult{
				Domain: s.Domain,
				Scope:  stringOrDefault(s.Scope, defaultSPFScope),
				Result: s.Result,
			})
		}
		report.Records = append(report.Records, out)
	}

	return report, nil
}

func stringOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func parsePercent(s string) int {
	pct, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultPercent
	}
	return pct
}
