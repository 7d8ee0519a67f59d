package dmarc

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const fullReport = `<?xml version="1.0" encoding="UTF-8"?>
<feedback>
  <report_metadata>
    <org_name>google.com</org_name>
    <email>noreply-dmarc-support@google.com</email>
    <extra_contact_info>https://support.google.com/a/answer/2466580</extra_contact_info>
    <report_id>abc123</report_id>
    <date_range>
      <begin>1700000000</begin>
      <end>1700086400</end>
    </date_range>
  </report_metadata>
  <policy_published>
    <domain>example.com</domain>
    <adkim>s</adkim>
    <aspf>s</aspf>
    <p>none</p>
    <sp>quarantine</sp>
    <pct>50</pct>
  </policy_published>
  <record>
    <row>
      <source_ip>203.0.113.5</source_ip>
      <count>42</count>
      <policy_evaluated>
        <disposition>none</disposition>
        <dkim>pass</dkim>
        <spf>pass</spf>
      </policy_evaluated>
    </row>
    <identifiers>
      <header_from>example.com</header_from>
      <envelope_from>bounce.example.com</envelope_from>
      <envelope_to>dest.example.org</envelope_to>
    </identifiers>
    <auth_results>
      <dkim>
        <domain>example.com</domain>
        <selector>sel1</selector>
        <result>pass</result>
      </dkim>
      <dkim>
        <domain>example.net</domain>
        <selector>sel2</selector>
        <result>fail</result>
        <human_result>body hash mismatch</human_result>
      </dkim>
      <spf>
        <domain>example.com</domain>
        <scope>mfrom</scope>
        <result>pass</result>
      </spf>
    </auth_results>
  </record>
</feedback>`

const minimalReport = `<feedback>
  <report_metadata>
    <org_name>acme</org_name>
    <report_id>min-1</report_id>
    <date_range><begin>1700000000</begin><end>1700086400</end></date_range>
  </report_metadata>
  <policy_published>
    <domain>example.com</domain>
    <p>reject</p>
  </policy_published>
  <record>
    <row>
      <source_ip>198.51.100.7</source_ip>
      <count>1</count>
      <policy_evaluated><disposition>reject</disposition><dkim>fail</dkim><spf>fail</spf></policy_evaluated>
    </row>
    <identifiers>
      <header_from>example.com</header_from>
    </identifiers>
  </record>
</feedback>`

func TestParseFullReport(t *testing.T) {
	t.Parallel()

	report, err := Parse([]byte(fullReport))
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if report.ReportID != "abc123" {
		t.Fatalf("wrong report id: %s", report.ReportID)
	}
	if report.OrgName != "google.com" {
		t.Fatalf("wrong org name: %s", report.OrgName)
	}
	if !report.DateRangeBegin.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("wrong begin: %s", report.DateRangeBegin)
	}
	if !report.DateRangeEnd.Equal(time.Unix(1700086400, 0)) {
		t.Fatalf("wrong end: %s", report.DateRangeEnd)
	}
	if report.ADKIM != "s" || report.ASPF != "s" {
		t.Fatalf("alignment not taken from xml: %s / %s", report.ADKIM, report.ASPF)
	}
	if report.SubdomainPolicy != "quarantine" {
		t.Fatalf("wrong sp: %s", report.SubdomainPolicy)
	}
	if report.Percent != 50 {
		t.Fatalf("wrong pct: %d", report.Percent)
	}
	if report.RawXML != fullReport {
		t.Fatal("raw xml not retained verbatim")
	}
	if len(report.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(report.Records))
	}

	rec := report.Records[0]
	if rec.SourceIP != "203.0.113.5" || rec.Count != 42 {
		t.Fatalf("wrong row: %s / %d", rec.SourceIP, rec.Count)
	}
	if rec.EnvelopeFrom != "bounce.example.com" || rec.EnvelopeTo != "dest.example.org" {
		t.Fatalf("wrong identifiers: %s / %s", rec.EnvelopeFrom, rec.EnvelopeTo)
	}
	if len(rec.DKIMAuth) != 2 {
		t.Fatalf("expected 2 dkim auth results, got %d", len(rec.DKIMAuth))
	}
	if rec.DKIMAuth[1].HumanResult != "body hash mismatch" {
		t.Fatalf("wrong human result: %s", rec.DKIMAuth[1].HumanResult)
	}
	if len(rec.SPFAuth) != 1 || rec.SPFAuth[0].Scope != "mfrom" {
		t.Fatalf("wrong spf auth results: %+v", rec.SPFAuth)
	}
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	report, err := Parse([]byte(minimalReport))
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if report.ADKIM != "relaxed" || report.ASPF != "relaxed" {
		t.Fatalf("expected relaxed alignment defaults, got %s / %s", report.ADKIM, report.ASPF)
	}
	if report.SubdomainPolicy != "reject" {
		t.Fatalf("sp should default to p, got %s", report.SubdomainPolicy)
	}
	if report.Percent != 100 {
		t.Fatalf("pct should default to 100, got %d", report.Percent)
	}

	rec := report.Records[0]
	if rec.EnvelopeFrom != "example.com" {
		t.Fatalf("envelope_from should default to header_from, got %s", rec.EnvelopeFrom)
	}
	if rec.EnvelopeTo != "" {
		t.Fatalf("envelope_to should default to empty, got %s", rec.EnvelopeTo)
	}
	if len(rec.DKIMAuth) != 0 || len(rec.SPFAuth) != 0 {
		t.Fatal("missing auth_results should yield empty lists")
	}
}

func TestParseNonNumericPct(t *testing.T) {
	t.Parallel()

	xml := strings.Replace(fullReport, "<pct>50</pct>", "<pct>all</pct>", 1)
	report, err := Parse([]byte(xml))
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if report.Percent != 100 {
		t.Fatalf("non numeric pct should default to 100, got %d", report.Percent)
	}
}

func TestParseRecordWithoutRow(t *testing.T) {
	t.Parallel()

	xml := `<feedback>
  <report_metadata>
    <org_name>acme</org_name>
    <report_id>norow-1</report_id>
    <date_range><begin>1</begin><end>2</end></date_range>
  </report_metadata>
  <policy_published><domain>example.com</domain><p>none</p></policy_published>
  <record>
    <identifiers><header_from>example.com</header_from></identifiers>
  </record>
</feedback>`
	report, err := Parse([]byte(xml))
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if len(report.Records) != 1 {
		t.Fatalf("record without row must not be dropped, got %d records", len(report.Records))
	}
	if report.Records[0].SourceIP != "" {
		t.Fatalf("expected empty source ip, got %s", report.Records[0].SourceIP)
	}
}

func TestParseMissingRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mangle  func(string) string
		snippet string
	}{
		{"report_id", func(s string) string { return strings.Replace(s, "<report_id>abc123</report_id>", "", 1) }, "report_id"},
		{"org_name", func(s string) string { return strings.Replace(s, "<org_name>google.com</org_name>", "", 1) }, "org_name"},
		{"date_range", func(s string) string { return strings.Replace(s, "<begin>1700000000</begin>", "", 1) }, "date_range"},
		{"domain", func(s string) string { return strings.Replace(s, "<domain>example.com</domain>\n    <adkim>", "<adkim>", 1) }, "domain"},
		{"p", func(s string) string { return strings.Replace(s, "<p>none</p>", "", 1) }, "policy_published p"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.mangle(fullReport)))
			if err == nil {
				t.Fatal("expected error")
			}
			var malformed *MalformedReportError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedReportError, got %T", err)
			}
			if !strings.Contains(malformed.Reason, tc.snippet) {
				t.Fatalf("reason %q does not mention %q", malformed.Reason, tc.snippet)
			}
		})
	}
}

func TestParseInvalidXML(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("definitely not xml <"))
	var malformed *MalformedReportError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedReportError, got %v", err)
	}
}
