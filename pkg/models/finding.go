package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	ColumnCVECode                = "CVE Code"
	ColumnServer                 = "Server"
	ColumnComponent              = "Component"
	ColumnProduct                = "Product"
	ColumnVersion                = "Version"
	ColumnPatch                  = "Patch"
	ColumnDomain                 = "Domain"
	ColumnSurface                = "Surface"
	ColumnCVSSScore              = "CVSS Score"
	ColumnCVSSTemporalScore      = "CVSS Temporal Score"
	ColumnCVSSEnvironmentalScore = "CVSS Environmental Score"
	ColumnCVSSComputedScore      = "CVSS Computed Score"
	ColumnEPSS                   = "Score EPSS"
	ColumnMaturity               = "Maturity"
	ColumnCisaReference          = "Cisa Reference"
	ColumnVector                 = "Vector"
	ColumnEnvironmentalVector    = "Environmental Vector"
	ColumnTemporalVector         = "Temporal Vector"
	ColumnRelatedCWEs            = "Related CWEs"
	ColumnRelatedCAPECs          = "Related CAPECs"
	ColumnRelatedATK             = "Related ATK"
	ColumnCertFRReferences       = "CertFR References"
	ColumnCriticity              = "Criticity"
	ColumnPublishedDate          = "Published Date"
	ColumnLastReviewedDate       = "Last Reviewed Date"

	ColumnPriority       = "Priority"
	ColumnStatus         = "Status"
	ColumnUpdateCisa     = "Update CISA"
	ColumnUpdateEPSS     = "Update EPSS"
	ColumnUpdateCVSS     = "Update CVSS"
	ColumnUpdateMaturity = "Update Maturity"
)

const DefaultScoreColumn = ColumnCVSSComputedScore

var (
	IdentityColumns = []string{ColumnCVECode, ColumnServer, ColumnComponent}

	ScoreColumns = []string{
		ColumnCVSSScore,
		ColumnCVSSTemporalScore,
		ColumnCVSSEnvironmentalScore,
		ColumnCVSSComputedScore,
	}

	NumericColumns = append(append([]string{}, ScoreColumns...), ColumnEPSS)

	DateColumns = []string{ColumnPublishedDate, ColumnLastReviewedDate}

	ComputedColumns = []string{
		ColumnPriority,
		ColumnStatus,
		ColumnUpdateCisa,
		ColumnUpdateEPSS,
		ColumnUpdateCVSS,
		ColumnUpdateMaturity,
	}

	// RawColumns is the scanner export vocabulary in its usual header order.
	RawColumns = []string{
		ColumnCVECode, ColumnServer, ColumnComponent, ColumnProduct, ColumnVersion,
		ColumnPatch, ColumnDomain, ColumnSurface, ColumnCVSSScore, ColumnCVSSTemporalScore,
		ColumnCVSSEnvironmentalScore, ColumnCVSSComputedScore, ColumnEPSS, ColumnMaturity,
		ColumnCisaReference, ColumnVector, ColumnEnvironmentalVector, ColumnTemporalVector,
		ColumnRelatedCWEs, ColumnRelatedCAPECs, ColumnRelatedATK, ColumnCertFRReferences,
		ColumnCriticity, ColumnPublishedDate, ColumnLastReviewedDate,
	}
)

func IsScoreColumn(column string) bool {
	for _, c := range ScoreColumns {
		if c == column {
			return true
		}
	}
	return false
}

type Maturity string

const (
	MaturityUnproven       Maturity = "unproven"
	MaturityProofOfConcept Maturity = "proof-of-concept"
	MaturityFunctional     Maturity = "functional"
	MaturityHigh           Maturity = "high"
)

func ParseMaturity(raw string) Maturity {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "poc", "proof of concept", "proof_of_concept":
		return MaturityProofOfConcept
	}
	return Maturity(s)
}

// Rank orders maturity levels low to high. Unrecognised values rank -1.
func (m Maturity) Rank() int {
	switch m {
	case MaturityUnproven:
		return 0
	case MaturityProofOfConcept:
		return 1
	case MaturityFunctional:
		return 2
	case MaturityHigh:
		return 3
	default:
		return -1
	}
}

type Priority int

const (
	PriorityUnset Priority = iota
	P1
	P2
	P3
	P4
	P5
	P6
)

func (p Priority) String() string {
	if p < P1 || p > P6 {
		return ""
	}
	return "P" + strconv.Itoa(int(p))
}

func ParsePriority(raw string) (Priority, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "P")
	n, err := strconv.Atoi(s)
	if err != nil || n < int(P1) || n > int(P6) {
		return PriorityUnset, fmt.Errorf("invalid priority: %q", raw)
	}
	return Priority(n), nil
}

type Status string

const (
	StatusNew     Status = "New"
	StatusKnown   Status = "Known"
	StatusUpdated Status = "Updated"
	StatusFixed   Status = "Fixed"
)

func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "new":
		return StatusNew, nil
	case "known":
		return StatusKnown, nil
	case "updated":
		return StatusUpdated, nil
	case "fixed":
		return StatusFixed, nil
	}
	return "", fmt.Errorf("invalid status: %q", raw)
}

type CisaChange string

const (
	CisaAdded   CisaChange = "Added"
	CisaRemoved CisaChange = "Removed"
)

// Delta holds the per-signal changes against the baseline finding. Zero
// values render as empty cells.
type Delta struct {
	Cisa     CisaChange `json:"cisa,omitempty" yaml:"cisa,omitempty"`
	EPSS     float64    `json:"epss,omitempty" yaml:"epss,omitempty"`
	CVSS     float64    `json:"cvss,omitempty" yaml:"cvss,omitempty"`
	Maturity string     `json:"maturity,omitempty" yaml:"maturity,omitempty"`
}

func (d Delta) IsZero() bool {
	return d.Cisa == "" && d.EPSS == 0 && d.CVSS == 0 && d.Maturity == ""
}

func FormatCVSSDelta(v float64) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%+.2f", v)
}

func FormatEPSSDelta(v float64) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%+.4f", v)
}

func ParseDeltaNumber(raw string) float64 {
	s := strings.TrimSpace(strings.Replace(raw, ",", ".", 1))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Date is a parsed date cell; Known is false when the raw value could not be parsed.
type Date struct {
	Time  time.Time `json:"time,omitempty" yaml:"time,omitempty"`
	Known bool      `json:"known" yaml:"known"`
}

func (d Date) String() string {
	if !d.Known {
		return "Unknown"
	}
	return d.Time.Format("2006-01-02")
}

type IdentityKey struct {
	Server    string
	CVECode   string
	Component string
}

func (k IdentityKey) String() string {
	return k.Server + "/" + k.CVECode + "/" + k.Component
}

type Finding struct {
	CVECode   string `json:"cve_code" yaml:"cve_code"`
	Server    string `json:"server" yaml:"server"`
	Component string `json:"component" yaml:"component"`

	Product string `json:"product,omitempty" yaml:"product,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Patch   string `json:"patch,omitempty" yaml:"patch,omitempty"`
	Domain  string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Surface string `json:"surface,omitempty" yaml:"surface,omitempty"`

	CVSSScore              float64 `json:"cvss_score" yaml:"cvss_score"`
	CVSSTemporalScore      float64 `json:"cvss_temporal_score" yaml:"cvss_temporal_score"`
	CVSSEnvironmentalScore float64 `json:"cvss_environmental_score" yaml:"cvss_environmental_score"`
	CVSSComputedScore      float64 `json:"cvss_computed_score" yaml:"cvss_computed_score"`
	EPSS                   float64 `json:"epss" yaml:"epss"`

	Maturity      Maturity `json:"maturity,omitempty" yaml:"maturity,omitempty"`
	CisaReference bool     `json:"cisa_reference" yaml:"cisa_reference"`

	Vector              string `json:"vector,omitempty" yaml:"vector,omitempty"`
	EnvironmentalVector string `json:"environmental_vector,omitempty" yaml:"environmental_vector,omitempty"`
	TemporalVector      string `json:"temporal_vector,omitempty" yaml:"temporal_vector,omitempty"`
	RelatedCWEs         string `json:"related_cwes,omitempty" yaml:"related_cwes,omitempty"`
	RelatedCAPECs       string `json:"related_capecs,omitempty" yaml:"related_capecs,omitempty"`
	RelatedATK          string `json:"related_atk,omitempty" yaml:"related_atk,omitempty"`
	CertFRReferences    string `json:"certfr_references,omitempty" yaml:"certfr_references,omitempty"`
	Criticity           string `json:"criticity,omitempty" yaml:"criticity,omitempty"`

	PublishedDate    Date `json:"published_date" yaml:"published_date"`
	LastReviewedDate Date `json:"last_reviewed_date" yaml:"last_reviewed_date"`

	Extras map[string]string `json:"extras,omitempty" yaml:"extras,omitempty"`

	Priority Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	Status   Status   `json:"status,omitempty" yaml:"status,omitempty"`
	Delta    Delta    `json:"delta,omitempty" yaml:"delta,omitempty"`
}

func (f *Finding) Key() IdentityKey {
	return IdentityKey{Server: f.Server, CVECode: f.CVECode, Component: f.Component}
}

func (f *Finding) Score(column string) (float64, error) {
	switch column {
	case ColumnCVSSScore:
		return f.CVSSScore, nil
	case ColumnCVSSTemporalScore:
		return f.CVSSTemporalScore, nil
	case ColumnCVSSEnvironmentalScore:
		return f.CVSSEnvironmentalScore, nil
	case ColumnCVSSComputedScore:
		return f.CVSSComputedScore, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScoreColumn, column)
}

func (f *Finding) SetScore(column string, v float64) error {
	switch column {
	case ColumnCVSSScore:
		f.CVSSScore = v
	case ColumnCVSSTemporalScore:
		f.CVSSTemporalScore = v
	case ColumnCVSSEnvironmentalScore:
		f.CVSSEnvironmentalScore = v
	case ColumnCVSSComputedScore:
		f.CVSSComputedScore = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScoreColumn, column)
	}
	return nil
}

func (f *Finding) CisaText() string {
	if f.CisaReference {
		return "Yes"
	}
	return "No"
}

// Cell renders one column of the finding as a table value.
func (f *Finding) Cell(column string) Value {
	switch column {
	case ColumnCVECode:
		return Text(f.CVECode)
	case ColumnServer:
		return Text(f.Server)
	case ColumnComponent:
		return Text(f.Component)
	case ColumnProduct:
		return Text(f.Product)
	case ColumnVersion:
		return Text(f.Version)
	case ColumnPatch:
		return Text(f.Patch)
	case ColumnDomain:
		return Text(f.Domain)
	case ColumnSurface:
		return Text(f.Surface)
	case ColumnCVSSScore, ColumnCVSSTemporalScore, ColumnCVSSEnvironmentalScore, ColumnCVSSComputedScore:
		v, _ := f.Score(column)
		return Number(v)
	case ColumnEPSS:
		return Number(f.EPSS)
	case ColumnMaturity:
		return Text(string(f.Maturity))
	case ColumnCisaReference:
		return Text(f.CisaText())
	case ColumnVector:
		return Text(f.Vector)
	case ColumnEnvironmentalVector:
		return Text(f.EnvironmentalVector)
	case ColumnTemporalVector:
		return Text(f.TemporalVector)
	case ColumnRelatedCWEs:
		return Text(f.RelatedCWEs)
	case ColumnRelatedCAPECs:
		return Text(f.RelatedCAPECs)
	case ColumnRelatedATK:
		return Text(f.RelatedATK)
	case ColumnCertFRReferences:
		return Text(f.CertFRReferences)
	case ColumnCriticity:
		return Text(f.Criticity)
	case ColumnPublishedDate:
		return Text(f.PublishedDate.String())
	case ColumnLastReviewedDate:
		return Text(f.LastReviewedDate.String())
	case ColumnPriority:
		return Text(f.Priority.String())
	case ColumnStatus:
		return Text(string(f.Status))
	case ColumnUpdateCisa:
		return Text(string(f.Delta.Cisa))
	case ColumnUpdateEPSS:
		return Text(FormatEPSSDelta(f.Delta.EPSS))
	case ColumnUpdateCVSS:
		return Text(FormatCVSSDelta(f.Delta.CVSS))
	case ColumnUpdateMaturity:
		return Text(f.Delta.Maturity)
	}
	if v, ok := f.Extras[column]; ok {
		return Text(v)
	}
	return Empty()
}

func (f *Finding) Clone() Finding {
	out := *f
	if f.Extras != nil {
		out.Extras = make(map[string]string, len(f.Extras))
		for k, v := range f.Extras {
			out.Extras[k] = v
		}
	}
	return out
}

func (f *Finding) ClearLifecycle() {
	f.Status = ""
	f.Delta = Delta{}
}
