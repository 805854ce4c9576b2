package reporting

import (
	"fmt"
	"time"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

type legendEntry struct {
	item, description string
}

var columnLegend = []legendEntry{
	{models.ColumnPublishedDate, "Publication date of the CVE"},
	{models.ColumnLastReviewedDate, "Date the CVE was last reviewed"},
	{models.ColumnDomain, "Domain of the affected server"},
	{models.ColumnSurface, "Attack surface of the affected server"},
	{models.ColumnServer, "Affected server, host or container image"},
	{models.ColumnCVECode, "CVE identifier"},
	{models.ColumnCVSSScore, "Common Vulnerability Scoring System base score, 0 to 10"},
	{models.ColumnCVSSTemporalScore, "CVSS score adjusted for exploit code and remediation state"},
	{models.ColumnCVSSEnvironmentalScore, "CVSS score adjusted for the deployment environment"},
	{models.ColumnCVSSComputedScore, "CVSS score with both temporal and environmental adjustments"},
	{models.ColumnCriticity, "Criticity class derived from the CVSS score (C1 critical to C4 low)"},
	{models.ColumnComponent, "Component affected by the vulnerability"},
	{models.ColumnProduct, "Product affected by the vulnerability"},
	{models.ColumnVersion, "Installed version of the product"},
	{models.ColumnPatch, "Versions in which the vulnerability is fixed"},
	{models.ColumnEPSS, "Exploit Prediction Scoring System probability, 0 to 1"},
	{models.ColumnMaturity, "Exploit maturity: unproven, proof-of-concept, functional or high"},
	{models.ColumnVector, "CVSS attack vector"},
	{models.ColumnEnvironmentalVector, "CVSS environmental vector"},
	{models.ColumnTemporalVector, "CVSS temporal vector"},
	{models.ColumnRelatedCWEs, "Related Common Weakness Enumeration entries"},
	{models.ColumnRelatedCAPECs, "Related Common Attack Pattern Enumeration and Classification entries"},
	{models.ColumnRelatedATK, "Related MITRE ATT&CK techniques"},
	{models.ColumnCisaReference, "Listed in the CISA Known Exploited Vulnerabilities catalog"},
	{models.ColumnCertFRReferences, "Related CERT-FR advisories"},
	{models.ColumnPriority, "Remediation priority from P1 (most urgent) to P6, derived from CISA listing, maturity, EPSS and score"},
	{models.ColumnStatus, "Lifecycle against the previous scan: New, Known, Updated or Fixed. A Fixed CVE may also have been rejected upstream"},
	{models.ColumnUpdateCisa, "CISA listing Added or Removed since the previous scan"},
	{models.ColumnUpdateEPSS, "EPSS change since the previous scan"},
	{models.ColumnUpdateCVSS, "Score change since the previous scan"},
	{models.ColumnUpdateMaturity, "Maturity change since the previous scan, old -> new"},
}

// LegendTable describes the sheets and columns of a report.
func LegendTable(capturedAt time.Time, historyDepth int) *models.Table {
	t := models.NewTable(models.SheetLegend, []string{"Item", "Description"})
	add := func(item, desc string) {
		t.Rows = append(t.Rows, []models.Value{models.Text(item), models.Text(desc)})
	}

	add("Audit", fmt.Sprintf("Report generated from the scan of %s.", capturedAt.Format("2006-01-02")))
	add(models.SheetData, "Raw findings of the current scan with computed columns")
	add(models.SheetCVEScan, "Current scan summarised per CVE and server")
	add(models.SheetPatchPlan, "Corrective actions per product")
	for i := 1; i <= historyDepth; i++ {
		add(models.HistorySheetName(i), fmt.Sprintf("Findings of previous scan n°%d", i))
	}
	for _, e := range columnLegend {
		add(e.item, e.description)
	}
	return t
}
