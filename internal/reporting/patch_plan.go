package reporting

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

const (
	ColumnPatchVersions = "Patch Versions"
	ColumnTargetVersion = "Target Version"
	ColumnCVENumber     = "CVE Number"
	ColumnServers       = "Servers"
	ColumnTopPriority   = "Top Priority"
)

type PatchItem struct {
	Product       string          `json:"product" yaml:"product"`
	Patches       []string        `json:"patches" yaml:"patches"`
	TargetVersion string          `json:"target_version" yaml:"target_version"`
	CVEs          int             `json:"cves" yaml:"cves"`
	Servers       int             `json:"servers" yaml:"servers"`
	TopPriority   models.Priority `json:"top_priority" yaml:"top_priority"`
}

func splitPatches(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '|', ' ', '\t':
			return true
		}
		return false
	})
}

// TargetVersion picks the highest fixing version. Versions that do not parse
// as semver only win when nothing parses, by lexical order.
func TargetVersion(patches []string) string {
	var best *semver.Version
	bestRaw := ""
	lexical := ""
	for _, p := range patches {
		v, err := semver.NewVersion(p)
		if err != nil {
			if p > lexical {
				lexical = p
			}
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = p
		}
	}
	if best != nil {
		return bestRaw
	}
	return lexical
}

// BuildPatchPlan groups findings per product. It returns nil when the scan
// carries no Product or Patch column.
func BuildPatchPlan(s *models.Scan) []PatchItem {
	if !s.HasColumn(models.ColumnProduct) || !s.HasColumn(models.ColumnPatch) {
		return nil
	}
	type acc struct {
		item    PatchItem
		patches map[string]struct{}
		cves    map[string]struct{}
		servers map[string]struct{}
	}
	byProduct := make(map[string]*acc)
	var order []string
	for i := range s.Findings {
		f := &s.Findings[i]
		if f.Product == "" {
			continue
		}
		a, ok := byProduct[f.Product]
		if !ok {
			a = &acc{
				item:    PatchItem{Product: f.Product, TopPriority: models.PriorityUnset},
				patches: make(map[string]struct{}),
				cves:    make(map[string]struct{}),
				servers: make(map[string]struct{}),
			}
			byProduct[f.Product] = a
			order = append(order, f.Product)
		}
		for _, p := range splitPatches(f.Patch) {
			if _, seen := a.patches[p]; !seen {
				a.patches[p] = struct{}{}
				a.item.Patches = append(a.item.Patches, p)
			}
		}
		a.cves[f.CVECode] = struct{}{}
		a.servers[f.Server] = struct{}{}
		if f.Priority != models.PriorityUnset && (a.item.TopPriority == models.PriorityUnset || f.Priority < a.item.TopPriority) {
			a.item.TopPriority = f.Priority
		}
	}

	plan := make([]PatchItem, 0, len(order))
	for _, name := range order {
		a := byProduct[name]
		a.item.CVEs = len(a.cves)
		a.item.Servers = len(a.servers)
		a.item.TargetVersion = TargetVersion(a.item.Patches)
		plan = append(plan, a.item)
	}
	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].CVEs != plan[j].CVEs {
			return plan[i].CVEs > plan[j].CVEs
		}
		return plan[i].Product < plan[j].Product
	})
	return plan
}

func PatchPlanTable(plan []PatchItem) *models.Table {
	cols := []string{models.ColumnProduct, ColumnPatchVersions, ColumnTargetVersion, ColumnCVENumber, ColumnServers, ColumnTopPriority}
	if len(plan) == 0 {
		return models.PlaceholderTable(models.SheetPatchPlan, cols)
	}
	t := models.NewTable(models.SheetPatchPlan, cols)
	for _, p := range plan {
		t.Rows = append(t.Rows, []models.Value{
			models.Text(p.Product),
			models.Text(strings.Join(p.Patches, ", ")),
			models.Text(p.TargetVersion),
			models.Number(float64(p.CVEs)),
			models.Number(float64(p.Servers)),
			models.Text(p.TopPriority.String()),
		})
	}
	return t
}
