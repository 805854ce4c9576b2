package orchestration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/vulnlynx/internal/aggregate"
	"github.com/bl4ck0w1/vulnlynx/internal/diff"
	"github.com/bl4ck0w1/vulnlynx/internal/ingest"
	"github.com/bl4ck0w1/vulnlynx/internal/priority"
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

const (
	StageIngest    = "ingest"
	StageResolve   = "resolve"
	StageAggregate = "aggregate"
)

// Source is one scanner export to read. Label defaults to the file name and
// CapturedAt to the file's modification time.
type Source struct {
	Path       string
	Label      string
	CapturedAt time.Time
}

// Result carries everything one run produced. History is newest first and
// aligned with HistoryViews and Links.
type Result struct {
	Current       *models.Scan
	History       []*models.Scan
	Links         []diff.LinkStats
	CurrentLink   diff.LinkStats
	CVEScan       *models.Table
	HistoryViews  []*models.Table
	Synthesis     *models.Table
	SynthesisInfo aggregate.SynthesisStats
	Duration      time.Duration
}

// Ambiguous sums the duplicate baseline keys met over the whole chain.
func (r *Result) Ambiguous() int {
	n := r.CurrentLink.Stats.Ambiguous
	for _, l := range r.Links {
		n += l.Stats.Ambiguous
	}
	return n
}

// Pipeline wires ingest, prioritisation, the history chain and aggregation
// for one configuration.
type Pipeline struct {
	cfg            *models.Config
	csv            ingest.CSVOptions
	parser         *ingest.Parser
	calc           *priority.Calculator
	resolver       *diff.Resolver
	aggregator     *aggregate.Aggregator
	rules          aggregate.Rules
	synthesisRules aggregate.Rules
	metrics        *utils.MetricsCollector
	logger         *logrus.Logger
}

func NewPipeline(cfg *models.Config, metrics *utils.MetricsCollector, logger *logrus.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	calc, err := priority.NewCalculator(cfg.Engine.ScoreColumn)
	if err != nil {
		return nil, err
	}
	resolver, err := diff.NewResolver(calc, logger)
	if err != nil {
		return nil, err
	}
	rules, err := buildRules(cfg, cfg.Engine.GroupBy)
	if err != nil {
		return nil, err
	}
	synthRules, err := buildRules(cfg, cfg.Engine.SynthesisGroupBy)
	if err != nil {
		return nil, err
	}

	csvOpts := ingest.DefaultCSVOptions()
	if d := []rune(cfg.Input.Delimiter); len(d) == 1 {
		csvOpts.Delimiter = d[0]
	}

	return &Pipeline{
		cfg:            cfg,
		csv:            csvOpts,
		parser:         ingest.NewParser(ingest.Options{DateLayout: cfg.Engine.DateLayout}, logger),
		calc:           calc,
		resolver:       resolver,
		aggregator:     aggregate.NewAggregator(logger),
		rules:          rules,
		synthesisRules: synthRules,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

func buildRules(cfg *models.Config, groupBy []string) (aggregate.Rules, error) {
	rules, err := aggregate.DefaultRules(cfg.Engine.ScoreColumn, groupBy).WithOverrides(cfg.Aggregation.Strategies)
	if err != nil {
		return aggregate.Rules{}, fmt.Errorf("aggregation rules: %w", err)
	}
	if cfg.Aggregation.Delimiter != "" {
		rules.Delimiter = cfg.Aggregation.Delimiter
	}
	return rules, nil
}

func (p *Pipeline) Rules() aggregate.Rules { return p.rules }

// LoadScan reads and parses one export.
func (p *Pipeline) LoadScan(src Source) (*models.Scan, ingest.ParseStats, error) {
	table, err := ingest.ReadCSVFile(src.Path, p.csv)
	if err != nil {
		return nil, ingest.ParseStats{}, err
	}
	label := src.Label
	if label == "" {
		label = strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	}
	scan, stats, err := p.parser.Parse(label, table)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", src.Path, err)
	}
	scan.Source = src.Path
	scan.ScoreColumn = p.calc.ScoreColumn()
	switch {
	case !src.CapturedAt.IsZero():
		scan.CapturedAt = src.CapturedAt
	default:
		if info, err := os.Stat(src.Path); err == nil {
			scan.CapturedAt = info.ModTime().UTC()
		}
	}
	if p.metrics != nil {
		p.metrics.AddMalformed(stats.MalformedCells)
	}
	p.logger.WithFields(logrus.Fields{
		"scan":      scan.Label,
		"rows":      stats.Rows,
		"processed": stats.Processed,
		"extras":    len(stats.ExtraColumns),
	}).Debug("Scan loaded")
	return scan, stats, nil
}

// LoadScans parses sources concurrently and returns them in input order.
func (p *Pipeline) LoadScans(ctx context.Context, sources []Source) ([]*models.Scan, error) {
	scans := make([]*models.Scan, len(sources))
	err := p.timeStage(StageIngest, func() error {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for i, src := range sources {
			i, src := i, src
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				s, _, err := p.LoadScan(src)
				if err != nil {
					return err
				}
				scans[i] = s
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	return scans, nil
}

// Run prioritises and classifies current against history (newest first),
// then builds the aggregated views. The synthesis view is built only when
// synthesis is true.
func (p *Pipeline) Run(ctx context.Context, current *models.Scan, history []*models.Scan, synthesis bool) (*Result, error) {
	if current == nil {
		return nil, fmt.Errorf("no current scan")
	}
	start := time.Now()
	res := &Result{}

	err := p.timeStage(StageResolve, func() error {
		chain := p.resolver.Resolve(history)
		res.History = chain.Scans
		res.Links = chain.Links
		res.Current, res.CurrentLink = p.resolver.ResolveCurrent(current, chain.Scans)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve scan chain: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = p.timeStage(StageAggregate, func() error {
		return p.aggregateAll(ctx, res, synthesis)
	})
	if err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	p.record(res)
	p.logger.WithFields(logrus.Fields{
		"scan":      res.Current.Label,
		"findings":  len(res.Current.Findings),
		"history":   len(res.History),
		"new":       res.CurrentLink.Stats.New,
		"known":     res.CurrentLink.Stats.Known,
		"updated":   res.CurrentLink.Stats.Updated,
		"ambiguous": res.Ambiguous(),
		"duration":  utils.HumanizeDuration(res.Duration),
	}).Info("Scan chain resolved")
	return res, nil
}

// aggregateAll builds the current and synthesis views in parallel and
// renders each history scan as its full processed table, so a previous
// report sheet can be read back as history. Every task reads the resolved
// scans only.
func (p *Pipeline) aggregateAll(ctx context.Context, res *Result, synthesis bool) error {
	res.HistoryViews = make([]*models.Table, len(res.History))
	for i, h := range res.History {
		res.HistoryViews[i] = h.Table(models.HistorySheetName(i + 1))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, err := p.aggregator.AggregateScan(models.SheetCVEScan, res.Current, p.rules)
		if err != nil {
			return fmt.Errorf("aggregate current scan: %w", err)
		}
		res.CVEScan = t
		return nil
	})
	if synthesis {
		g.Go(func() error {
			t, stats, err := p.aggregator.Synthesize(models.SheetSynthesis, res.Current, res.History, aggregate.SynthesisOptions{
				Subset: p.cfg.Engine.SynthesisSubset,
				Rules:  p.synthesisRules,
			})
			if err != nil {
				return fmt.Errorf("synthesis: %w", err)
			}
			res.Synthesis = t
			res.SynthesisInfo = stats
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) workers() int {
	if p.cfg.Engine.Workers > 0 {
		return p.cfg.Engine.Workers
	}
	return 1
}

func (p *Pipeline) timeStage(stage string, fn func() error) error {
	if p.metrics == nil {
		return fn()
	}
	return p.metrics.TimeStage(stage, fn)
}

func (p *Pipeline) record(res *Result) {
	if p.metrics == nil {
		return
	}
	st := res.Current.Stats()
	p.metrics.SetFindings(st.ByPriority, st.ByStatus)
	p.metrics.SetAmbiguous(res.Ambiguous())
	p.metrics.SetHistoryDepth(len(res.History))
	p.metrics.MarkRun()
}
