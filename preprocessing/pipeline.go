package preprocessing

import (
	"time"

	"github.com/YuminosukeSato/bikedemand/core/parallel"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
)

// DefaultParallelThreshold はこの行数を超えると並列処理に切り替える
const DefaultParallelThreshold = 2048

// Pipeline は順序付きの Step 列を各行に適用する
type Pipeline struct {
	steps     []Step
	threshold int
	logger    log.Logger
}

// Option は Pipeline の設定オプション
type Option func(*Pipeline)

// WithSteps はステップ列を差し替える
func WithSteps(steps ...Step) Option {
	return func(p *Pipeline) {
		p.steps = steps
	}
}

// WithParallelThreshold は並列化の閾値を設定する
// 0以下を指定すると常に並列化する
func WithParallelThreshold(n int) Option {
	return func(p *Pipeline) {
		p.threshold = n
	}
}

// WithLogger はロガーを設定する
func WithLogger(l log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline は既定のステップ列を持つ Pipeline を作成する
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps:     DefaultSteps(),
		threshold: DefaultParallelThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// 未設定の場合は呼び出し時点のグローバルロガーを使う
func (p *Pipeline) log() log.Logger {
	if p.logger != nil {
		return p.logger
	}
	return log.GetLogger().With(log.ComponentKey, "preprocessing")
}

// Steps はステップ名を適用順に返す
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Enrich は全レコードに派生列を付与する
//
// 出力は入力と同じ件数・同じ順序。いずれかの行でエラーが発生した場合は
// 部分的な結果を返さず、最も小さい行番号のエラーを返す。
// 入力は変更されない。
func (p *Pipeline) Enrich(records []RawRecord) ([]EnrichedRecord, error) {
	n := len(records)
	out := make([]EnrichedRecord, n)
	if n == 0 {
		return out, nil
	}

	logger := p.log()
	start := time.Now()
	errs := make([]error, n)
	parallel.ParallelizeWithThreshold(n, p.threshold, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i], errs[i] = p.enrichRow(i, records[i])
		}
	})

	for i, err := range errs {
		if err != nil {
			logger.Error("enrichment failed", err,
				log.OperationKey, log.OperationEnrich,
				log.RowKey, i,
				log.SamplesKey, n,
			)
			return nil, err
		}
	}

	logger.Debug("records enriched",
		log.OperationKey, log.OperationEnrich,
		log.SamplesKey, n,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (p *Pipeline) enrichRow(row int, raw RawRecord) (EnrichedRecord, error) {
	rec := EnrichedRecord{RawRecord: raw}
	// 目的変数は行ごとにコピーし、入力と共有しない
	if raw.Target != nil {
		t := *raw.Target
		rec.Target = &t
	}

	for _, step := range p.steps {
		var err error
		rec, err = step.Apply(rec)
		if err != nil {
			return EnrichedRecord{}, errors.Wrapf(atRow(err, row), "step %s", step.Name)
		}
	}
	return rec, nil
}

// atRow は行番号を持たないスキーマ・範囲エラーに行番号を設定する
func atRow(err error, row int) error {
	var se *errors.SchemaError
	if errors.As(err, &se) && se.Row < 0 {
		se.Row = row
	}
	var re *errors.RangeError
	if errors.As(err, &re) && re.Row < 0 {
		re.Row = row
	}
	return err
}

var defaultPipeline = NewPipeline()

// Enrich は既定のパイプラインで全レコードに派生列を付与する
func Enrich(records []RawRecord) ([]EnrichedRecord, error) {
	return defaultPipeline.Enrich(records)
}
