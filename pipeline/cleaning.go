package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"winequality/ml"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*DataPoint) (*DataPoint, error)
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Line      int       `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules      []CleaningRule
	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex

	logger *zap.Logger
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
	// Recent holds the latest rejected rows, oldest first.
	Recent []QualityIssue `json:"recent,omitempty"`
}

// NewDataCleaner 创建数据清洗器. The duplicate rule remembers every row it has
// passed, so a cleaner is meant for a single dataset.
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		rules:  make([]CleaningRule, 0),
		issues: make([]QualityIssue, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
		logger: logger,
	}

	cleaner.AddRule(NewFieldCountRule())
	cleaner.AddRule(NewMissingValueRule())
	cleaner.AddRule(NewQualityRangeRule())
	cleaner.AddRule(NewDuplicateDetectionRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean runs every point through the rules in order. A point is dropped at the
// first rule that rejects it; later rules never see it.
func (dc *DataCleaner) Clean(points []*DataPoint) ([]*DataPoint, []QualityIssue) {
	var cleaned []*DataPoint
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, point := range points {
		dc.stats.TotalProcessed++

		var issue *QualityIssue
		for _, rule := range dc.rules {
			next, err := rule.Apply(point)
			if err != nil {
				issue = &QualityIssue{
					Type:      rule.Name(),
					Message:   err.Error(),
					Line:      point.Line,
					Timestamp: time.Now(),
				}
				dc.stats.Issues[rule.Name()]++
				dc.logger.Debug("row rejected",
					zap.String("rule", rule.Name()),
					zap.Int("line", point.Line),
					zap.Error(err),
				)
				break
			}
			if next != nil {
				point = next
			}
		}

		if issue != nil {
			dc.stats.Rejected++
			issues = append(issues, *issue)
			dc.issuesLock.Lock()
			dc.issues = append(dc.issues, *issue)
			dc.issuesLock.Unlock()
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, point)
	}

	dc.stats.LastClean = time.Now()

	return cleaned, issues
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues 获取问题列表
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ============ 清洗规则实现 ============

// FieldCountRule rejects rows whose cell count differs from the header.
type FieldCountRule struct {
	Expected int
}

func NewFieldCountRule() *FieldCountRule {
	return &FieldCountRule{Expected: ml.FeatureCount + 1}
}

func (r *FieldCountRule) Name() string {
	return "field_count"
}

func (r *FieldCountRule) Apply(point *DataPoint) (*DataPoint, error) {
	if point.RawFieldCount != r.Expected {
		return nil, fmt.Errorf("expected %d fields, got %d", r.Expected, point.RawFieldCount)
	}
	return point, nil
}

// MissingValueRule parses every cell and rejects rows with an empty, NA-like or
// non-numeric value.
type MissingValueRule struct {
	MissingMarkers map[string]struct{}
}

func NewMissingValueRule() *MissingValueRule {
	markers := make(map[string]struct{})
	for _, m := range []string{"", "na", "n/a", "nan", "null", "none"} {
		markers[m] = struct{}{}
	}
	return &MissingValueRule{MissingMarkers: markers}
}

func (r *MissingValueRule) Name() string {
	return "missing_value"
}

func (r *MissingValueRule) Apply(point *DataPoint) (*DataPoint, error) {
	columns := ml.Columns()
	values := make([]float64, len(point.Fields))
	for i, field := range point.Fields {
		cell := strings.TrimSpace(field)
		if _, missing := r.MissingMarkers[strings.ToLower(cell)]; missing {
			return nil, fmt.Errorf("missing value for %q", columns[i])
		}
		value, err := strconv.ParseFloat(cell, 64)
		if err != nil || math.IsInf(value, 0) || math.IsNaN(value) {
			return nil, fmt.Errorf("non-numeric value %q for %q", cell, columns[i])
		}
		values[i] = value
	}

	parsed := *point
	parsed.Values = values
	return &parsed, nil
}

// QualityRangeRule 质量分范围规则
type QualityRangeRule struct {
	Min float64
	Max float64
}

func NewQualityRangeRule() *QualityRangeRule {
	return &QualityRangeRule{Min: 0, Max: 10}
}

func (r *QualityRangeRule) Name() string {
	return "quality_range"
}

func (r *QualityRangeRule) Apply(point *DataPoint) (*DataPoint, error) {
	quality := point.Values[ml.FeatureCount]
	if quality < r.Min || quality > r.Max {
		return nil, fmt.Errorf("quality %v out of range [%v, %v]", quality, r.Min, r.Max)
	}
	return point, nil
}

// DuplicateDetectionRule 重复检测规则. Rows are compared on all parsed values,
// so "7.4" and "7.40" are the same measurement.
type DuplicateDetectionRule struct {
	seenMap map[string]int
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seenMap: make(map[string]int),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate"
}

func (r *DuplicateDetectionRule) Apply(point *DataPoint) (*DataPoint, error) {
	key := valuesKey(point.Values)

	r.mu.Lock()
	defer r.mu.Unlock()

	if first, exists := r.seenMap[key]; exists {
		return nil, fmt.Errorf("duplicate of line %d", first)
	}

	r.seenMap[key] = point.Line
	return point, nil
}

func valuesKey(values []float64) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('|')
		}
		if v == 0 {
			v = 0 // fold -0
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
