package pipeline

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"winequality/ml"
)

// DataPoint is one raw input row with its cells arranged in ml.Columns order.
type DataPoint struct {
	Line   int       `json:"line"`
	Fields []string  `json:"fields"`
	Values []float64 `json:"values,omitempty"`

	// RawFieldCount is the number of cells the row actually had.
	RawFieldCount int `json:"raw_field_count"`
}

// MaxReportedIssues bounds the rejected rows LoadDataset reports by line.
const MaxReportedIssues = 20

// LoadOptions controls how the input file is decoded.
type LoadOptions struct {
	// Encoding is a WHATWG encoding label such as "utf-8", "windows-1252" or "gbk".
	Encoding string
	// Delimiter is detected from the header line when zero.
	Delimiter rune
}

// DataLoadError reports an input file that cannot be used at all.
type DataLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DataLoadError) Error() string {
	msg := "load dataset"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// LoadDataset reads, cleans and labels the file at path.
func LoadDataset(path string, opts LoadOptions, logger *zap.Logger) (*ml.Dataset, CleaningStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, CleaningStats{}, &DataLoadError{Path: path, Reason: "cannot open file", Err: err}
	}
	defer file.Close()

	points, err := ReadDataPoints(file, opts)
	if err != nil {
		var loadErr *DataLoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
		}
		return nil, CleaningStats{}, err
	}

	cleaner := NewDataCleaner(logger)
	cleaned, _ := cleaner.Clean(points)
	stats := cleaner.GetStats()
	stats.Recent = cleaner.GetIssues(MaxReportedIssues)
	for _, issue := range stats.Recent {
		logger.Warn("row dropped",
			zap.String("path", path),
			zap.Int("line", issue.Line),
			zap.String("rule", issue.Type),
			zap.String("reason", issue.Message),
		)
	}

	logger.Info("dataset loaded",
		zap.String("path", path),
		zap.Int64("rows", stats.TotalProcessed),
		zap.Int64("kept", stats.Passed),
		zap.Int64("dropped", stats.Rejected),
		zap.Any("dropped_by_rule", stats.Issues),
	)
	return ml.NewDataset(ToRecords(cleaned)), stats, nil
}

// ReadDataPoints validates the header and returns every data row unparsed.
func ReadDataPoints(r io.Reader, opts LoadOptions) ([]*DataPoint, error) {
	label := opts.Encoding
	if label == "" {
		label = "utf-8"
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, &DataLoadError{Reason: fmt.Sprintf("unsupported encoding %q", label), Err: err}
	}
	decoded := bufio.NewReader(transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())))

	headerLine, err := decoded.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && headerLine != "") {
		return nil, &DataLoadError{Reason: "cannot read header", Err: err}
	}

	delimiter := opts.Delimiter
	if delimiter == 0 {
		delimiter = detectDelimiter(headerLine)
	}

	reader := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), decoded))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &DataLoadError{Reason: "cannot parse header", Err: err}
	}
	positions, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	var points []*DataPoint
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, &DataLoadError{Reason: "cannot read rows", Err: err}
			}
			points = append(points, &DataPoint{Line: parseErr.StartLine, Fields: make([]string, len(positions))})
			continue
		}

		line, _ := reader.FieldPos(0)
		fields := make([]string, len(positions))
		for col, pos := range positions {
			if pos < len(row) {
				fields[col] = row[pos]
			}
		}
		points = append(points, &DataPoint{Line: line, Fields: fields, RawFieldCount: len(row)})
	}
	return points, nil
}

func detectDelimiter(headerLine string) rune {
	if strings.Contains(headerLine, ";") && !strings.Contains(headerLine, ",") {
		return ';'
	}
	return ','
}

// mapHeader returns, for each column in ml.Columns order, its position in the file.
func mapHeader(header []string) ([]int, error) {
	columns := ml.Columns()
	positions := make([]int, len(columns))
	for i := range positions {
		positions[i] = -1
	}

	var unexpected []string
	for pos, cell := range header {
		name := strings.Trim(cell, " \t\"'")
		matched := false
		for col, column := range columns {
			if !strings.EqualFold(name, column) {
				continue
			}
			if positions[col] != -1 {
				return nil, &DataLoadError{Reason: fmt.Sprintf("header repeats column %q", column)}
			}
			positions[col] = pos
			matched = true
			break
		}
		if !matched {
			unexpected = append(unexpected, name)
		}
	}

	var missing []string
	for col, pos := range positions {
		if pos == -1 {
			missing = append(missing, columns[col])
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		return nil, &DataLoadError{Reason: fmt.Sprintf("header mismatch: missing [%s], unexpected [%s]",
			strings.Join(missing, ", "), strings.Join(unexpected, ", "))}
	}
	return positions, nil
}

// ToRecords converts parsed points into records.
func ToRecords(points []*DataPoint) []ml.Record {
	records := make([]ml.Record, 0, len(points))
	for _, point := range points {
		if len(point.Values) != ml.FeatureCount+1 {
			continue
		}
		var record ml.Record
		copy(record.Features[:], point.Values[:ml.FeatureCount])
		record.Quality = point.Values[ml.FeatureCount]
		record.Line = point.Line
		records = append(records, record)
	}
	return records
}

// PointsFromDataset renders records back into raw points, so a cleaned
// dataset can be fed through the cleaner again.
func PointsFromDataset(ds *ml.Dataset) []*DataPoint {
	points := make([]*DataPoint, ds.Len())
	for i := range points {
		record := ds.Record(i)
		fields := make([]string, 0, ml.FeatureCount+1)
		for _, value := range record.Features {
			fields = append(fields, strconv.FormatFloat(value, 'g', -1, 64))
		}
		fields = append(fields, strconv.FormatFloat(record.Quality, 'g', -1, 64))
		points[i] = &DataPoint{Line: record.Line, Fields: fields, RawFieldCount: len(fields)}
	}
	return points
}
