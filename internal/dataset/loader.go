// Package dataset turns uploaded CSV files into lead frames.
package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/miradorstack/mirador-leads/internal/models"
)

// Defaults for upload limits.
const (
	DefaultMaxRows  = 20000
	DefaultMaxBytes = 50 << 20
)

var (
	// ErrEmptyFile is returned for files without a header or without data rows.
	ErrEmptyFile = errors.New("dataset: file has no data rows")
	// ErrTooManyRows is returned when a file exceeds the configured row limit.
	ErrTooManyRows = errors.New("dataset: too many rows")
	// ErrTooLarge is returned when a file exceeds the configured size limit.
	ErrTooLarge = errors.New("dataset: file too large")
	// ErrMalformed is returned when the content cannot be read as CSV.
	ErrMalformed = errors.New("dataset: malformed csv")
)

// Limits bound accepted uploads. Zero values disable a limit.
type Limits struct {
	MaxRows  int
	MaxBytes int64
}

// DefaultLimits returns the standard upload limits.
func DefaultLimits() Limits {
	return Limits{MaxRows: DefaultMaxRows, MaxBytes: DefaultMaxBytes}
}

// missingTokens are cell values read as absent.
var missingTokens = map[string]struct{}{
	"": {}, "na": {}, "n/a": {}, "nan": {}, "null": {}, "none": {}, "#n/a": {}, "<na>": {},
}

// Fingerprint is the hex SHA-256 of the raw file content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Decode returns the content as UTF-8 text, reinterpreting it as ISO-8859-1 when
// it is not valid UTF-8.
func Decode(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if utf8.Valid(content) {
		return string(content), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrMalformed, err)
	}
	return string(decoded), nil
}

// LoadFile reads and parses a CSV file, returning the frame and the raw bytes.
func LoadFile(path string, limits Limits) (*models.Frame, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if limits.MaxBytes > 0 && info.Size() > limits.MaxBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, info.Size(), limits.MaxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	frame, err := Parse(content, limits)
	if err != nil {
		return nil, nil, err
	}
	return frame, content, nil
}

// Parse reads CSV content into a frame. A column is numeric when every present
// cell parses as a number; otherwise it is categorical.
func Parse(content []byte, limits Limits) (*models.Frame, error) {
	if limits.MaxBytes > 0 && int64(len(content)) > limits.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(content), limits.MaxBytes)
	}
	text, err := Decode(content)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}
	names := uniqueNames(header)

	cells := make([][]string, len(names))
	rows := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformed, rows+2, err)
		}
		if isBlank(record) {
			continue
		}
		rows++
		if limits.MaxRows > 0 && rows > limits.MaxRows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrTooManyRows, limits.MaxRows)
		}
		for i := range names {
			value := ""
			if i < len(record) {
				value = strings.TrimSpace(record[i])
			}
			cells[i] = append(cells[i], value)
		}
	}
	if rows == 0 {
		return nil, ErrEmptyFile
	}

	frame := models.NewFrame(rows)
	for i, name := range names {
		if err := frame.Set(inferColumn(name, cells[i])); err != nil {
			return nil, fmt.Errorf("build column %s: %w", name, err)
		}
	}
	return frame, nil
}

func inferColumn(name string, values []string) *models.Column {
	floats := make([]float64, len(values))
	valid := make([]bool, len(values))
	numeric, present := true, 0
	for i, v := range values {
		if _, missing := missingTokens[strings.ToLower(v)]; missing {
			continue
		}
		present++
		valid[i] = true
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			numeric = false
			continue
		}
		floats[i] = f
	}
	if numeric && present > 0 {
		return &models.Column{Name: name, Kind: models.KindNumeric, Floats: floats, Valid: valid}
	}
	strs := make([]string, len(values))
	for i, v := range values {
		if valid[i] {
			strs[i] = v
		}
	}
	return &models.Column{Name: name, Kind: models.KindCategorical, Strings: strs, Valid: valid}
}

// uniqueNames trims header names, names blank headers by position and suffixes duplicates.
func uniqueNames(header []string) []string {
	seen := make(map[string]int, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n)
		} else {
			seen[name] = 1
		}
		names[i] = name
	}
	return names
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
