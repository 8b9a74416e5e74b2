// Package template loads the per-report CSV field maps that position form
// values on the regulator's pre-printed PDF templates.
package template

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/siamfx/naga/internal/domain"
)

// FieldKind is how a mapped field is physically rendered.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindCheckbox FieldKind = "checkbox"
	KindComb     FieldKind = "comb"
)

// Field is one physical mapping on a template page. Comb fields render one
// character per cell; Cells is zero for text and checkbox fields.
type Field struct {
	Name        string
	LogicalKey  string
	Page        int
	Kind        FieldKind
	AnchorLabel string
	X           float64
	Y           float64
	Width       float64
	Height      float64
	Cells       int
}

// FieldMap is the loaded, immutable mapping for one report type.
type FieldMap struct {
	ReportType domain.ReportType
	Fields     []Field

	byName map[string]*Field
}

// Resolve finds a field by any of its physical names.
func (m *FieldMap) Resolve(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Stats summarizes a field map for coverage checks.
type Stats struct {
	Total   int               `json:"total"`
	PerPage map[int]int       `json:"per_page"`
	PerKind map[FieldKind]int `json:"per_kind"`
}

// Stats counts mapped fields per page and per kind.
func (m *FieldMap) Stats() Stats {
	s := Stats{
		Total:   len(m.Fields),
		PerPage: make(map[int]int),
		PerKind: make(map[FieldKind]int),
	}
	for _, f := range m.Fields {
		s.PerPage[f.Page]++
		s.PerKind[f.Kind]++
	}
	return s
}

// Loader reads field maps from <dir>/<report_type>_fields.csv and memoizes
// them; the cache is the only process-wide state of the PDF pipeline and is
// never invalidated at runtime.
type Loader struct {
	dir string

	mu   sync.Mutex
	maps map[domain.ReportType]*FieldMap
}

// NewLoader creates a loader over a template directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, maps: make(map[domain.ReportType]*FieldMap)}
}

// Load returns the field map for a report type, reading the CSV at most once.
func (l *Loader) Load(reportType domain.ReportType) (*FieldMap, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.maps[reportType]; ok {
		return m, nil
	}

	path := filepath.Join(l.dir, string(reportType)+"_fields.csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrTemplateMissing(reportType)
		}
		return nil, fmt.Errorf("open field map: %w", err)
	}
	defer f.Close()

	m, err := parseFieldMap(reportType, f)
	if err != nil {
		return nil, fmt.Errorf("parse field map %s: %w", path, err)
	}
	l.maps[reportType] = m
	return m, nil
}

// TemplatePath returns the PDF template for a report type, verifying it exists.
func (l *Loader) TemplatePath(reportType domain.ReportType) (string, error) {
	path := filepath.Join(l.dir, string(reportType)+".pdf")
	if _, err := os.Stat(path); err != nil {
		return "", domain.ErrTemplateMissing(reportType)
	}
	return path, nil
}

// parseFieldMap reads the CSV rows. The header is fixed:
// field_name,page,kind,anchor_label,x,y,width,height,cells. A comma-joined
// alias list in field_name explodes to one physical mapping per name, all
// resolving to the first name as logical key.
func parseFieldMap(reportType domain.ReportType, r io.Reader) (*FieldMap, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 9 || header[0] != "field_name" {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	m := &FieldMap{
		ReportType: reportType,
		byName:     make(map[string]*Field),
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		kind := FieldKind(row[2])
		switch kind {
		case KindText, KindCheckbox, KindComb:
		default:
			return nil, fmt.Errorf("line %d: unknown kind %q", line, row[2])
		}

		page, err := strconv.Atoi(row[1])
		if err != nil || page < 1 {
			return nil, fmt.Errorf("line %d: bad page %q", line, row[1])
		}
		nums := make([]float64, 4)
		for i, col := range []string{row[4], row[5], row[6], row[7]} {
			v, err := strconv.ParseFloat(col, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad coordinate %q", line, col)
			}
			nums[i] = v
		}
		cells := 0
		if row[8] != "" {
			if cells, err = strconv.Atoi(row[8]); err != nil {
				return nil, fmt.Errorf("line %d: bad cells %q", line, row[8])
			}
		}
		if kind == KindComb && cells < 1 {
			return nil, fmt.Errorf("line %d: comb field needs cells", line)
		}

		names := strings.Split(row[0], ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		logical := names[0]

		for _, name := range names {
			if name == "" {
				continue
			}
			field := Field{
				Name:        name,
				LogicalKey:  logical,
				Page:        page,
				Kind:        kind,
				AnchorLabel: row[3],
				X:           nums[0],
				Y:           nums[1],
				Width:       nums[2],
				Height:      nums[3],
				Cells:       cells,
			}
			m.Fields = append(m.Fields, field)
		}
	}

	// Index after all appends so pointers survive slice growth.
	for i := range m.Fields {
		m.byName[m.Fields[i].Name] = &m.Fields[i]
	}
	return m, nil
}
