package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/siamfx/naga/internal/domain"
)

const sampleCSV = `field_name,page,kind,anchor_label,x,y,width,height,cells
maker_name,1,text,ชื่อผู้ทำรายการ,120,200,180,16,
maker_id_number,1,comb,เลขบัตรประชาชน,120,230,260,18,13
"is_cash,payment_cash",1,checkbox,เงินสด,90,260,10,10,
amount_in_words,2,text,จำนวนเงินตัวอักษร,100,120,300,16,
`

func writeTemplateDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "AMLO-1-01_fields.csv")
	if err := os.WriteFile(csvPath, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "AMLO-1-01.pdf"), []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadFieldMap(t *testing.T) {
	loader := NewLoader(writeTemplateDir(t))

	m, err := loader.Load(domain.ReportAMLOCTR)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	t.Run("comb field", func(t *testing.T) {
		f, ok := m.Resolve("maker_id_number")
		if !ok {
			t.Fatal("maker_id_number not mapped")
		}
		if f.Kind != KindComb || f.Cells != 13 {
			t.Errorf("field = %+v, want comb with 13 cells", f)
		}
	})

	t.Run("alias explosion", func(t *testing.T) {
		a, ok := m.Resolve("is_cash")
		if !ok {
			t.Fatal("is_cash not mapped")
		}
		b, ok := m.Resolve("payment_cash")
		if !ok {
			t.Fatal("payment_cash alias not mapped")
		}
		if a.LogicalKey != "is_cash" || b.LogicalKey != "is_cash" {
			t.Errorf("logical keys = %q / %q, want both is_cash", a.LogicalKey, b.LogicalKey)
		}
		if b.X != a.X || b.Page != a.Page {
			t.Error("alias must share the physical mapping")
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := m.Stats()
		if s.PerPage[1] != 4 || s.PerPage[2] != 1 {
			t.Errorf("per page = %v", s.PerPage)
		}
		if s.PerKind[KindText] != 2 || s.PerKind[KindComb] != 1 || s.PerKind[KindCheckbox] != 2 {
			t.Errorf("per kind = %v", s.PerKind)
		}
	})
}

func TestLoadMemoizes(t *testing.T) {
	dir := writeTemplateDir(t)
	loader := NewLoader(dir)

	first, err := loader.Load(domain.ReportAMLOCTR)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Removing the file must not matter once loaded.
	if err := os.Remove(filepath.Join(dir, "AMLO-1-01_fields.csv")); err != nil {
		t.Fatal(err)
	}
	second, err := loader.Load(domain.ReportAMLOCTR)
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if first != second {
		t.Error("loader must return the memoized map")
	}
}

func TestLoadMissingTemplate(t *testing.T) {
	loader := NewLoader(t.TempDir())

	if _, err := loader.Load(domain.ReportAMLOSTR); !domain.IsKind(err, domain.KindTemplateMissing) {
		t.Errorf("err = %v, want template missing", err)
	}
	if _, err := loader.TemplatePath(domain.ReportAMLOSTR); !domain.IsKind(err, domain.KindTemplateMissing) {
		t.Errorf("err = %v, want template missing", err)
	}
}

func TestParseRejectsBadRows(t *testing.T) {
	cases := []struct {
		name string
		csv  string
	}{
		{"unknown kind", "field_name,page,kind,anchor_label,x,y,width,height,cells\nf,1,blob,lbl,0,0,0,0,\n"},
		{"comb without cells", "field_name,page,kind,anchor_label,x,y,width,height,cells\nf,1,comb,lbl,0,0,0,0,\n"},
		{"bad page", "field_name,page,kind,anchor_label,x,y,width,height,cells\nf,zero,text,lbl,0,0,0,0,\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseFieldMap(domain.ReportAMLOCTR, strings.NewReader(tc.csv)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
