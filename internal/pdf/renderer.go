// Package pdf overlays structured form data onto the regulator's
// pre-printed AMLO templates: Thai text, checkmarks, per-character comb
// cells and captured signature images.
package pdf

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/signintech/gopdf"
	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/template"
)

const (
	fontName = "thai"
	fontSize = 12
)

// Result is the soft-failure outcome of one render. Rendering never raises
// into the transaction flow; callers inspect OK and ErrorKind.
type Result struct {
	OK        bool
	Path      string
	ErrorKind domain.ErrorKind
	Err       error
}

// Request carries everything needed to emit one report PDF.
type Request struct {
	ReportType    domain.ReportType
	ReservationNo string
	Content       map[string]any
	// Signatures are base64 PNG payloads (without the data URL prefix).
	Signatures map[domain.SignatureKind]string
	Date       time.Time
}

// Renderer composes overlay pages on top of imported template pages and
// writes them under <outputDir>/<year>/<month>/.
type Renderer struct {
	loader    *template.Loader
	fontPath  string
	outputDir string
	logger    *slog.Logger
}

// NewRenderer creates a PDF overlay renderer.
func NewRenderer(loader *template.Loader, fontPath, outputDir string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		loader:    loader,
		fontPath:  fontPath,
		outputDir: outputDir,
		logger:    logger.With("component", "pdf"),
	}
}

// Render emits one report PDF. The file lands atomically: it is written to
// a temp file and renamed into place, so a crashed render never leaves a
// half-written artifact at the final path.
func (r *Renderer) Render(req *Request) Result {
	fieldMap, err := r.loader.Load(req.ReportType)
	if err != nil {
		return failure(err)
	}
	templatePath, err := r.loader.TemplatePath(req.ReportType)
	if err != nil {
		return failure(err)
	}

	content := req.Content
	if req.ReportType == domain.ReportAMLOCTR {
		content = withAmountInWords(content)
	}

	doc := &gopdf.GoPdf{}
	doc.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	if err := doc.AddTTFFont(fontName, r.fontPath); err != nil {
		return failure(fmt.Errorf("load font: %w", err))
	}
	if err := doc.SetFont(fontName, "", fontSize); err != nil {
		return failure(fmt.Errorf("set font: %w", err))
	}

	pages := fieldMap.Stats().PerPage
	maxPage := 0
	for p := range pages {
		if p > maxPage {
			maxPage = p
		}
	}

	for page := 1; page <= maxPage; page++ {
		tpl := doc.ImportPage(templatePath, page, "/MediaBox")
		doc.AddPage()
		doc.UseImportedTemplate(tpl, 0, 0, gopdf.PageSizeA4.W, gopdf.PageSizeA4.H)

		for name, value := range content {
			field, ok := fieldMap.Resolve(name)
			if !ok {
				return failure(domain.ErrTemplateFieldUnmapped(name))
			}
			if field.Page != page {
				continue
			}
			if err := r.drawField(doc, field, value); err != nil {
				return failure(err)
			}
		}

		for kind, payload := range req.Signatures {
			field, ok := fieldMap.Resolve("signature_" + string(kind))
			if !ok || field.Page != page {
				continue
			}
			if err := drawSignature(doc, field, payload); err != nil {
				return failure(err)
			}
		}
	}

	path := r.outputPath(req)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure(fmt.Errorf("create output dir: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".render-*")
	if err != nil {
		return failure(fmt.Errorf("create temp: %w", err))
	}
	tmpName := tmp.Name()
	tmp.Close()
	if err := doc.WritePdf(tmpName); err != nil {
		os.Remove(tmpName)
		return failure(fmt.Errorf("write pdf: %w", err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return failure(fmt.Errorf("publish pdf: %w", err))
	}

	r.logger.Info("pdf emitted", "report_type", req.ReportType, "path", path)
	return Result{OK: true, Path: path}
}

// outputPath partitions emitted files as <root>/<year>/<month>/ and names
// them <report_type>_<reservation_no>.pdf.
func (r *Renderer) outputPath(req *Request) string {
	date := req.Date
	if date.IsZero() {
		date = time.Now()
	}
	name := fmt.Sprintf("%s_%s.pdf", req.ReportType, req.ReservationNo)
	return filepath.Join(r.outputDir,
		fmt.Sprintf("%04d", date.Year()),
		fmt.Sprintf("%02d", date.Month()),
		name)
}

func (r *Renderer) drawField(doc *gopdf.GoPdf, field *template.Field, value any) error {
	switch field.Kind {
	case template.KindCheckbox:
		if truthy(value) {
			doc.SetXY(field.X, field.Y)
			return doc.Cell(nil, Checkmark)
		}
		return nil

	case template.KindComb:
		return drawComb(doc, field, renderValue(value))

	default:
		doc.SetXY(field.X, field.Y)
		text := renderValue(value)
		if field.Width > 0 {
			return doc.MultiCell(&gopdf.Rect{W: field.Width, H: field.Height}, text)
		}
		return doc.Cell(nil, text)
	}
}

// drawComb writes one character per cell, left to right.
func drawComb(doc *gopdf.GoPdf, field *template.Field, value string) error {
	cellW := field.Width / float64(field.Cells)
	for i, ch := range combCells(value, field.Cells) {
		doc.SetXY(field.X+float64(i)*cellW+cellW*0.3, field.Y)
		if err := doc.Cell(nil, ch); err != nil {
			return err
		}
	}
	return nil
}

// combCells splits a value into at most cells single-rune strings, one per
// comb cell. Overflow is clipped; a cell never holds more than one rune.
func combCells(value string, cells int) []string {
	runes := []rune(value)
	if len(runes) > cells {
		runes = runes[:cells]
	}
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

func drawSignature(doc *gopdf.GoPdf, field *template.Field, payload string) error {
	img, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.ErrSignatureBadFormat()
	}
	holder, err := gopdf.ImageHolderByBytes(img)
	if err != nil {
		return domain.ErrSignatureBadFormat()
	}
	return doc.ImageByHolder(holder, field.X, field.Y, &gopdf.Rect{W: field.Width, H: field.Height})
}

// withAmountInWords fills the amount_in_words field from the amount when
// the form left it blank.
func withAmountInWords(content map[string]any) map[string]any {
	if v, ok := content["amount_in_words"]; ok && renderValue(v) != "" {
		return content
	}
	amount, ok := content["amount"]
	if !ok {
		return content
	}
	d, ok := toAmount(amount)
	if !ok {
		return content
	}
	out := make(map[string]any, len(content)+1)
	for k, v := range content {
		out[k] = v
	}
	out["amount_in_words"] = BahtText(d)
	return out
}

func toAmount(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case decimal.Decimal:
		return FormatAmount(t)
	case time.Time:
		return FormatThaiDate(t)
	case bool:
		if t {
			return Checkmark
		}
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return v != nil
}

// failure wraps an error into a Result; ErrorKind is empty for failures
// outside the domain taxonomy (font, filesystem).
func failure(err error) Result {
	return Result{OK: false, ErrorKind: domain.KindOf(err), Err: err}
}
