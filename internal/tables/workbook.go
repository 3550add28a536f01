package tables

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/grandcru/winematch/internal/model"
)

// WorkbookSheets is the sheet order of the review workbook.
var WorkbookSheets = []model.Decision{
	model.DecisionNeedsReview,
	model.DecisionUnmatched,
	model.DecisionAutoAccept,
	model.DecisionNoProvider,
}

// WriteReviewWorkbook writes the review queue as an .xlsx file with one
// sheet per decision. Every sheet carries the header row, rows keep their
// queue order.
func WriteReviewWorkbook(path string, rows []model.ReviewRow) error {
	header, err := csvutil.Header(model.ReviewRow{}, "csv")
	if err != nil {
		return eris.Wrap(err, "xlsx: review header")
	}

	f := xlsx.NewFile()
	sheets := make(map[model.Decision]*xlsx.Sheet, len(WorkbookSheets))
	for _, d := range WorkbookSheets {
		sheet, err := f.AddSheet(string(d))
		if err != nil {
			return eris.Wrapf(err, "xlsx: add sheet %s", d)
		}
		addRow(sheet, header)
		sheets[d] = sheet
	}

	for _, r := range rows {
		sheet, ok := sheets[r.Decision]
		if !ok {
			continue
		}
		addRow(sheet, reviewCells(r))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "xlsx: create dir for %s", path)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func reviewCells(r model.ReviewRow) []string {
	return []string{
		r.WineName,
		r.Year,
		r.Producer,
		r.Label,
		r.Color,
		r.Query1,
		r.Query2,
		r.Query3,
		r.SearchURL,
		strconv.Itoa(r.CandidateCount),
		r.BestScore,
		r.SecondScore,
		r.BestTitle,
		r.BestURL,
		r.BestProvider,
		r.BestQuery,
		string(r.Decision),
		r.Reason,
	}
}
