package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/hazyhaar/kozlony/gazette/internal/store"
)

// Table writes one line per document: hash, issue date, new flag and title,
// with the title cut to fit width display columns.
func Table(w io.Writer, docs []*store.Document, width int) error {
	const hashCol, dateCol, newCol = 12, 10, 3
	if width <= 0 {
		width = 100
	}
	titleCol := max(width-hashCol-dateCol-newCol-6, 10)

	header := fmt.Sprintf("%s  %s  %s  %s\n",
		runewidth.FillRight("HASH", hashCol),
		runewidth.FillRight("KIADVA", dateCol),
		runewidth.FillRight("ÚJ", newCol),
		"CÍM")
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for _, d := range docs {
		isNew := ""
		if d.IsNew {
			isNew = "*"
		}
		title := strings.Join(strings.Fields(d.Title), " ")
		line := fmt.Sprintf("%s  %s  %s  %s\n",
			runewidth.FillRight(runewidth.Truncate(d.Hash, hashCol, "…"), hashCol),
			runewidth.FillRight(d.IssueDate.Format(store.DateLayout), dateCol),
			runewidth.FillRight(isNew, newCol),
			runewidth.Truncate(title, titleCol, "…"))
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
