package scrape

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"xscraper/internal/platform/xapi"
)

var newlineFlattener = strings.NewReplacer("\n", " ", "\r", " ")

// exportCSV renders items as UTF-8 CSV with a BOM so spreadsheet tools
// detect the encoding. Body text is flattened to a single line.
func exportCSV(items []xapi.Post) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})

	w := csv.NewWriter(&buf)
	header := []string{"created_at", "author", "author_id", "post_id", "text", "reposts", "likes", "replies", "url"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, p := range items {
		row := []string{
			p.CreatedAt.Format(time.RFC3339),
			p.Author,
			p.AuthorID,
			p.ID,
			strings.TrimSpace(newlineFlattener.Replace(p.Text)),
			strconv.Itoa(p.Engagement.Reposts),
			strconv.Itoa(p.Engagement.Likes),
			strconv.Itoa(p.Engagement.Replies),
			p.URL,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
