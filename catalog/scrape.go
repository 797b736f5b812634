package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ScrapeSource reads catalog rows by scraping the Kiwix library page. The
// page renders one table with id "zimtable"; each data row carries six cells
// and the last cell holds the four download links.
type ScrapeSource struct {
	// URL of the library page, e.g. "https://library.kiwix.org".
	URL string

	// Client used for the page fetch. Defaults to http.DefaultClient.
	Client *http.Client
}

func (s *ScrapeSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// Rows fetches and parses the library page.
func (s *ScrapeSource) Rows(ctx context.Context) ([]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building catalog request: %w", err)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Msg: fmt.Sprintf("fetching catalog: unexpected status %s", resp.Status)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &Error{Msg: "parsing catalog page", Err: err}
	}
	return parseDocument(doc)
}

func parseDocument(doc *goquery.Document) ([]Row, error) {
	table := doc.Find("table#zimtable")
	if table.Length() == 0 {
		return nil, &Error{Msg: "catalog table not found"}
	}

	var rows []Row
	var parseErr error
	table.Find("tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if tr.Find("th").Length() > 0 {
			// header row
			return true
		}
		row, err := parseTableRow(tr)
		if err != nil {
			parseErr = &Error{Msg: fmt.Sprintf("row %d", i), Err: err}
			return false
		}
		rows = append(rows, row)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return rows, nil
}

func parseTableRow(tr *goquery.Selection) (Row, error) {
	tds := tr.Find("td")
	if tds.Length() != 6 {
		return Row{}, fmt.Errorf("expected 6 cells, got %d", tds.Length())
	}

	// The first cell is "project (comment)"; only the leading token names
	// the project.
	projectFields := strings.Fields(cellText(tds.Eq(0)))
	if len(projectFields) == 0 {
		return Row{}, fmt.Errorf("empty project cell")
	}

	links := tds.Eq(5).Find("a")
	if links.Length() != 4 {
		return Row{}, fmt.Errorf("expected 4 links, got %d", links.Length())
	}
	hrefs := make([]string, 4)
	for i := 0; i < 4; i++ {
		href, ok := links.Eq(i).Attr("href")
		if !ok || href == "" {
			return Row{}, fmt.Errorf("link %d has no href", i)
		}
		hrefs[i] = href
	}

	return Row{
		Project:    projectFields[0],
		Language:   cellText(tds.Eq(1)),
		Flavor:     cellText(tds.Eq(2)),
		Size:       cellText(tds.Eq(3)),
		Created:    cellText(tds.Eq(4)),
		ZimURL:     hrefs[0],
		SHA256URL:  hrefs[1],
		TorrentURL: hrefs[2],
		MagnetURL:  hrefs[3],
	}, nil
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
