package catalog

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// ParseCollection converts a NASA image library "collection" document into
// catalog items. IDs are assigned sequentially from firstID. Entries without
// a title are skipped.
func ParseCollection(raw string, firstID int) ([]Item, error) {
	if !gjson.Valid(raw) {
		return nil, errMalformed
	}
	entries := gjson.Get(raw, "collection.items")
	if !entries.IsArray() {
		return nil, errors.New("document has no collection.items array")
	}

	var items []Item
	id := firstID
	for _, entry := range entries.Array() {
		data := entry.Get("data.0")
		title := strings.TrimSpace(data.Get("title").String())
		if title == "" {
			continue
		}

		category := strings.TrimSpace(data.Get("keywords.0").String())
		if category == "" {
			category = data.Get("media_type").String()
		}

		published := data.Get("date_created").String()
		if len(published) >= 10 {
			published = published[:10]
		}

		item := Item{
			ID:            id,
			Name:          title,
			Description:   StripHTML(data.Get("description").String()),
			Category:      category,
			PublishedDate: published,
			Status:        "Active",
		}
		for _, link := range entry.Get("links").Array() {
			if link.Get("rel").String() == "preview" {
				href := link.Get("href").String()
				item.MediaURL = &href
				break
			}
		}
		items = append(items, item)
		id++
	}
	return items, nil
}

// StripHTML returns the text content of an HTML fragment with whitespace
// collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
