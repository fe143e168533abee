// Package feed parses newznab and torznab RSS responses.
package feed

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Item is one parsed feed entry.
type Item struct {
	Title    string
	Link     string
	Size     int64
	Seeders  int
	Category []string
	// Indexer is the backing indexer name reported by Jackett or Prowlarr
	// aggregators.
	Indexer string
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

// Newznab servers answer API errors with a bare <error code=".." description=".."/>.
type apiError struct {
	XMLName     xml.Name `xml:"error"`
	Code        string   `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

type rssItem struct {
	Title           string       `xml:"title"`
	Link            string       `xml:"link"`
	Size            string       `xml:"size"`
	Enclosure       rssEnclosure `xml:"enclosure"`
	Attrs           []rssAttr    `xml:"attr"`
	JackettIndexer  string       `xml:"jackettindexer"`
	ProwlarrIndexer string       `xml:"prowlarrindexer"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length string `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// rssAttr matches both newznab:attr and torznab:attr.
type rssAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Parse decodes a feed. Items without a title or link are skipped.
func Parse(data []byte) ([]Item, error) {
	if err := apiErrorOf(data); err != nil {
		return nil, err
	}

	var feed rssFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Channel.Items))
	for _, raw := range feed.Channel.Items {
		item := Item{
			Title: strings.TrimSpace(raw.Title),
			Link:  strings.TrimSpace(raw.Link),
		}
		if item.Link == "" {
			item.Link = raw.Enclosure.URL
		}
		if item.Title == "" || item.Link == "" {
			continue
		}

		item.Size = parseSize(raw)
		for _, attr := range raw.Attrs {
			switch attr.Name {
			case "seeders":
				item.Seeders, _ = strconv.Atoi(attr.Value)
			case "category":
				item.Category = append(item.Category, attr.Value)
			}
		}

		item.Indexer = strings.TrimSpace(raw.ProwlarrIndexer)
		if item.Indexer == "" {
			item.Indexer = strings.TrimSpace(raw.JackettIndexer)
		}

		items = append(items, item)
	}

	return items, nil
}

// APIError is returned when the server answered with a newznab error
// document instead of a feed.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("newznab error %s: %s", e.Code, e.Description)
}

// IsAuth reports whether the error code is one of the credential errors.
func (e *APIError) IsAuth() bool {
	return e.Code == "100" || e.Code == "101" || e.Code == "102"
}

func apiErrorOf(data []byte) error {
	var e apiError
	if err := xml.Unmarshal(data, &e); err != nil {
		return nil
	}
	if e.Code == "" {
		return nil
	}
	return &APIError{Code: e.Code, Description: e.Description}
}

func parseSize(raw rssItem) int64 {
	if n, err := strconv.ParseInt(strings.TrimSpace(raw.Enclosure.Length), 10, 64); err == nil && n > 0 {
		return n
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(raw.Size), 10, 64); err == nil && n > 0 {
		return n
	}
	for _, attr := range raw.Attrs {
		if attr.Name == "size" {
			if n, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// ContainsAllWords reports whether every whitespace separated word of term
// occurs in title, ignoring case.
func ContainsAllWords(title, term string) bool {
	lower := strings.ToLower(title)
	for _, word := range strings.Fields(term) {
		if !strings.Contains(lower, strings.ToLower(word)) {
			return false
		}
	}
	return true
}
