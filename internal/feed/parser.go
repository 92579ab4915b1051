package feed

import (
	"encoding/base64"
	"encoding/xml"
	"log/slog"
	"strings"
	"time"

	"github.com/jobradar/importer/internal/importer/domain"
)

// fallbackIDLength bounds the synthesized external id.
const fallbackIDLength = 50

// dateLayouts are tried in order when parsing feed dates. RSS feeds mostly
// use RFC1123 variants, Atom uses RFC3339.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// xmlField is one child element of a feed item. Chardata covers the common
// case; Href covers Atom-style <link href="..."/> elements whose value
// lives in an attribute.
type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
	Href    string `xml:"href,attr"`
}

// xmlItem captures every child element of an <item> or <entry> so the
// extraction policy can try arbitrary source-specific keys.
type xmlItem struct {
	Fields []xmlField `xml:",any"`
}

type rssDoc struct {
	XMLName xml.Name  `xml:"rss"`
	Items   []xmlItem `xml:"channel>item"`
}

type atomDoc struct {
	XMLName xml.Name  `xml:"feed"`
	Entries []xmlItem `xml:"entry"`
}

// Parser extracts canonical job records from raw feed payloads.
type Parser struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewParser creates a Parser. The current time is used as the fallback for
// absent or unparsable publish dates.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{
		logger: logger,
		now:    time.Now,
	}
}

// Parse determines the feed dialect and extracts job records. Malformed or
// unsupported payloads yield an empty slice and a logged error, never a
// returned one: a single bad feed must not abort a multi-feed run.
func (p *Parser) Parse(payload []byte, sourceURL string) []domain.JobRecord {
	var rss rssDoc
	if err := xml.Unmarshal(payload, &rss); err == nil {
		return p.extractAll(rss.Items, sourceURL, rssFieldMap)
	}

	var atom atomDoc
	if err := xml.Unmarshal(payload, &atom); err == nil {
		return p.extractAll(atom.Entries, sourceURL, atomFieldMap)
	}

	p.logger.Error("Unsupported or malformed feed structure",
		slog.String("url", sourceURL),
	)
	return nil
}

// fieldMap lists the ordered candidate source keys per canonical field.
type fieldMap struct {
	externalID  []string
	title       []string
	description []string
	company     []string
	location    []string
	jobType     []string
	category    []string
	salary      []string
	applyURL    []string
	date        []string
}

var rssFieldMap = fieldMap{
	externalID:  []string{"guid", "link"},
	title:       []string{"title"},
	description: []string{"description"},
	company:     []string{"company", "creator"}, // creator covers dc:creator
	location:    []string{"location", "jobLocation"},
	jobType:     []string{"jobType", "type"},
	category:    []string{"category"},
	salary:      []string{"salary"},
	applyURL:    []string{"link", "url"},
	date:        []string{"pubDate", "publishedDate"},
}

var atomFieldMap = fieldMap{
	externalID:  []string{"id"},
	title:       []string{"title"},
	description: []string{"content", "summary"},
	company:     []string{"author"},
	location:    []string{"location"},
	applyURL:    []string{"link"},
	date:        []string{"published", "updated"},
}

func (p *Parser) extractAll(items []xmlItem, sourceURL string, fm fieldMap) []domain.JobRecord {
	records := make([]domain.JobRecord, 0, len(items))
	for i := range items {
		records = append(records, p.extract(&items[i], sourceURL, fm))
	}
	return records
}

// extract builds one record. Validation of required fields is deferred to
// the upsert worker, so partial records are emitted as-is.
func (p *Parser) extract(item *xmlItem, sourceURL string, fm fieldMap) domain.JobRecord {
	rec := domain.JobRecord{
		SourceURL:   sourceURL,
		Title:       firstValue(item, fm.title),
		Description: firstValue(item, fm.description),
		Company:     firstValue(item, fm.company),
		Location:    firstValue(item, fm.location),
		JobType:     firstValue(item, fm.jobType),
		Category:    firstValue(item, fm.category),
		Salary:      firstValue(item, fm.salary),
		ApplyURL:    firstValue(item, fm.applyURL),
		RawPayload:  rawPayload(item),
	}

	rec.ExternalID = firstValue(item, fm.externalID)
	if rec.ExternalID == "" {
		rec.ExternalID = fallbackID(rec.Title, rec.ApplyURL)
	}

	rec.PublishedDate = p.parseDate(firstValue(item, fm.date))

	return rec
}

// firstValue tries each candidate key in order and returns the first
// non-empty scalar. An element whose character data is empty but that
// carries an href attribute unwraps to the href.
func firstValue(item *xmlItem, keys []string) string {
	for _, key := range keys {
		for _, f := range item.Fields {
			if !strings.EqualFold(f.XMLName.Local, key) {
				continue
			}
			if v := strings.TrimSpace(f.Value); v != "" {
				return v
			}
			if f.Href != "" {
				return f.Href
			}
		}
	}
	return ""
}

// fallbackID synthesizes a deterministic external id from title and link so
// the same posting re-fetched later maps to the same natural key.
func fallbackID(title, link string) string {
	id := base64.StdEncoding.EncodeToString([]byte(title + "-" + link))
	if len(id) > fallbackIDLength {
		id = id[:fallbackIDLength]
	}
	return id
}

// parseDate tries the known layouts and falls back to the current time.
// Substituting "now" for malformed dates masks stale source data; the
// substitution is logged at debug level.
func (p *Parser) parseDate(value string) time.Time {
	if value == "" {
		return p.now()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	p.logger.Debug("Unparsable feed date, defaulting to now",
		slog.String("value", value),
	)
	return p.now()
}

// rawPayload flattens the item's elements for audit storage. First
// occurrence wins for repeated element names.
func rawPayload(item *xmlItem) map[string]string {
	raw := make(map[string]string, len(item.Fields))
	for _, f := range item.Fields {
		name := f.XMLName.Local
		if _, ok := raw[name]; ok {
			continue
		}
		value := strings.TrimSpace(f.Value)
		if value == "" && f.Href != "" {
			value = f.Href
		}
		raw[name] = value
	}
	return raw
}
