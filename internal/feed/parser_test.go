package feed

import (
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const rssPayload = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>Remote Jobs</title>
    <item>
      <guid>job-1001</guid>
      <title>Senior Backend Engineer</title>
      <description>Build services.</description>
      <dc:creator>Acme Inc</dc:creator>
      <location>Berlin</location>
      <jobType>full-time</jobType>
      <category>engineering</category>
      <category>backend</category>
      <salary>90k</salary>
      <link>https://example.com/jobs/1001</link>
      <pubDate>Mon, 02 Jan 2023 15:04:05 +0000</pubDate>
    </item>
    <item>
      <title>Data Analyst</title>
      <link>https://example.com/jobs/1002</link>
      <pubDate>not a date</pubDate>
    </item>
  </channel>
</rss>`

const atomPayload = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Job Feed</title>
  <entry>
    <id>urn:job:2001</id>
    <title>Product Designer</title>
    <content>Design things.</content>
    <author>Studio Co</author>
    <link href="https://example.com/jobs/2001"/>
    <published>2023-06-15T10:30:00Z</published>
  </entry>
</feed>`

func TestParser_Parse_RSS(t *testing.T) {
	p := NewParser(testLogger())

	records := p.Parse([]byte(rssPayload), "https://example.com/feed")
	require.Len(t, records, 2)

	rec := records[0]
	assert.Equal(t, "job-1001", rec.ExternalID)
	assert.Equal(t, "https://example.com/feed", rec.SourceURL)
	assert.Equal(t, "Senior Backend Engineer", rec.Title)
	assert.Equal(t, "Build services.", rec.Description)
	assert.Equal(t, "Acme Inc", rec.Company)
	assert.Equal(t, "Berlin", rec.Location)
	assert.Equal(t, "full-time", rec.JobType)
	assert.Equal(t, "engineering", rec.Category)
	assert.Equal(t, "90k", rec.Salary)
	assert.Equal(t, "https://example.com/jobs/1001", rec.ApplyURL)

	expectedDate, err := time.Parse(time.RFC1123Z, "Mon, 02 Jan 2023 15:04:05 +0000")
	require.NoError(t, err)
	assert.True(t, rec.PublishedDate.Equal(expectedDate))

	// First occurrence wins for repeated elements in the audit payload.
	assert.Equal(t, "engineering", rec.RawPayload["category"])
	assert.Equal(t, "job-1001", rec.RawPayload["guid"])
}

func TestParser_Parse_Atom(t *testing.T) {
	p := NewParser(testLogger())

	records := p.Parse([]byte(atomPayload), "https://example.com/atom")
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "urn:job:2001", rec.ExternalID)
	assert.Equal(t, "Product Designer", rec.Title)
	assert.Equal(t, "Design things.", rec.Description)
	assert.Equal(t, "Studio Co", rec.Company)

	// Atom links carry the URL in an href attribute.
	assert.Equal(t, "https://example.com/jobs/2001", rec.ApplyURL)

	expectedDate, err := time.Parse(time.RFC3339, "2023-06-15T10:30:00Z")
	require.NoError(t, err)
	assert.True(t, rec.PublishedDate.Equal(expectedDate))
}

func TestParser_Parse_FallbackID(t *testing.T) {
	p := NewParser(testLogger())

	// Second item has no guid, so the id is synthesized from title and link.
	records := p.Parse([]byte(rssPayload), "https://example.com/feed")
	require.Len(t, records, 2)

	rec := records[1]
	want := base64.StdEncoding.EncodeToString([]byte("Data Analyst-https://example.com/jobs/1002"))
	if len(want) > fallbackIDLength {
		want = want[:fallbackIDLength]
	}
	assert.Equal(t, want, rec.ExternalID)
	assert.LessOrEqual(t, len(rec.ExternalID), fallbackIDLength)

	// Re-fetching the same posting must map to the same natural key.
	again := p.Parse([]byte(rssPayload), "https://example.com/feed")
	require.Len(t, again, 2)
	assert.Equal(t, rec.ExternalID, again[1].ExternalID)
}

func TestParser_Parse_DateFallback(t *testing.T) {
	fixed := time.Date(2023, 9, 1, 12, 0, 0, 0, time.UTC)
	p := NewParser(testLogger())
	p.now = func() time.Time { return fixed }

	records := p.Parse([]byte(rssPayload), "https://example.com/feed")
	require.Len(t, records, 2)

	// "not a date" matches no known layout and defaults to now.
	assert.True(t, records[1].PublishedDate.Equal(fixed))
}

func TestParser_Parse_MissingTitleStillEmitted(t *testing.T) {
	payload := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <item>
      <guid>job-3001</guid>
      <description>No title here.</description>
    </item>
  </channel>
</rss>`

	p := NewParser(testLogger())
	records := p.Parse([]byte(payload), "https://example.com/feed")

	// Required-field validation happens in the worker, not the parser.
	require.Len(t, records, 1)
	assert.Equal(t, "job-3001", records[0].ExternalID)
	assert.Empty(t, records[0].Title)
}

func TestParser_Parse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not xml", payload: `{"jobs": []}`},
		{name: "truncated xml", payload: `<rss><channel><item><title>x`},
		{name: "unsupported root", payload: `<jobs><job>x</job></jobs>`},
	}

	p := NewParser(testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := p.Parse([]byte(tt.payload), "https://example.com/feed")
			assert.Empty(t, records)
		})
	}
}

func TestParser_ParseDate_Layouts(t *testing.T) {
	p := NewParser(testLogger())

	tests := []struct {
		value string
		want  time.Time
	}{
		{"Mon, 02 Jan 2023 15:04:05 +0000", time.Date(2023, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"2023-06-15T10:30:00Z", time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC)},
		{"2023-06-15 10:30:00", time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC)},
		{"2023-06-15", time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := p.parseDate(tt.value)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}
