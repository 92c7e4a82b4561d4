// Package grounding turns the citation metadata a model attaches to an
// answer into a normalized, renderable list of web and map chunks.
package grounding

// Web is a search-result citation
type Web struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

// Maps is a map-place citation
type Maps struct {
	URI     string `json:"uri,omitempty"`
	Title   string `json:"title,omitempty"`
	PlaceID string `json:"place_id,omitempty"`
}

// Chunk is a single citation. After normalization exactly one of Web and
// Maps is set.
type Chunk struct {
	Web  *Web  `json:"web,omitempty"`
	Maps *Maps `json:"maps,omitempty"`
}

// Metadata is the citation set carried by a model message
type Metadata struct {
	Chunks           []Chunk  `json:"chunks,omitempty"`
	WebSearchQueries []string `json:"web_search_queries,omitempty"`
	SearchEntryPoint string   `json:"search_entry_point,omitempty"` // rendered HTML snippet
}

// Kind reports which variant a chunk holds: "maps", "web", or "" for none
func (c Chunk) Kind() string {
	switch {
	case c.Maps != nil:
		return "maps"
	case c.Web != nil:
		return "web"
	default:
		return ""
	}
}

// URI returns the link of the populated variant
func (c Chunk) URI() string {
	switch {
	case c.Maps != nil:
		return c.Maps.URI
	case c.Web != nil:
		return c.Web.URI
	default:
		return ""
	}
}

// Label returns the display title, falling back to a generic one
func (c Chunk) Label() string {
	switch {
	case c.Maps != nil:
		if c.Maps.Title != "" {
			return c.Maps.Title
		}
		return "Location"
	case c.Web != nil:
		if c.Web.Title != "" {
			return c.Web.Title
		}
		return "Web Result"
	default:
		return ""
	}
}

// Normalize maps each raw chunk to a Maps chunk, a Web chunk, or nothing.
// Maps wins when both are present. Source order is kept and duplicates are
// not collapsed. Returns nil when raw is nil or nothing renderable is left.
func Normalize(raw *Metadata) *Metadata {
	if raw == nil {
		return nil
	}

	var chunks []Chunk
	for _, c := range raw.Chunks {
		switch {
		case c.Maps != nil:
			m := *c.Maps
			chunks = append(chunks, Chunk{Maps: &m})
		case c.Web != nil:
			w := *c.Web
			chunks = append(chunks, Chunk{Web: &w})
		}
	}

	if len(chunks) == 0 && len(raw.WebSearchQueries) == 0 && raw.SearchEntryPoint == "" {
		return nil
	}

	out := &Metadata{
		Chunks:           chunks,
		SearchEntryPoint: raw.SearchEntryPoint,
	}
	if len(raw.WebSearchQueries) > 0 {
		out.WebSearchQueries = append([]string(nil), raw.WebSearchQueries...)
	}
	return out
}
