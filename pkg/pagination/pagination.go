package pagination

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 50
	// MaxLimit caps how many rows any offset query can request.
	MaxLimit = 100
)

// Page holds offset pagination inputs from controllers or services.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NormalizeLimit enforces the default and maximum limits. A zero def falls
// back to DefaultLimit.
func NormalizeLimit(limit, def int) int {
	if def <= 0 {
		def = DefaultLimit
	}
	if limit <= 0 {
		return min(def, MaxLimit)
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Normalize clamps both fields of the page.
func Normalize(p Page, def int) Page {
	p.Limit = NormalizeLimit(p.Limit, def)
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Next returns the page that follows p.
func (p Page) Next() Page {
	return Page{Limit: p.Limit, Offset: p.Offset + p.Limit}
}
