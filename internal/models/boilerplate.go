package models

import "time"

// DomainBoilerplate is the per-(project, domain) fingerprint of cross-page
// repeated blocks, refreshed by BoilerplateEngine.analyze.
type DomainBoilerplate struct {
	ProjectID           string    `json:"project_id"`
	Domain              string    `json:"domain"`
	BoilerplateHashes   []string  `json:"boilerplate_hashes"`
	ThresholdPct        float64   `json:"threshold_pct"`
	MinPages            int       `json:"min_pages"`
	MinBlockChars       int       `json:"min_block_chars"`
	PagesAnalyzed       int       `json:"pages_analyzed"`
	BlocksTotal         int       `json:"blocks_total"`
	BlocksBoilerplate   int       `json:"blocks_boilerplate"`
	BytesRemovedAvg     float64   `json:"bytes_removed_avg"`
	UpdatedAt           time.Time `json:"updated_at"`
}
