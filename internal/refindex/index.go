// Package refindex stores embedded reference credentials and answers
// nearest-neighbour queries against them.
package refindex

import (
	"context"
	"math"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credcheck/internal/config"
	"github.com/sells-group/credcheck/internal/model"
)

// Record is one reference entry. Text is the compact JSON of the source
// object and is what the index returns on a hit.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Index is a similarity search index over reference records.
type Index interface {
	Query(ctx context.Context, vector []float32, k int) ([]model.ReferenceMatch, error)
	Upsert(ctx context.Context, records []Record) (int64, error)
	Count(ctx context.Context) (int64, error)
	Migrate(ctx context.Context) error
	Close() error
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Open builds the index selected by cfg.Driver.
func Open(ctx context.Context, cfg config.IndexConfig) (Index, error) {
	table := cfg.Table
	if table == "" {
		table = "reference_records"
	}
	if !tableName.MatchString(table) {
		return nil, eris.Errorf("refindex: invalid table name %q", table)
	}

	switch cfg.Driver {
	case "memory":
		return NewMemory(cfg.Dimensions), nil
	case "sqlite":
		return OpenSQLite(cfg.DatabaseURL, table, cfg.Dimensions)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL, table, cfg.Dimensions)
	default:
		return nil, eris.Errorf("refindex: unknown driver %q", cfg.Driver)
	}
}

func checkQuery(vector []float32, k, dims int) error {
	if k <= 0 {
		return eris.Errorf("refindex: k must be positive, got %d", k)
	}
	if len(vector) == 0 {
		return eris.New("refindex: empty query vector")
	}
	if dims > 0 && len(vector) != dims {
		return eris.Errorf("refindex: query has %d dimensions, index expects %d", len(vector), dims)
	}
	return nil
}

func checkRecords(records []Record, dims int) error {
	for _, r := range records {
		if r.ID == "" {
			return eris.New("refindex: record without id")
		}
		if len(r.Embedding) == 0 {
			return eris.Errorf("refindex: record %s has no embedding", r.ID)
		}
		if dims > 0 && len(r.Embedding) != dims {
			return eris.Errorf("refindex: record %s has %d dimensions, index expects %d", r.ID, len(r.Embedding), dims)
		}
	}
	return nil
}

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topK ranks records by similarity to vector, ties broken by id.
func topK(records []Record, vector []float32, k int) []model.ReferenceMatch {
	matches := make([]model.ReferenceMatch, 0, len(records))
	for _, r := range records {
		matches = append(matches, model.ReferenceMatch{
			ID:    r.ID,
			Text:  r.Text,
			Score: cosine(vector, r.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
