// Package embedding implements the Embedding Service: render a company
// record to a canonical text form and embed it into a fixed-dimension
// dense vector.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/AntoineDubuc/theodore/internal/model"
	"github.com/AntoineDubuc/theodore/pkg/embeddings"
)

// Service implements embed(record) -> vector[D].
type Service struct {
	client    embeddings.Client
	dimension int
}

// NewService builds a Service. dimension is the vector width the configured
// provider/model produces; Embed rejects responses of any other width.
func NewService(client embeddings.Client, dimension int) *Service {
	return &Service{client: client, dimension: dimension}
}

// Dimension returns the configured vector width.
func (s *Service) Dimension() int { return s.dimension }

// Embed renders record to its canonical text and embeds it. The returned
// vector has exactly the configured dimension and only finite entries.
func (s *Service) Embed(ctx context.Context, record *model.CompanyRecord) ([]float32, error) {
	text := CanonicalText(record)
	if text == "" {
		return nil, eris.New("embedding: record renders to empty canonical text")
	}

	vectors, err := s.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, eris.Wrap(err, "embedding: embed record")
	}
	if len(vectors) != 1 {
		return nil, eris.Errorf("embedding: expected 1 vector, got %d", len(vectors))
	}

	vec := vectors[0]
	if len(vec) != s.dimension {
		return nil, eris.Errorf("embedding: provider returned dimension %d, want %d", len(vec), s.dimension)
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, eris.Errorf("embedding: non-finite entry at index %d", i)
		}
	}

	return vec, nil
}

// CanonicalText concatenates labelled record fields in a fixed order.
// Absent fields contribute nothing, so two records with the same populated
// fields always render identically.
func CanonicalText(record *model.CompanyRecord) string {
	var b strings.Builder

	appendField := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}

	appendField("Company", record.Name)
	appendField("Website", record.Website)
	appendField("Industry", record.Industry)
	appendField("Business model", record.BusinessModel)
	appendField("Target market", record.TargetMarket)
	appendField("Company size", record.CompanySize)
	appendField("Description", record.CompanyDescription)
	appendField("Value proposition", record.ValueProposition)
	appendField("Key services", strings.Join(record.KeyServices, ", "))
	appendField("Tech stack", strings.Join(record.TechStack, ", "))
	appendField("Location", record.Location)
	if record.FoundingYear > 0 {
		appendField("Founded", fmt.Sprintf("%d", record.FoundingYear))
	}
	appendField("Summary", record.AISummary)

	return strings.TrimSpace(b.String())
}
