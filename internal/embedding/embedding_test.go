package embedding

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntoineDubuc/theodore/internal/model"
)

type fakeClient struct {
	inputs  []string
	vectors [][]float32
	err     error
}

func (c *fakeClient) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	c.inputs = inputs
	if c.err != nil {
		return nil, c.err
	}
	return c.vectors, nil
}

func testRecord() *model.CompanyRecord {
	return &model.CompanyRecord{
		Name:          "Acme Robotics",
		Website:       "https://acme.test",
		Industry:      "Robotics",
		BusinessModel: "B2B",
		KeyServices:   []string{"Assembly arms", "Vision systems"},
		FoundingYear:  2015,
		AISummary:     "Industrial robotics vendor.",
	}
}

func TestCanonicalTextFixedOrder(t *testing.T) {
	text := CanonicalText(testRecord())

	assert.Contains(t, text, "Company: Acme Robotics")
	assert.Contains(t, text, "Key services: Assembly arms, Vision systems")
	assert.Contains(t, text, "Founded: 2015")
	// Fixed order: name before website before industry.
	assert.Less(t, strings.Index(text, "Company:"), strings.Index(text, "Website:"))
	assert.Less(t, strings.Index(text, "Website:"), strings.Index(text, "Industry:"))
}

func TestCanonicalTextOmitsAbsentFields(t *testing.T) {
	record := &model.CompanyRecord{Name: "Minimal Co"}
	text := CanonicalText(record)

	assert.Equal(t, "Company: Minimal Co", text)
	assert.NotContains(t, text, "Industry")
	assert.NotContains(t, text, "Founded")
}

func TestCanonicalTextDeterministic(t *testing.T) {
	a := CanonicalText(testRecord())
	b := CanonicalText(testRecord())
	assert.Equal(t, a, b)
}

func TestEmbedHappyPath(t *testing.T) {
	client := &fakeClient{vectors: [][]float32{{0.1, 0.2, 0.3}}}
	svc := NewService(client, 3)

	vec, err := svc.Embed(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	require.Len(t, client.inputs, 1)
	assert.Contains(t, client.inputs[0], "Acme Robotics")
}

func TestEmbedDimensionMismatch(t *testing.T) {
	client := &fakeClient{vectors: [][]float32{{0.1, 0.2}}}
	svc := NewService(client, 3)

	_, err := svc.Embed(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbedNonFiniteEntry(t *testing.T) {
	client := &fakeClient{vectors: [][]float32{{0.1, float32(math.NaN()), 0.3}}}
	svc := NewService(client, 3)

	_, err := svc.Embed(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-finite")
}

func TestEmbedEmptyRecord(t *testing.T) {
	client := &fakeClient{vectors: [][]float32{{0.1}}}
	svc := NewService(client, 1)

	_, err := svc.Embed(context.Background(), &model.CompanyRecord{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty canonical text")
}
