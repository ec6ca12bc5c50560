package target

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-leads/internal/models"
)

func frameWith(t *testing.T, cols ...*models.Column) *models.Frame {
	t.Helper()
	f := models.NewFrame(cols[0].Len())
	for _, c := range cols {
		require.NoError(t, f.Set(c))
	}
	return f
}

func TestFindPrefersHintThenAliasOrder(t *testing.T) {
	f := frameWith(t,
		models.NewCategoricalColumn("lead status", []string{"a"}),
		models.NewNumericColumn(" converted ", []float64{1}),
		models.NewNumericColumn("Outcome", []float64{1}),
	)

	name, err := Find(f, "")
	require.NoError(t, err)
	assert.Equal(t, " converted ", name, "Converted precedes Outcome in the alias list")

	name, err = Find(f, "OUTCOME")
	require.NoError(t, err)
	assert.Equal(t, "Outcome", name)
}

func TestFindFallsBackToStems(t *testing.T) {
	f := frameWith(t,
		models.NewNumericColumn("Age", []float64{1}),
		models.NewCategoricalColumn("Marketing Consent", []string{"yes"}),
	)
	name, err := Find(f, "")
	require.NoError(t, err)
	assert.Equal(t, "Marketing Consent", name)
}

func TestFindReportsAvailableColumns(t *testing.T) {
	f := frameWith(t, models.NewNumericColumn("Age", []float64{1}))

	_, err := Find(f, "Bought It")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, []string{"Age"}, nf.Available)
	assert.Equal(t, "Bought It", nf.Attempted[0])
	assert.Len(t, nf.Attempted, len(Aliases)+1)
}

func TestResolveNumericMedianSplit(t *testing.T) {
	f := frameWith(t, models.NewNumericColumn("Conversion_Rate (%)", []float64{1, 5, 3, 9}))
	res, err := Resolve(f, "")
	require.NoError(t, err)
	assert.Equal(t, MethodMedian, res.Method)
	assert.Equal(t, []int{0, 1, 0, 1}, res.Labels)
}

func TestResolveNumericBinaryKeepsPolarity(t *testing.T) {
	f := frameWith(t, models.NewNumericColumn("Converted", []float64{0, 1, 1}))
	res, err := Resolve(f, "")
	require.NoError(t, err)
	assert.Equal(t, MethodBinary, res.Method)
	assert.Equal(t, []int{0, 1, 1}, res.Labels)

	f = frameWith(t, models.NewNumericColumn("Converted", []float64{2, 7, 7}))
	res, err = Resolve(f, "")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1}, res.Labels)
}

func TestResolveCategoricalPositiveClass(t *testing.T) {
	f := frameWith(t, models.NewCategoricalColumn("Status", []string{"Won", "Lost", "", "Open", "Won"}))
	res, err := Resolve(f, "")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3, 4}, res.Rows, "rows without a target are dropped")
	assert.Equal(t, "Won", res.Positive)
	assert.Equal(t, []int{1, 0, 0, 1}, res.Labels)
}

func TestResolveCategoricalDefaultsToSecondLabel(t *testing.T) {
	f := frameWith(t, models.NewCategoricalColumn("Stage", []string{"beta", "alpha", "gamma"}))
	res, err := Resolve(f, "")
	require.NoError(t, err)
	// sorted: alpha, beta, gamma
	assert.Equal(t, "beta", res.Positive)
	assert.Equal(t, []int{1, 0, 0}, res.Labels)
}
