package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
)

func newTransformer(t *testing.T) *Transformer {
	t.Helper()
	registry, err := config.LoadRegistry("")
	require.NoError(t, err)
	return New(registry, zap.NewNop())
}

const channelCSV = "Channel,Spend,Impressions,CPM,Reach %,Internal Id\n" +
	"CTV,\"120,500\",\"8,400,100\",14.35,57.03,x-1\n" +
	"\"Display, Programmatic\",\"45,000\",\"2,100,000\",21.43,12.50,x-2\n"

func TestBuildViewConfigs(t *testing.T) {
	tr := newTransformer(t)

	reqs, err := tr.BuildViewConfigs("POLITICAL_SNAPSHOT", map[string]string{
		"CHANNEL": "CTV",
		"BOGUS":   "ignored", // no binding configured — dropped with a warning
	})
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	// Catalog order is preserved.
	assert.Equal(t, "TOTAL_SPEND", reqs[0].ViewKey)
	assert.Equal(t, "TOTAL_IMPRESSIONS", reqs[1].ViewKey)
	assert.Equal(t, "CHANNEL_DATA", reqs[2].ViewKey)
	assert.Equal(t, "Channel Performance", reqs[2].ViewName)

	// Only the supplied, bound filter appears; START_DATE/END_DATE were
	// not submitted and are omitted.
	for _, r := range reqs {
		assert.Equal(t, map[string]string{"vf_Channel": "CTV"}, r.FilterParams)
	}
}

func TestBuildViewConfigsUnknownUseCase(t *testing.T) {
	tr := newTransformer(t)
	_, err := tr.BuildViewConfigs("NOPE", nil)
	assert.ErrorIs(t, err, config.ErrUseCaseNotFound)
}

func TestTransformFlagCard(t *testing.T) {
	tr := newTransformer(t)

	data, err := tr.Transform("POLITICAL_SNAPSHOT", "TOTAL_SPEND", "Total Spend\n\"1,234,567\"\n")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, config.ViewTypeFlagCard, data.Type)
	require.NotNil(t, data.Flag)
	assert.Equal(t, "totalSpend", data.Flag.Field)
	// Comma grouping is stripped so downstream numeric parsing works.
	assert.Equal(t, "1234567", data.Flag.Value)
	assert.Equal(t, config.FormatCurrency, data.Flag.Format)
}

func TestTransformTable(t *testing.T) {
	tr := newTransformer(t)

	data, err := tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", channelCSV)
	require.NoError(t, err)
	require.NotNil(t, data)
	require.NotNil(t, data.Table)

	// Only needed columns appear, in schema order. "Internal Id" is
	// declared needed=false and must not leak through.
	fields := make([]string, len(data.Table.Headers))
	for i, h := range data.Table.Headers {
		fields[i] = h.Field
	}
	assert.Equal(t, []string{"channel", "spend", "impressions", "cpm", "reachPct"}, fields)

	require.Len(t, data.Table.Rows, 2)
	for _, row := range data.Table.Rows {
		assert.Len(t, row, len(data.Table.Headers))
	}

	// RFC 4180: quoted field with an embedded comma survives as one cell;
	// numeric cells lose grouping, string cells keep punctuation.
	assert.Equal(t, "CTV", data.Table.Rows[0][0].Value)
	assert.Equal(t, "120500", data.Table.Rows[0][1].Value)
	assert.Equal(t, "Display, Programmatic", data.Table.Rows[1][0].Value)
	assert.Equal(t, "2100000", data.Table.Rows[1][2].Value)
}

func TestTransformQuotingEdgeCases(t *testing.T) {
	tr := newTransformer(t)

	// Doubled quotes and an embedded newline inside a quoted field.
	payload := "Channel,Spend,Impressions,CPM,Reach %\n" +
		"\"He said \"\"go\"\"\nnow\",\"1,000\",\"5\",1.00,2.00\n"

	data, err := tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", payload)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "He said \"go\"\nnow", data.Table.Rows[0][0].Value)
}

func TestTransformCsvReorderedColumns(t *testing.T) {
	tr := newTransformer(t)

	// The CSV arrives with columns shuffled; projection is by name and
	// output order still follows the schema.
	payload := "CPM,Channel,Reach %,Impressions,Spend\n" +
		"14.35,CTV,57.03,\"8,400,100\",\"120,500\"\n"

	data, err := tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", payload)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "CTV", data.Table.Rows[0][0].Value)
	assert.Equal(t, "120500", data.Table.Rows[0][1].Value)
	assert.Equal(t, "14.35", data.Table.Rows[0][3].Value)
}

func TestTransformMissingColumnSkipped(t *testing.T) {
	tr := newTransformer(t)

	// No CPM column in the payload: the schema entry is skipped, the rest
	// of the table still comes through.
	payload := "Channel,Spend,Impressions,Reach %\nCTV,\"1,000\",\"5,000\",10.00\n"

	data, err := tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", payload)
	require.NoError(t, err)
	require.NotNil(t, data)

	fields := make([]string, len(data.Table.Headers))
	for i, h := range data.Table.Headers {
		fields[i] = h.Field
	}
	assert.Equal(t, []string{"channel", "spend", "impressions", "reachPct"}, fields)
}

func TestTransformDropsAllEmptyRows(t *testing.T) {
	tr := newTransformer(t)

	payload := "Channel,Spend,Impressions,CPM,Reach %\n" +
		",,,,\n" +
		"CTV,\"1,000\",\"5\",1.00,2.00\n" +
		"   ,,,,\n"

	data, err := tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", payload)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Len(t, data.Table.Rows, 1)
}

func TestTransformNoDataRowsReturnsNil(t *testing.T) {
	tr := newTransformer(t)

	data, err := tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", "Channel,Spend,Impressions,CPM,Reach %\n")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestTransformErrors(t *testing.T) {
	tr := newTransformer(t)

	_, err := tr.Transform("POLITICAL_SNAPSHOT", "UNKNOWN_VIEW", "A\n1\n")
	assert.ErrorIs(t, err, ErrViewConfigMissing)

	_, err = tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", "")
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestTransformIsDeterministic(t *testing.T) {
	tr := newTransformer(t)

	first, err := tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", channelCSV)
	require.NoError(t, err)
	second, err := tr.Transform("POLITICAL_SNAPSHOT", "CHANNEL_DATA", channelCSV)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTransformAllExcludesFailures(t *testing.T) {
	tr := newTransformer(t)

	out := tr.TransformAll("POLITICAL_SNAPSHOT", map[string]string{
		"TOTAL_SPEND":  "Total Spend\n\"9,000\"\n",
		"CHANNEL_DATA": "", // no header — excluded
	})
	require.Len(t, out, 1)
	assert.Equal(t, "9000", out["TOTAL_SPEND"].Flag.Value)
}
