package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataType(t *testing.T) {
	dt, err := ParseDataType("quote")
	require.NoError(t, err)
	assert.Equal(t, DataTypeQuote, dt)

	_, err = ParseDataType("nonsense")
	assert.Error(t, err)
}

func TestIsListValued(t *testing.T) {
	assert.False(t, DataTypeQuote.IsListValued())
	assert.False(t, DataTypeCompanyInfo.IsListValued())
	assert.False(t, DataTypeFundamentals.IsListValued())
	assert.True(t, DataTypeHistoricalPrices.IsListValued())
	assert.True(t, DataTypeDividends.IsListValued())
	assert.True(t, DataTypeNews.IsListValued())
	assert.True(t, DataTypeOptionsChain.IsListValued())
}

func TestFieldNamesCoverEveryType(t *testing.T) {
	for _, dt := range AllDataTypes() {
		assert.NotEmpty(t, dt.FieldNames(), "data type %s has no declared fields", dt)
	}
}

func TestTemporalFieldForListTypes(t *testing.T) {
	for _, dt := range AllDataTypes() {
		if dt.IsListValued() {
			assert.NotEmpty(t, dt.TemporalField(), "list type %s has no temporal field", dt)
		}
	}
}

func TestNaturalKey(t *testing.T) {
	bar := FieldMap{"date": "2026-08-28", "close": 100.0}
	assert.Equal(t, "2026-08-28", DataTypeHistoricalPrices.NaturalKey(bar))

	div := FieldMap{"ex_date": "2026-02-10", "amount": 0.24}
	assert.Equal(t, "2026-02-10|0.24", DataTypeDividends.NaturalKey(div))

	article := FieldMap{"url": "https://example.com/a", "title": "Apple Rises"}
	assert.Equal(t, "https://example.com/a", DataTypeNews.NaturalKey(article))

	untitled := FieldMap{"title": "  Apple Rises "}
	assert.Equal(t, "apple rises", DataTypeNews.NaturalKey(untitled),
		"without a URL the key falls back to the normalized title")
}

func TestIsPopulated(t *testing.T) {
	assert.False(t, IsPopulated(nil))
	assert.False(t, IsPopulated(""))
	assert.False(t, IsPopulated(0.0))
	assert.False(t, IsPopulated(int64(0)))
	assert.False(t, IsPopulated(false))
	assert.True(t, IsPopulated("USD"))
	assert.True(t, IsPopulated(0.0001))
	assert.True(t, IsPopulated(int64(-5)))
}

func TestFieldMapAccessors(t *testing.T) {
	m := FieldMap{
		"price":  123.45,
		"volume": int64(1000),
		"name":   "Apple Inc.",
		"ratio":  "1.5",
	}
	assert.Equal(t, 123.45, m.FloatField("price"))
	assert.Equal(t, 1.5, m.FloatField("ratio"))
	assert.Equal(t, int64(1000), m.IntField("volume"))
	assert.Equal(t, "Apple Inc.", m.StringField("name"))
	assert.Equal(t, "123.45", m.StringField("price"))
	assert.Equal(t, 0.0, m.FloatField("missing"))
	assert.Equal(t, 4, m.NonNullCount())
}

func TestMergedRecordProvider(t *testing.T) {
	rec := &MergedRecord{ContributingProviders: []string{"alpha", "beta"}}
	assert.Equal(t, "alpha+beta", rec.Provider())

	var nilRec *MergedRecord
	assert.True(t, nilRec.Empty())
	assert.True(t, (&MergedRecord{Fields: FieldMap{"price": 0.0}}).Empty(),
		"zero-only fields count as empty")
}
