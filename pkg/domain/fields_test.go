package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsKeepInsertionOrder(t *testing.T) {
	f := NewFields()
	f.Set("url", "https://example.org/a")
	f.Set("title", "A title")
	f.Set("Abstract", "text")
	f.Set("title", "Replaced")

	assert.Equal(t, []string{"url", "title", "Abstract"}, f.Keys())
	assert.Equal(t, "Replaced", f.Text("title"))

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"url":"https://example.org/a","title":"Replaced","Abstract":"text"}`, string(data))
}

func TestFieldsMarshalLeavesMarkupUnescaped(t *testing.T) {
	f := NewFields()
	f.Set("Methods", "<b>bold</b> & more")

	data, err := f.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"Methods":"<b>bold</b> & more"}`, string(data))
}

func TestFieldsRoundTripPreservesOrder(t *testing.T) {
	in := []byte(`{"z":"1","a":"2","year":2023,"open_access":true}`)
	f := NewFields()
	require.NoError(t, json.Unmarshal(in, f))

	assert.Equal(t, []string{"z", "a", "year", "open_access"}, f.Keys())
	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestRecordHasContent(t *testing.T) {
	rec := &ExtractedRecord{Fields: NewFields()}
	rec.Fields.Set(FieldURL, "u")
	rec.Fields.Set(FieldExtractedAt, "now")
	assert.False(t, rec.HasContent())

	rec.Fields.Set("title", "T")
	assert.True(t, rec.HasContent())
}

func TestStubYear(t *testing.T) {
	_, ok := ArticleStub{}.Year()
	assert.False(t, ok)
}
