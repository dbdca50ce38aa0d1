package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jenn_worker/core/domain"
)

func TestFallbackChoiceEncoding(t *testing.T) {
	c := domain.ModelChoice{Provider: "openrouter", Model: "meta-llama/llama-3.1-70b"}
	assert.Equal(t, "openrouter/meta-llama/llama-3.1-70b", encodeChoice(c))

	got, err := decodeChoice(encodeChoice(c))
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = decodeChoice("no-separator")
	assert.Error(t, err)
}

func TestSyncCursorEntity_ParsesTextWatermark(t *testing.T) {
	c, err := (&syncCursorEntity{MailboxID: 4, LastSeenUID: "1234567890123"}).toDomain()
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890123), c.LastSeenUID)

	c, err = (&syncCursorEntity{MailboxID: 4}).toDomain()
	require.NoError(t, err)
	assert.Zero(t, c.LastSeenUID)

	_, err = (&syncCursorEntity{MailboxID: 4, LastSeenUID: "abc"}).toDomain()
	assert.Error(t, err)
}

func TestRuleEntity_DecodesJSONColumns(t *testing.T) {
	r, err := (&ruleEntity{
		ID:         1,
		Conditions: []byte(`[{"field":"from","operator":"ends_with","value":"@supplier.com"}]`),
		Actions:    []byte(`[{"type":"label","value":"Suppliers"},{"type":"archive"}]`),
	}).toDomain()
	require.NoError(t, err)
	require.Len(t, r.Conditions, 1)
	assert.Equal(t, domain.ConditionFieldFrom, r.Conditions[0].Field)
	require.Len(t, r.Actions, 2)
	assert.Equal(t, domain.ActionArchive, r.Actions[1].Type)
}
