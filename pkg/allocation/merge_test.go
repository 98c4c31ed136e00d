package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, CaseContinuing, Classify(true, true, false))
	assert.Equal(t, CaseContinuing, Classify(true, true, true))
	assert.Equal(t, CaseAdded, Classify(false, true, false))
	assert.Equal(t, CaseCeasedActive, Classify(true, false, true))
	assert.Equal(t, CaseCeasedInactive, Classify(true, false, false))
}

func TestMergeRealtime(t *testing.T) {
	previous := NewTable()
	previous.Add(date("2024-01-01"), "A", 5)
	previous.Add(date("2024-02-01"), "A", 3)
	previous.Add(date("2024-01-01"), "B", 2)
	previous.Add(date("2024-01-01"), "C", 4)
	previous.Add(date("2024-01-01"), "D", 6)

	current := NewTable()
	current.Add(date("2024-02-15"), "A", 2)
	current.Add(date("2024-03-01"), "A", 7)
	current.Add(date("2024-03-01"), "B", 1)
	current.Add(date("2024-03-01"), "E", 4)

	merged := MergeRealtime(previous, current, 2, map[string]bool{"C": true})

	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, merged.Strategies())

	// continuing: history kept, latest scaled
	assert.Equal(t, 5.0, get(t, merged, "2024-01-15", "A"))
	assert.Equal(t, 3.0, get(t, merged, "2024-02-20", "A"))
	assert.Equal(t, 14.0, get(t, merged, "2024-03-01", "A"))

	// continuing placeholder is never scaled
	assert.Equal(t, 2.0, get(t, merged, "2024-02-01", "B"))
	assert.Equal(t, 1.0, get(t, merged, "2024-03-01", "B"))

	// ceased but still active carries its previous value
	assert.Equal(t, 4.0, get(t, merged, "2024-03-01", "C"))

	// ceased and inactive is zeroed
	assert.Equal(t, 6.0, get(t, merged, "2024-02-01", "D"))
	assert.Equal(t, 0.0, get(t, merged, "2024-03-01", "D"))

	// added: zero at every historical date, then the scaled value
	entries, err := merged.Entries("E")
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 0.0, get(t, merged, "2024-01-01", "E"))
	assert.Equal(t, 0.0, get(t, merged, "2024-02-01", "E"))
	assert.Equal(t, 8.0, get(t, merged, "2024-03-01", "E"))
}
