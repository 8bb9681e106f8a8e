package cache

import (
	"testing"

	"github.com/mohitkumar/loanflow/model"
	"github.com/stretchr/testify/require"
)

func TestDefinitionCache(t *testing.T) {
	ch := NewDefinitionCache()
	_, found := ch.GetDefinition("corporate", 1)
	require.False(t, found)

	ch.SaveDefinition(&model.WorkflowDefinition{Id: "corporate", Version: 1})
	ch.SaveDefinition(&model.WorkflowDefinition{Id: "corporate", Version: 2})

	def, found := ch.GetDefinition("corporate", 2)
	require.True(t, found)
	require.Equal(t, 2, def.Version)
	require.Equal(t, 2, ch.Count())
}
