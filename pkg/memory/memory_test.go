package memory_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/healai/heal/internal/models"
	"github.com/healai/heal/pkg/memory"
)

func TestGetUnseenPatient(t *testing.T) {
	s := memory.NewStore()
	assert.Empty(t, s.Get("nobody"))
}

func TestAppendAddsUserThenAgent(t *testing.T) {
	s := memory.NewStore()

	s.Append("p1", "What treatment is recommended?", "Insulin and diet management")

	turns := s.Get("p1")
	require.Len(t, turns, 2)
	assert.Equal(t, models.ConversationTurn{Role: models.RoleUser, Text: "What treatment is recommended?"}, turns[0])
	assert.Equal(t, models.ConversationTurn{Role: models.RoleAgent, Text: "Insulin and diet management"}, turns[1])
}

func TestAppendPreservesOrderAndIsolation(t *testing.T) {
	s := memory.NewStore()

	s.Append("p1", "Q1", "A1")
	s.Append("p2", "other Q", "other A")
	s.Append("p1", "Q2", "A2")

	turns := s.Get("p1")
	require.Len(t, turns, 4)
	assert.Equal(t, "Q1", turns[0].Text)
	assert.Equal(t, "A1", turns[1].Text)
	assert.Equal(t, "Q2", turns[2].Text)
	assert.Equal(t, "A2", turns[3].Text)

	assert.Len(t, s.Get("p2"), 2)
}

func TestGetReturnsCopy(t *testing.T) {
	s := memory.NewStore()
	s.Append("p1", "Q", "A")

	turns := s.Get("p1")
	turns[0].Text = "mutated"

	assert.Equal(t, "Q", s.Get("p1")[0].Text)
}

func TestConcurrentAppendsKeepPairsAdjacent(t *testing.T) {
	s := memory.NewStore()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append("shared", fmt.Sprintf("Q%d", i), fmt.Sprintf("A%d", i))
		}(i)
	}
	wg.Wait()

	turns := s.Get("shared")
	require.Len(t, turns, workers*2)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, models.RoleUser, turns[i].Role)
		assert.Equal(t, models.RoleAgent, turns[i+1].Role)
		// Each answer must immediately follow its own question.
		assert.Equal(t, turns[i].Text[1:], turns[i+1].Text[1:])
	}
}
