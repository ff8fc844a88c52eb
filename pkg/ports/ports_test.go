package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

func TestCandidatesPreservePoolOrder(t *testing.T) {
	pool := NewPool([]int{31002, 31000, 31001})

	free := pool.Candidates(func(port int) bool { return false })
	assert.EqualValues(t, []int{31002, 31000, 31001}, free)
}

func TestCandidatesSkipUsedPorts(t *testing.T) {
	pool := NewPool([]int{31000, 31001, 31002})
	used := map[int]bool{31000: true, 31002: true}

	free := pool.Candidates(func(port int) bool { return used[port] })
	assert.EqualValues(t, []int{31001}, free)
}

func TestNewPoolDropsDuplicates(t *testing.T) {
	pool := NewPool([]int{31000, 31000, 31001})
	assert.EqualValues(t, 2, pool.Size())
	assert.True(t, pool.Contains(31001))
	assert.False(t, pool.Contains(31002))
}

func TestFirstExhausted(t *testing.T) {
	pool := NewPool([]int{31000, 31001})

	port, err := pool.First(func(port int) bool { return true })
	assert.EqualValues(t, 0, port)
	assert.True(t, errs.HasKind(err, errs.KindExhausted))

	port, err = pool.First(func(port int) bool { return port == 31000 })
	assert.NoError(t, err)
	assert.EqualValues(t, 31001, port)
}
