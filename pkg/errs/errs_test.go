package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	type scenario struct {
		err      error
		expected Kind
	}

	scenarios := []scenario{
		{New(KindQuotaExceeded, "over quota"), KindQuotaExceeded},
		{Wrap(KindServiceUnavailable, fmt.Errorf("connection refused"), "metadata service unreachable"), KindServiceUnavailable},
		{fmt.Errorf("plain error"), KindInternal},
		{fmt.Errorf("wrapped: %w", New(KindNotFound, "gone")), KindNotFound},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, KindOf(s.err))
	}
}

func TestHasKind(t *testing.T) {
	err := Wrap(KindPortInUse, fmt.Errorf("bind failed"), "creating instance")
	assert.True(t, HasKind(err, KindPortInUse))
	assert.False(t, HasKind(err, KindNameInUse))
	assert.False(t, HasKind(fmt.Errorf("plain"), KindPortInUse))
}

func TestWrapNilCause(t *testing.T) {
	assert.NoError(t, Wrap(KindInternal, nil, "nothing happened"))
	assert.NoError(t, WrapError(nil))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(KindInternal, fmt.Errorf("boom"), "registering instance")
	assert.EqualValues(t, "registering instance: boom", err.Error())
}
