package mounterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs_MatchesKindSentinels(t *testing.T) {
	err := Conflict("claim", CodeDuplicateName, "name %q already used", "Thunder")

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, &Error{Code: CodeDuplicateName}))
	assert.False(t, errors.Is(err, &Error{Code: CodeAlreadyRiding}))
}

func TestErrorIs_ThroughWrapping(t *testing.T) {
	inner := NotFound("summon", CodeNotFound, "no mount %q", "Storm")
	wrapped := fmt.Errorf("command: %w", inner)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
}

func TestErrorString(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistence("store", cause)

	require.Equal(t, "store: persistence [STORE_FAILED]: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf_ForeignError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Validation("claim", CodeNameTooShort, "too short"), true},
		{Protection("store", "not yours"), true},
		{Conflict("summon", CodeAlreadyActive, ""), true},
		{NotFound("release", CodeNotFound, ""), true},
		{Persistence("store", errors.New("io")), false},
		{Serialization("decode", errors.New("bad")), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Terminal(tc.err), tc.err.Error())
	}
}

func TestBuilder_DetailWithoutArgsKeepsPercent(t *testing.T) {
	err := New(KindValidation, CodeNameInvalid).Detail("100% invalid").Build()
	assert.Equal(t, "100% invalid", err.Detail)
}

func TestIsKnownCode(t *testing.T) {
	assert.True(t, IsKnownCode(CodeDuplicateName))
	assert.True(t, IsKnownCode(CodeShuttingDown))
	assert.False(t, IsKnownCode("E_NOT_DEFINED"))
}
