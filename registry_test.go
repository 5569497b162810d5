package lowkiq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifnotnil/lowkiq/internal/signalpipe"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	noop := func() error { return nil }

	require.NoError(t, r.Register(signalpipe.TokenTERM, noop))
	require.NoError(t, r.Register(signalpipe.TokenINT, noop))

	var dup *DuplicateActionError
	require.ErrorAs(t, r.Register(signalpipe.TokenINT, noop), &dup)
	assert.Equal(t, signalpipe.TokenINT, dup.Token)

	assert.ErrorIs(t, r.Register(signalpipe.TokenTTIN, nil), ErrNilAction)

	r.Seal()
	assert.ErrorIs(t, r.Register(signalpipe.TokenTTIN, noop), ErrRegistrySealed)

	assert.Equal(t, []signalpipe.Token{signalpipe.TokenINT, signalpipe.TokenTERM}, r.Tokens())
}

func TestRegistryDispatch(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	r := NewRegistry()
	require.NoError(t, r.Register(signalpipe.TokenINT, func() error { calls++; return nil }))
	require.NoError(t, r.Register(signalpipe.TokenTERM, func() error { return boom }))
	require.NoError(t, r.Register(signalpipe.TokenTTIN, func() error { panic("dump exploded") }))
	r.Seal()

	tests := map[string]struct {
		token       signalpipe.Token
		handled     bool
		errorAssert assert.ErrorAssertionFunc
	}{
		"ok":      {token: signalpipe.TokenINT, handled: true, errorAssert: assert.NoError},
		"error":   {token: signalpipe.TokenTERM, handled: true, errorAssert: errorIs(boom)},
		"unknown": {token: signalpipe.Token("USR1"), handled: false, errorAssert: assert.NoError},
		"panic": {token: signalpipe.TokenTTIN, handled: true, errorAssert: func(t assert.TestingT, err error, _ ...interface{}) bool {
			var perr *ActionPanicError
			return assert.ErrorAs(t, err, &perr) && assert.Equal(t, "dump exploded", perr.Value)
		}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			handled, err := r.Dispatch(tc.token)
			assert.Equal(t, tc.handled, handled)
			tc.errorAssert(t, err)
		})
	}

	assert.Equal(t, 1, calls)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitStartupFailure, ExitCode(&StartupError{Stage: "start worker server", Err: errors.New("x")}))
	assert.Equal(t, ExitStartupFailure, ExitCode(errors.New("anything else")))
}

func TestStartupErrorMessage(t *testing.T) {
	err := &StartupError{Stage: "build worker server", Err: errors.New("bad url")}
	assert.Equal(t, "startup failed: build worker server: bad url", err.Error())
}

func errorIs(target error) assert.ErrorAssertionFunc {
	return func(t assert.TestingT, err error, _ ...interface{}) bool {
		return assert.ErrorIs(t, err, target)
	}
}
