package errors_test

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jababu3/chemprop/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────────────────────
// TestNew
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.CodeInternal, "unexpected failure"},
		{"precondition", errors.CodePrecondition, "depth must be >= 1"},
		{"invalid param", errors.CodeInvalidParam, "batch_size must be positive"},
		{"cache", errors.CodeCacheError, "redis unavailable"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)

			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
		})
	}
}

func TestNew_StackContainsCaller(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.CodeInternal, "test")
	assert.Contains(t, ae.Stack, "errors_test.go")
}

func TestNewf_FormatsMessage(t *testing.T) {
	t.Parallel()

	ae := errors.Newf(errors.CodePrecondition, "depth %d < 1", 0)
	assert.Equal(t, "depth 0 < 1", ae.Message)
}

// ─────────────────────────────────────────────────────────────────────────────
// TestWrap
// ─────────────────────────────────────────────────────────────────────────────

func TestWrap_NilErrReturnsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.Wrap(nil, errors.CodeInternal, "should not matter"))
}

func TestWrap_CauseChainIsPreserved(t *testing.T) {
	t.Parallel()

	root := stderrors.New("connection refused")
	wrapped := errors.Wrap(root, errors.CodeCacheError, "cache read failed")

	require.NotNil(t, wrapped)
	assert.Equal(t, errors.CodeCacheError, wrapped.Code)
	assert.Equal(t, root, wrapped.Cause)
	assert.True(t, stderrors.Is(wrapped, root))
}

func TestWrap_PreservesOriginalCodeWhenCodeUnknown(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.CodeInvalidShape, "bad V_d")
	outer := errors.Wrap(inner, errors.CodeUnknown, "adding context")

	assert.Equal(t, errors.CodeInvalidShape, outer.Code)
}

func TestWrap_OverridesCodeWhenExplicit(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.CodeInvalidShape, "bad V_d")
	outer := errors.Wrap(inner, errors.CodeEncodeFailed, "mini-batch 3")

	assert.Equal(t, errors.CodeEncodeFailed, outer.Code)
	assert.True(t, errors.IsCode(outer, errors.CodeInvalidShape))
}

// ─────────────────────────────────────────────────────────────────────────────
// Error() formatting
// ─────────────────────────────────────────────────────────────────────────────

func TestError_Format(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.CodePrecondition, "empty batch")
	assert.Equal(t, "[MPNN_002] empty batch", ae.Error())

	withDetail := ae.WithDetail("0 graphs")
	assert.Equal(t, "[MPNN_002] empty batch: 0 graphs", withDetail.Error())
	assert.Empty(t, ae.Detail, "WithDetail must not mutate the receiver")
}

func TestWithDetail_NilReceiver(t *testing.T) {
	t.Parallel()

	var ae *errors.AppError
	assert.Nil(t, ae.WithDetail("x"))
	assert.Nil(t, ae.WithCause(stderrors.New("x")))
}

func TestInvalidShape_ReportsBothShapes(t *testing.T) {
	t.Parallel()

	ae := errors.InvalidShape("V_d", []int{5, 3}, []int{5, 4})
	msg := ae.Error()

	assert.Equal(t, errors.CodeInvalidShape, ae.Code)
	assert.True(t, strings.Contains(msg, `"V_d"`))
	assert.True(t, strings.Contains(msg, "[5 3]"))
	assert.True(t, strings.Contains(msg, "[5 4]"))
}

// ─────────────────────────────────────────────────────────────────────────────
// Chain helpers
// ─────────────────────────────────────────────────────────────────────────────

func TestIsCode_WalksFmtWrappedChain(t *testing.T) {
	t.Parallel()

	base := errors.MalformedGraph("b2revb not involutive")
	wrapped := fmt.Errorf("build batch: %w", base)

	assert.True(t, errors.IsCode(wrapped, errors.CodeMalformedGraph))
	assert.False(t, errors.IsCode(wrapped, errors.CodeInvalidShape))
	assert.False(t, errors.IsCode(nil, errors.CodeMalformedGraph))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.CodePrecondition, errors.GetCode(errors.Precondition("x")))
	assert.Equal(t, errors.CodeInternal, errors.GetCode(errors.Internal("x")))
	assert.Equal(t, errors.CodeInvalidParam, errors.GetCode(errors.InvalidParam("x")))
}

func TestIsInputError(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsInputError(errors.CodeInvalidShape))
	assert.True(t, errors.IsInputError(errors.CodePrecondition))
	assert.False(t, errors.IsInputError(errors.CodeCacheError))
	assert.False(t, errors.IsInputError(errors.CodeInternal))
}

func TestModuleForCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "MPNN", errors.ModuleForCode(errors.CodeInvalidShape))
	assert.Equal(t, "COMMON", errors.ModuleForCode(errors.CodeCacheMiss))
	assert.Equal(t, "UNKNOWN", errors.ModuleForCode(errors.ErrorCode("")))
}

func TestDefaultMessageForCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "invalid tensor shape", errors.DefaultMessageForCode(errors.CodeInvalidShape))
	assert.Equal(t, "unknown error", errors.DefaultMessageForCode(errors.ErrorCode("NOPE")))
}
