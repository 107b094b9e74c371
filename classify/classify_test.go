package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassify_Statuses(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{429, CategoryRateLimit},
		{401, CategoryAuth},
		{403, CategoryAuth},
		{400, CategoryValidation},
		{422, CategoryValidation},
		{404, CategoryPermanent},
		{409, CategoryPermanent},
		{410, CategoryPermanent},
		{502, CategoryDependency},
		{503, CategoryDependency},
		{504, CategoryTimeout},
		{500, CategoryTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			got := Classify(NewHTTPError(tt.status, ""))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_WrappedHTTPError(t *testing.T) {
	err := fmt.Errorf("fetch issue: %w", NewHTTPError(401, "bad credentials"))
	assert.Equal(t, CategoryAuth, Classify(err))
}

func TestClassify_TypedSignals(t *testing.T) {
	assert.Equal(t, CategoryTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, CategoryTimeout, Classify(fmt.Errorf("call: %w", context.DeadlineExceeded)))

	var netErr net.Error = &fakeNetError{timeout: true}
	assert.Equal(t, CategoryTimeout, Classify(netErr))
	netErr = &fakeNetError{timeout: false}
	assert.Equal(t, CategoryDependency, Classify(netErr))

	assert.Equal(t, CategoryPermanent, Classify(Fatal(errors.New("anything"))))
	assert.Equal(t, CategoryTransient, Classify(Transient(errors.New("anything"))))
	assert.Equal(t, CategoryValidation, Classify(Validation(errors.New("anything"))))
}

func TestClassify_MessageShapes(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"API rate limit exceeded", CategoryRateLimit},
		{"dial tcp: connection refused", CategoryDependency},
		{"read: connection reset by peer", CategoryDependency},
		{"request timed out", CategoryTimeout},
		{"401 unauthorized", CategoryAuth},
		{"schema validation failed", CategoryValidation},
		{"resource not found", CategoryPermanent},
		{"something inexplicable", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.msg)))
		})
	}
}

func TestDisposition(t *testing.T) {
	assert.Equal(t, DispositionTransient, CategoryTransient.Disposition())
	assert.Equal(t, DispositionTransient, CategoryRateLimit.Disposition())
	assert.Equal(t, DispositionTransient, CategoryDependency.Disposition())
	assert.Equal(t, DispositionTransient, CategoryTimeout.Disposition())
	assert.Equal(t, DispositionDeterministic, CategoryAuth.Disposition())
	assert.Equal(t, DispositionDeterministic, CategoryValidation.Disposition())
	assert.Equal(t, DispositionDeterministic, CategoryPermanent.Disposition())
	assert.Equal(t, DispositionUnknown, CategoryUnknown.Disposition())
}

func TestRetriable(t *testing.T) {
	assert.True(t, CategoryTransient.Retriable())
	assert.True(t, CategoryUnknown.Retriable())
	assert.False(t, CategoryAuth.Retriable())
	assert.False(t, CategoryValidation.Retriable())
}

func TestWrappers_Unwrap(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, errors.Is(Transient(base), base))
	assert.True(t, errors.Is(Fatal(base), base))
	assert.True(t, errors.Is(Validation(base), base))
	assert.True(t, IsTransient(fmt.Errorf("outer: %w", Transient(base))))
	assert.True(t, IsFatal(fmt.Errorf("outer: %w", Fatal(base))))
	assert.False(t, IsFatal(Transient(base)))
}
