package trace

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, GetTraceID(ctx))

	same, again := Ensure(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, ctx, same)
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithTraceID(ctx, ""))
	assert.Equal(t, "abc", GetTraceID(WithTraceID(ctx, "abc")))
	assert.NotEmpty(t, GetTraceID(WithNewTraceID(ctx)))
	assert.Empty(t, GetTraceID(nil)) //nolint:staticcheck
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/orders/1", nil)
	assert.Empty(t, FromRequest(r))
	r.Header.Set(HeaderTraceID, "trace-1")
	assert.Equal(t, "trace-1", FromRequest(r))
}
