package validators

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
)

func TestParseURLInt64(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "valid", raw: "42", want: 42},
		{name: "missing", raw: "", wantErr: true},
		{name: "zero", raw: "0", wantErr: true},
		{name: "negative", raw: "-3", wantErr: true},
		{name: "not numeric", raw: "abc", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("studentID", tc.raw)
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

			got, err := ParseURLInt64(r, "studentID")
			if tc.wantErr {
				require.Error(t, err)
				typed := pkgerrors.As(err)
				require.NotNil(t, typed)
				assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseQueryInt64(t *testing.T) {
	r := httptest.NewRequest("GET", "/?course_id=10", nil)
	got, err := ParseQueryInt64(r, "course_id")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)

	r = httptest.NewRequest("GET", "/", nil)
	got, err = ParseQueryInt64(r, "course_id")
	require.NoError(t, err)
	assert.Zero(t, got)

	r = httptest.NewRequest("GET", "/?course_id=bogus", nil)
	_, err = ParseQueryInt64(r, "course_id")
	require.Error(t, err)
}

func TestParseQueryIntBounds(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=500", nil)
	_, err := ParseQueryInt(r, "limit", 25, 1, 100)
	require.Error(t, err)

	r = httptest.NewRequest("GET", "/", nil)
	got, err := ParseQueryInt(r, "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, got)
}
