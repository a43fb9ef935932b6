package docstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s Store) {
	ctx := context.Background()
	docs := map[string]Document{
		"a": {"ownerId": "u1", "signature": "sig-1", "startAt": "2025-06-01T12:00:00.000Z"},
		"b": {"ownerId": "u1", "signature": "sig-2", "startAt": "2025-05-30T12:00:00.000Z"},
		"c": {"ownerId": "u2", "signature": "sig-1", "startAt": "2025-06-02T12:00:00.000Z"},
	}
	for id, doc := range docs {
		require.NoError(t, s.Put(ctx, "events", id, doc))
	}
}

func ids(snapshots []Snapshot) []string {
	out := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, s.Id)
	}
	return out
}

func TestMemoryStore_Query(t *testing.T) {
	testCases := []struct {
		name    string
		filters []Filter
		orderBy *OrderBy
		want    []string
	}{
		{
			name:    "equality on owner ordered by start",
			filters: []Filter{Where("ownerId", Eq, "u1")},
			orderBy: &OrderBy{Field: "startAt"},
			want:    []string{"b", "a"},
		},
		{
			name:    "signature and owner",
			filters: []Filter{Where("signature", Eq, "sig-1"), Where("ownerId", Eq, "u1")},
			want:    []string{"a"},
		},
		{
			name:    "range on start descending",
			filters: []Filter{Where("startAt", Gte, "2025-06-01T00:00:00.000Z")},
			orderBy: &OrderBy{Field: "startAt", Desc: true},
			want:    []string{"c", "a"},
		},
		{
			name:    "missing field never matches",
			filters: []Filter{Where("familyId", Eq, "")},
			want:    []string{},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewMemoryStore()
			seed(t, s)

			got, err := s.Query(context.Background(), "events", tc.filters, tc.orderBy)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestMemoryStore_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	doc, err := s.Get(ctx, "events", "a")
	require.NoError(t, err)
	assert.Equal(t, "sig-1", doc["signature"])

	// returned documents are copies
	doc["signature"] = "changed"
	again, err := s.Get(ctx, "events", "a")
	require.NoError(t, err)
	assert.Equal(t, "sig-1", again["signature"])

	require.NoError(t, s.Delete(ctx, "events", "a"))
	require.NoError(t, s.Delete(ctx, "events", "a"))
	_, err = s.Get(ctx, "events", "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, s.Count("events"))
}

func TestMemoryStore_FailPuts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.Join(ErrTransient, errors.New("backend down"))
	s.FailPuts(2, boom)

	assert.ErrorIs(t, s.Put(ctx, "events", "x", Document{}), ErrTransient)
	assert.ErrorIs(t, s.Put(ctx, "events", "x", Document{}), ErrTransient)
	assert.NoError(t, s.Put(ctx, "events", "x", Document{}))
	assert.Equal(t, 3, s.PutCalls())
	assert.True(t, IsTransient(boom))
}

func TestMemoryStore_UnsupportedOperator(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Query(context.Background(), "events", []Filter{{Field: "a", Op: "!=", Value: "b"}}, nil)
	assert.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	query, args, err := buildQuery("events",
		[]Filter{Where("ownerId", Eq, "u1"), Where("startAt", Lte, "2025")},
		&OrderBy{Field: "startAt"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT id, body FROM documents WHERE collection = $1`+
		` AND body ->> 'ownerId' = $2 AND body ->> 'startAt' <= $3`+
		` ORDER BY body ->> 'startAt', id`, query)
	assert.Equal(t, []any{"events", "u1", "2025"}, args)
}

func TestBuildQuery_SignatureLookupUsesIndexedExpressions(t *testing.T) {
	query, _, err := buildQuery("events",
		[]Filter{Where("signature", Eq, "sig-abc"), Where("ownerId", Eq, "u1")}, nil)
	require.NoError(t, err)
	assert.Contains(t, query, `body ->> 'signature' = $2`)
	assert.Contains(t, query, `body ->> 'ownerId' = $3`)
	assert.True(t, strings.HasSuffix(query, ` ORDER BY id`))
}

func TestBuildQuery_RejectsInvalidFieldNames(t *testing.T) {
	for _, field := range []string{"", "owner'Id", "a b", "x) OR 1=1 --", "1st"} {
		_, _, err := buildQuery("events", []Filter{Where(field, Eq, "v")}, nil)
		assert.Error(t, err, field)

		_, _, err = buildQuery("events", nil, &OrderBy{Field: field})
		assert.Error(t, err, field)
	}
}

func TestMemoryStore_RejectsInvalidFieldNames(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Query(context.Background(), "events", []Filter{Where("owner'Id", Eq, "u1")}, nil)
	assert.Error(t, err)
}
