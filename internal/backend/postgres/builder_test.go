package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorship/internal/apperr"
	"mentorship/internal/backend"
)

func TestBuildSelectWithJoin(t *testing.T) {
	text, args, cols, joinCols, err := buildSelect(backend.TableConnections, backend.Query{
		Columns: []string{"id", "status", "created_at"},
		Filters: []backend.Filter{backend.Eq("mentor_id", "m1"), backend.In("status", "pending", "accepted")},
		Order:   []backend.Order{backend.Desc("created_at")},
		Join:    &backend.Join{Table: backend.TableProfiles, LocalColumn: "student_id", As: "profile", Columns: []string{"full_name", "rating"}},
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT t."id", t."status", t."created_at", j."full_name", j."rating" FROM "connections" AS t`+
			` LEFT JOIN "profiles" AS j ON j."id" = t."student_id"`+
			` WHERE t."mentor_id" = $1 AND t."status" IN ($2, $3) ORDER BY t."created_at" DESC LIMIT $4`,
		text)
	assert.Equal(t, []any{"m1", "pending", "accepted", 10}, args)
	assert.Len(t, cols, 3)
	assert.Len(t, joinCols, 2)
}

func TestBuildSelectOrGroups(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	text, args, _, _, err := buildSelect(backend.TableMessages, backend.Query{
		Columns: []string{"id"},
		Filters: []backend.Filter{
			backend.Or(
				backend.And(backend.Eq("sender_id", "a"), backend.Eq("receiver_id", "b")),
				backend.And(backend.Eq("sender_id", "b"), backend.Eq("receiver_id", "a")),
			),
			backend.Gt("time", since),
			backend.IsNil("read_at"),
		},
		Order: []backend.Order{backend.Asc("time")},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT t."id" FROM "messages" AS t WHERE ((t."sender_id" = $1 AND t."receiver_id" = $2) OR (t."sender_id" = $3 AND t."receiver_id" = $4))`+
			` AND t."time" > $5 AND t."read_at" IS NULL ORDER BY t."time" ASC`,
		text)
	assert.Equal(t, []any{"a", "b", "b", "a", since}, args)
}

func TestBuildSelectEscapesLike(t *testing.T) {
	_, args, _, _, err := buildSelect(backend.TableProfiles, backend.Query{
		Filters: []backend.Filter{backend.ILike("expertise", "50%_go")},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{`%50\%\_go%`}, args)
}

func TestBuildRejectsUnknownIdentifiers(t *testing.T) {
	_, _, _, _, err := buildSelect("pg_user", backend.Query{})
	assert.Error(t, err)

	_, _, _, _, err = buildSelect(backend.TableUsers, backend.Query{Columns: []string{`email"; DROP TABLE users; --`}})
	assert.Error(t, err)

	_, _, err = buildInsert(backend.TableMessages, backend.Record{"bogus": 1})
	assert.Error(t, err)

	_, _, err = buildUpdate(backend.TableConnections, nil, backend.Record{"status": "accepted"})
	assert.Error(t, err)
}

func TestBuildInsertAndUpdate(t *testing.T) {
	text, args, err := buildInsert(backend.TableProfiles, backend.Record{"id": "u1", "credentials": []string{"a.pdf"}})
	require.NoError(t, err)
	assert.Contains(t, text, `INSERT INTO "profiles" AS t ("credentials", "id") VALUES ($1, $2) RETURNING t."id"`)
	assert.Equal(t, []any{`["a.pdf"]`, "u1"}, args)

	text, args, err = buildUpdate(backend.TableConnections,
		[]backend.Filter{backend.Eq("id", "c1"), backend.Eq("status", "pending")},
		backend.Record{"status": "accepted"})
	require.NoError(t, err)
	assert.Contains(t, text, `UPDATE "connections" AS t SET "status" = $1 WHERE t."id" = $2 AND t."status" = $3 RETURNING`)
	assert.Equal(t, []any{"accepted", "c1", "pending"}, args)
}

func TestBuildDelete(t *testing.T) {
	text, args, err := buildDelete(backend.TableUsers, []backend.Filter{backend.Eq("id", "u1")})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" AS t WHERE t."id" = $1`, text)
	assert.Equal(t, []any{"u1"}, args)

	_, _, err = buildDelete(backend.TableUsers, nil)
	assert.Error(t, err)
}

func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23505", ConstraintName: "connections_active_pair"}), apperr.ErrDuplicateRequest)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "22P02"}), apperr.ErrNotFound)
	assert.Nil(t, translate(nil))
}

func TestRecordDecodesNulls(t *testing.T) {
	cols := tables[backend.TableMessages]
	dest := holders(cols)
	rec, err := record(cols, dest)
	require.NoError(t, err)
	assert.Nil(t, rec["read_at"])
	assert.Len(t, rec, len(cols))
}
