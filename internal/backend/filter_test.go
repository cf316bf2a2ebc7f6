package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	now := time.Now()
	rec := Record{"sender_id": "a", "receiver_id": "b", "status": "pending", "rating": 4.5, "read_at": (*time.Time)(nil), "time": now}

	assert.True(t, Match(rec, nil))
	assert.True(t, Match(rec, []Filter{Eq("sender_id", "a"), In("status", "pending", "accepted")}))
	assert.False(t, Match(rec, []Filter{Eq("sender_id", "a"), Eq("receiver_id", "c")}))
	assert.False(t, Match(rec, []Filter{In("status")}))
	assert.True(t, Match(rec, []Filter{Gt("rating", 4)}))
	assert.True(t, Match(rec, []Filter{Gt("time", now.Add(-time.Second))}))
	assert.True(t, Match(rec, []Filter{IsNil("read_at"), IsNil("missing")}))
	assert.False(t, Match(rec, []Filter{Eq("missing", "x")}))
	assert.True(t, Match(Record{"full_name": "Grace Hopper"}, []Filter{ILike("full_name", "HOP")}))

	pair := Or(
		And(Eq("sender_id", "a"), Eq("receiver_id", "b")),
		And(Eq("sender_id", "b"), Eq("receiver_id", "a")),
	)
	assert.True(t, Match(rec, []Filter{pair}))
	assert.True(t, Match(Record{"sender_id": "b", "receiver_id": "a"}, []Filter{pair}))
	assert.False(t, Match(Record{"sender_id": "a", "receiver_id": "c"}, []Filter{pair}))
}

func TestCompare(t *testing.T) {
	t0 := time.Unix(100, 0)
	assert.Equal(t, -1, Compare(nil, "a"))
	assert.Equal(t, 0, Compare(nil, nil))
	assert.Equal(t, -1, Compare(t0, t0.Add(time.Second)))
	assert.Equal(t, 0, Compare(&t0, t0))
	assert.Equal(t, 1, Compare(int64(3), 2.5))
	assert.Equal(t, -1, Compare(false, true))
	assert.Equal(t, 1, Compare("b", "a"))
}

func TestSortRecordsIsStableAcrossKeys(t *testing.T) {
	rows := []Record{
		{"id": "1", "rating": 4.0, "doubts_solved": int64(3)},
		{"id": "2", "rating": 5.0, "doubts_solved": int64(1)},
		{"id": "3", "rating": 4.0, "doubts_solved": int64(9)},
		{"id": "4", "rating": 4.0, "doubts_solved": int64(9)},
	}
	SortRecords(rows, []Order{Desc("rating"), Desc("doubts_solved")})
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.String("id"))
	}
	assert.Equal(t, []string{"2", "3", "4", "1"}, ids)
}
