package sqlgen

import (
	"errors"
	"strings"
	"testing"
)

func compilePipeline(t *testing.T, pipeline []map[string]interface{}) *AggregatePlan {
	t.Helper()
	plan, err := CompileAggregate(Dialect{}, playerSchema(), pipeline, NewArgs(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return plan
}

func TestCompileAggregate_EmptyPipelineSelectsEverything(t *testing.T) {
	plan := compilePipeline(t, nil)
	if got := plan.SQL(`"Player"`); got != `SELECT * FROM "Player"` {
		t.Errorf("unexpected SQL: %q", got)
	}
}

func TestCompileAggregate_GroupByField(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$group": map[string]interface{}{"_id": "$name"}},
	})
	sql := plan.SQL(`"Player"`)
	if sql != `SELECT "name" AS "objectId" FROM "Player" GROUP BY "name"` {
		t.Errorf("unexpected SQL: %q", sql)
	}
}

func TestCompileAggregate_GroupWithCount(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id":   nil,
			"total": map[string]interface{}{"$sum": float64(1)},
		}},
	})
	sql := plan.SQL(`"Player"`)
	if sql != `SELECT COUNT(*) AS "total" FROM "Player"` {
		t.Errorf("unexpected SQL: %q", sql)
	}
	if len(plan.CountFields) != 1 || plan.CountFields[0] != "total" {
		t.Errorf("expected count field marker, got %v", plan.CountFields)
	}
}

func TestCompileAggregate_GroupAccumulators(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id":  "$name",
			"best": map[string]interface{}{"$max": "$score"},
			"avg":  map[string]interface{}{"$avg": "$score"},
		}},
	})
	sql := plan.SQL(`"Player"`)
	for _, want := range []string{`MAX("score") AS "best"`, `AVG("score") AS "avg"`, `GROUP BY "name"`} {
		if !strings.Contains(sql, want) {
			t.Errorf("SQL %q missing %q", sql, want)
		}
	}
}

func TestCompileAggregate_CompoundGroupKey(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id": map[string]interface{}{
				"day": map[string]interface{}{"$dayOfMonth": "$_created_at"},
				"who": "$name",
			},
		}},
	})
	sql := plan.SQL(`"Player"`)
	if !strings.Contains(sql, `EXTRACT(DAY FROM "createdAt" AT TIME ZONE 'UTC')::integer AS "day"`) {
		t.Errorf("unexpected SQL: %q", sql)
	}
	if !strings.Contains(sql, `"name" AS "who"`) {
		t.Errorf("unexpected SQL: %q", sql)
	}
	if len(plan.GroupAliases) != 2 {
		t.Errorf("expected 2 group aliases, got %v", plan.GroupAliases)
	}
}

func TestCompileAggregate_TimestampAliasesRewrite(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$group": map[string]interface{}{"_id": "$_updated_at"}},
	})
	if !strings.Contains(plan.SQL(`"t"`), `"updatedAt"`) {
		t.Errorf("expected alias rewrite, got %q", plan.SQL(`"t"`))
	}
}

func TestCompileAggregate_ProjectIsInclusionOnly(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$project": map[string]interface{}{
			"name":  float64(1),
			"score": float64(0),
			"_id":   float64(1),
		}},
	})
	sql := plan.SQL(`"Player"`)
	if strings.Contains(sql, `"score"`) {
		t.Errorf("excluded field selected: %q", sql)
	}
	if !strings.Contains(sql, `"objectId" AS "objectId"`) {
		t.Errorf("_id not rewritten: %q", sql)
	}
}

func TestCompileAggregate_MatchComparators(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$match": map[string]interface{}{
			"score": map[string]interface{}{"$gt": float64(5)},
		}},
	})
	sql := plan.SQL(`"Player"`)
	if !strings.Contains(sql, `WHERE ("score" > $1)`) {
		t.Errorf("unexpected SQL: %q", sql)
	}
	if len(plan.Values) != 1 || plan.Values[0] != float64(5) {
		t.Errorf("unexpected values: %v", plan.Values)
	}
}

func TestCompileAggregate_MatchIDRewritesToObjectID(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$match": map[string]interface{}{"_id": "abc"}},
	})
	if !strings.Contains(plan.SQL(`"t"`), `"objectId" = $1`) {
		t.Errorf("unexpected SQL: %q", plan.SQL(`"t"`))
	}
}

func TestCompileAggregate_MatchOrCollapsesPerField(t *testing.T) {
	// Branches constraining the same field overwrite each other and
	// cross-field OR semantics are lost. This documents the limitation.
	plan := compilePipeline(t, []map[string]interface{}{
		{"$match": map[string]interface{}{
			"$or": []interface{}{
				map[string]interface{}{"name": "a"},
				map[string]interface{}{"score": map[string]interface{}{"$lt": float64(2)}},
			},
		}},
	})
	sql := plan.SQL(`"Player"`)
	if !strings.Contains(sql, " OR ") {
		t.Errorf("expected OR joiner, got %q", sql)
	}
	if !strings.Contains(sql, `"name" = $`) || !strings.Contains(sql, `"score" < $`) {
		t.Errorf("unexpected SQL: %q", sql)
	}
}

func TestCompileAggregate_SortLimitSkip(t *testing.T) {
	plan := compilePipeline(t, []map[string]interface{}{
		{"$sort": map[string]interface{}{"score": float64(-1)}},
		{"$limit": float64(5)},
		{"$skip": float64(10)},
	})
	sql := plan.SQL(`"Player"`)
	if !strings.Contains(sql, `ORDER BY "score" DESC`) {
		t.Errorf("unexpected SQL: %q", sql)
	}
	if !strings.Contains(sql, "LIMIT $1") || !strings.Contains(sql, "OFFSET $2") {
		t.Errorf("unexpected SQL: %q", sql)
	}
	if plan.Values[0] != int64(5) || plan.Values[1] != int64(10) {
		t.Errorf("unexpected values: %v", plan.Values)
	}
}

func TestCompileAggregate_UnknownStageIsRejected(t *testing.T) {
	_, err := CompileAggregate(Dialect{}, playerSchema(), []map[string]interface{}{
		{"$lookup": map[string]interface{}{}},
	}, NewArgs(1))
	if !errors.Is(err, ErrUnsupportedQuery) {
		t.Errorf("expected ErrUnsupportedQuery, got %v", err)
	}
}

func TestCompileAggregate_EmptyCompoundGroupKeyIsRejected(t *testing.T) {
	_, err := CompileAggregate(Dialect{}, playerSchema(), []map[string]interface{}{
		{"$group": map[string]interface{}{"_id": map[string]interface{}{}}},
	}, NewArgs(1))
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}
