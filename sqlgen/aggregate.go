package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/objectstack/pgadapter/document"
	"github.com/objectstack/pgadapter/schema"
)

// AggregatePlan is the compiled form of a restricted aggregation pipeline.
// Stages compose into exactly one SELECT statement; later stages overwrite
// the column/sort/limit state of earlier ones, mirroring array order.
type AggregatePlan struct {
	Columns      []string
	WherePattern string
	GroupPattern string
	SortPattern  string
	LimitPattern string
	SkipPattern  string
	Values       []interface{}

	// CountFields are $sum-as-count aliases whose results are coerced to
	// integers after execution.
	CountFields []string
	// GroupAliases, when non-empty, are the compound-key aliases folded
	// into a synthesized objectId after execution.
	GroupAliases []string
}

// SQL renders the single statement for the plan against an already-quoted
// table expression.
func (p *AggregatePlan) SQL(table string) string {
	parts := []string{"SELECT", strings.Join(p.Columns, ", "), "FROM", table}
	for _, clause := range []string{p.WherePattern, p.GroupPattern, p.SortPattern, p.LimitPattern, p.SkipPattern} {
		if clause != "" {
			parts = append(parts, clause)
		}
	}
	return strings.Join(parts, " ")
}

// CompileAggregate compiles a pipeline of $group, $project, $match, $sort,
// $limit and $skip stages. $match reuses the where compiler's comparator
// table; its $or groups are collapsed into one per-field disjunction, which
// loses cross-field OR semantics — a documented limitation callers depend
// on, preserved here deliberately.
func CompileAggregate(d Dialect, s *schema.Schema, pipeline []map[string]interface{}, args *Args) (*AggregatePlan, error) {
	plan := &AggregatePlan{Columns: []string{"*"}}
	c := &aggregateCompiler{d: d, schema: s, args: args, plan: plan}
	for _, stage := range pipeline {
		for _, kind := range sortedKeys(stage) {
			var err error
			switch kind {
			case "$group":
				err = c.compileGroup(stage[kind])
			case "$project":
				err = c.compileProject(stage[kind])
			case "$match":
				err = c.compileMatch(stage[kind])
			case "$sort":
				err = c.compileSort(stage[kind])
			case "$limit":
				err = c.compileLimit(stage[kind])
			case "$skip":
				err = c.compileSkip(stage[kind])
			default:
				err = fmt.Errorf("%w: aggregation stage %q", ErrUnsupportedQuery, kind)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	plan.Values = args.Values()
	return plan, nil
}

type aggregateCompiler struct {
	d      Dialect
	schema *schema.Schema
	args   *Args
	plan   *AggregatePlan
}

func (c *aggregateCompiler) compileGroup(raw interface{}) error {
	group, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: $group expects an object", ErrInvalidQuery)
	}
	columns := []string{}
	for _, field := range sortedKeys(group) {
		value := group[field]
		if field == "_id" {
			if err := c.compileGroupID(&columns, value); err != nil {
				return err
			}
			continue
		}
		accumulator, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: $group accumulator for %q", ErrUnsupportedQuery, field)
		}
		if err := c.compileAccumulator(&columns, field, accumulator); err != nil {
			return err
		}
	}
	c.plan.Columns = columns
	return nil
}

func (c *aggregateCompiler) compileGroupID(columns *[]string, value interface{}) error {
	switch v := value.(type) {
	case nil:
		// Grouping over the whole table; accumulators only.
		return nil
	case string:
		if v == "" {
			return fmt.Errorf("%w: $group _id alias must name a field", ErrInvalidQuery)
		}
		source := c.d.Ident(transformAggregateField(v))
		*columns = append(*columns, fmt.Sprintf("%s AS %s", source, c.d.Ident("objectId")))
		c.plan.GroupPattern = "GROUP BY " + source
		return nil
	case map[string]interface{}:
		if len(v) == 0 {
			return fmt.Errorf("%w: $group compound _id must not be empty", ErrInvalidQuery)
		}
		var groupBy []string
		for _, alias := range sortedKeys(v) {
			switch spec := v[alias].(type) {
			case string:
				source := c.d.Ident(transformAggregateField(spec))
				if !contains(groupBy, source) {
					groupBy = append(groupBy, source)
				}
				*columns = append(*columns, fmt.Sprintf("%s AS %s", source, c.d.Ident(alias)))
			case map[string]interface{}:
				if len(spec) != 1 {
					return fmt.Errorf("%w: $group compound key %q", ErrUnsupportedQuery, alias)
				}
				for op, operand := range spec {
					unit, ok := dateAccumulators[op]
					if !ok {
						return fmt.Errorf("%w: $group date operator %q", ErrUnsupportedQuery, op)
					}
					sourceField, ok := operand.(string)
					if !ok {
						return fmt.Errorf("%w: %s expects a field reference", ErrInvalidQuery, op)
					}
					source := c.d.Ident(transformAggregateField(sourceField))
					if !contains(groupBy, source) {
						groupBy = append(groupBy, source)
					}
					*columns = append(*columns,
						fmt.Sprintf("EXTRACT(%s FROM %s AT TIME ZONE 'UTC')::integer AS %s",
							unit, source, c.d.Ident(alias)))
				}
			default:
				return fmt.Errorf("%w: $group compound key %q", ErrUnsupportedQuery, alias)
			}
			c.plan.GroupAliases = append(c.plan.GroupAliases, alias)
		}
		c.plan.GroupPattern = "GROUP BY " + strings.Join(groupBy, ", ")
		return nil
	default:
		return fmt.Errorf("%w: $group _id", ErrUnsupportedQuery)
	}
}

func (c *aggregateCompiler) compileAccumulator(columns *[]string, field string, accumulator map[string]interface{}) error {
	for op, operand := range accumulator {
		alias := c.d.Ident(field)
		switch op {
		case "$sum":
			if source, ok := operand.(string); ok {
				*columns = append(*columns,
					fmt.Sprintf("SUM(%s) AS %s", c.d.Ident(transformAggregateField(source)), alias))
			} else {
				// {$sum: 1} is a row count.
				*columns = append(*columns, fmt.Sprintf("COUNT(*) AS %s", alias))
				c.plan.CountFields = append(c.plan.CountFields, field)
			}
		case "$max":
			source, ok := operand.(string)
			if !ok {
				return fmt.Errorf("%w: $max expects a field reference", ErrInvalidQuery)
			}
			*columns = append(*columns,
				fmt.Sprintf("MAX(%s) AS %s", c.d.Ident(transformAggregateField(source)), alias))
		case "$min":
			source, ok := operand.(string)
			if !ok {
				return fmt.Errorf("%w: $min expects a field reference", ErrInvalidQuery)
			}
			*columns = append(*columns,
				fmt.Sprintf("MIN(%s) AS %s", c.d.Ident(transformAggregateField(source)), alias))
		case "$avg":
			source, ok := operand.(string)
			if !ok {
				return fmt.Errorf("%w: $avg expects a field reference", ErrInvalidQuery)
			}
			*columns = append(*columns,
				fmt.Sprintf("AVG(%s) AS %s", c.d.Ident(transformAggregateField(source)), alias))
		default:
			return fmt.Errorf("%w: $group accumulator %q", ErrUnsupportedQuery, op)
		}
	}
	return nil
}

func (c *aggregateCompiler) compileProject(raw interface{}) error {
	project, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: $project expects an object", ErrInvalidQuery)
	}
	// Inclusion-only projection: the listed fields replace the running
	// column list outright.
	columns := []string{}
	for _, field := range sortedKeys(project) {
		included := false
		switch v := project[field].(type) {
		case bool:
			included = v
		case float64:
			included = v == 1
		case int:
			included = v == 1
		}
		if !included {
			continue
		}
		if field == "_id" {
			columns = append(columns,
				fmt.Sprintf("%s AS %s", c.d.Ident("objectId"), c.d.Ident("objectId")))
			continue
		}
		columns = append(columns, c.d.Ident(field))
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: $project must include at least one field", ErrInvalidQuery)
	}
	c.plan.Columns = columns
	return nil
}

func (c *aggregateCompiler) compileMatch(raw interface{}) error {
	match, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: $match expects an object", ErrInvalidQuery)
	}
	joiner := " AND "
	if orGroups, ok := match["$or"].([]interface{}); ok {
		// Collapse $or branches into one per-field disjunction. Distinct
		// sub-queries constraining the same field overwrite each other;
		// cross-field OR semantics are lost. Kept as-is: callers depend on
		// the existing behavior.
		joiner = " OR "
		collapsed := map[string]interface{}{}
		for _, branch := range orGroups {
			branchMap, ok := branch.(map[string]interface{})
			if !ok {
				return fmt.Errorf("%w: $match $or branch must be an object", ErrInvalidQuery)
			}
			for k, v := range branchMap {
				collapsed[k] = v
			}
		}
		match = collapsed
	}

	var patterns []string
	for _, field := range sortedKeys(match) {
		value := match[field]
		if field == "_id" {
			field = "objectId"
		}
		name := c.d.Ident(field)
		var fieldPatterns []string
		if ops, ok := value.(map[string]interface{}); ok {
			for _, cmp := range comparatorOrder {
				raw, present := ops[string(cmp)]
				if !present {
					continue
				}
				fieldPatterns = append(fieldPatterns,
					fmt.Sprintf("%s %s %s", name, comparators[cmp],
						c.args.Bind(document.ToPostgresValue(raw))))
			}
		}
		if len(fieldPatterns) > 0 {
			patterns = append(patterns, "("+strings.Join(fieldPatterns, " AND ")+")")
			continue
		}
		if _, known := c.schema.Field(field); known || field == "objectId" {
			patterns = append(patterns, fmt.Sprintf("%s = %s", name, c.args.Bind(document.ToPostgresValue(value))))
		}
	}
	if len(patterns) > 0 {
		c.plan.WherePattern = "WHERE " + strings.Join(patterns, joiner)
	}
	return nil
}

func (c *aggregateCompiler) compileSort(raw interface{}) error {
	sortSpec, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: $sort expects an object", ErrInvalidQuery)
	}
	if len(sortSpec) == 0 {
		c.plan.SortPattern = ""
		return nil
	}
	var sorting []string
	for _, key := range sortedKeys(sortSpec) {
		direction := "ASC"
		if n, ok := numberOf(sortSpec[key]); ok && n < 0 {
			direction = "DESC"
		}
		sorting = append(sorting, c.d.Ident(transformAggregateField("$"+key))+" "+direction)
	}
	c.plan.SortPattern = "ORDER BY " + strings.Join(sorting, ", ")
	return nil
}

func (c *aggregateCompiler) compileLimit(raw interface{}) error {
	n, ok := numberOf(raw)
	if !ok {
		return fmt.Errorf("%w: $limit expects a number", ErrInvalidQuery)
	}
	c.plan.LimitPattern = "LIMIT " + c.args.Bind(int64(n))
	return nil
}

func (c *aggregateCompiler) compileSkip(raw interface{}) error {
	n, ok := numberOf(raw)
	if !ok {
		return fmt.Errorf("%w: $skip expects a number", ErrInvalidQuery)
	}
	c.plan.SkipPattern = "OFFSET " + c.args.Bind(int64(n))
	return nil
}

// transformAggregateField strips the $ reference marker and rewrites the
// internal timestamp aliases.
func transformAggregateField(fieldName string) string {
	if !strings.HasPrefix(fieldName, "$") {
		return fieldName
	}
	switch fieldName {
	case "$_created_at":
		return "createdAt"
	case "$_updated_at":
		return "updatedAt"
	}
	return fieldName[1:]
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
