package sqlgen

// QueryOperator enumerates the closed set of document-query operators the
// where-clause compiler understands. Dispatch is a switch over this set;
// a key outside it (or an operator object that contributes no SQL) fails
// with ErrUnsupportedQuery instead of falling through silently.
type QueryOperator string

const (
	OpEq            QueryOperator = "$eq"
	OpNe            QueryOperator = "$ne"
	OpIn            QueryOperator = "$in"
	OpNin           QueryOperator = "$nin"
	OpAll           QueryOperator = "$all"
	OpExists        QueryOperator = "$exists"
	OpContainedBy   QueryOperator = "$containedBy"
	OpText          QueryOperator = "$text"
	OpNearSphere    QueryOperator = "$nearSphere"
	OpMaxDistance   QueryOperator = "$maxDistance"
	OpWithin        QueryOperator = "$within"
	OpGeoWithin     QueryOperator = "$geoWithin"
	OpGeoIntersects QueryOperator = "$geoIntersects"
	OpRegex         QueryOperator = "$regex"
	OpOptions       QueryOperator = "$options"
	OpGt            QueryOperator = "$gt"
	OpGte           QueryOperator = "$gte"
	OpLt            QueryOperator = "$lt"
	OpLte           QueryOperator = "$lte"
)

// comparators maps the numeric comparison operators to their SQL form, in a
// fixed evaluation order so compiled patterns are deterministic.
var comparatorOrder = []QueryOperator{OpGt, OpGte, OpLt, OpLte}

var comparators = map[QueryOperator]string{
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// knownOperators is consulted to decide whether an operator object key is
// part of the closed set at all.
var knownOperators = map[QueryOperator]struct{}{
	OpEq: {}, OpNe: {}, OpIn: {}, OpNin: {}, OpAll: {}, OpExists: {},
	OpContainedBy: {}, OpText: {}, OpNearSphere: {}, OpMaxDistance: {},
	OpWithin: {}, OpGeoWithin: {}, OpGeoIntersects: {}, OpRegex: {},
	OpOptions: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
}

// dateAccumulators maps aggregation date-part accumulators to EXTRACT units.
var dateAccumulators = map[string]string{
	"$dayOfMonth":  "DAY",
	"$dayOfWeek":   "DOW",
	"$dayOfYear":   "DOY",
	"$month":       "MONTH",
	"$week":        "WEEK",
	"$year":        "YEAR",
	"$hour":        "HOUR",
	"$minute":      "MINUTE",
	"$second":      "SECOND",
	"$millisecond": "MILLISECONDS",
}
