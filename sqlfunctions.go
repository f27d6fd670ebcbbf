package pgadapter

// Helper SQL functions installed by PerformInitialization. The update and
// where compilers reference them by name, so a database must be initialized
// once before the adapter writes to it. CREATE OR REPLACE keeps repeated
// initialization harmless.
var helperFunctions = []string{
	`CREATE OR REPLACE FUNCTION "array_add"(
  "array" jsonb,
  "values" jsonb
) RETURNS jsonb
  LANGUAGE sql
  IMMUTABLE
  STRICT
AS $function$
  SELECT array_to_json(ARRAY(
    SELECT unnest(
      ARRAY(SELECT DISTINCT jsonb_array_elements("array")) ||
      ARRAY(SELECT jsonb_array_elements("values"))
    )
  ))::jsonb;
$function$`,

	`CREATE OR REPLACE FUNCTION "array_add_unique"(
  "array" jsonb,
  "values" jsonb
) RETURNS jsonb
  LANGUAGE sql
  IMMUTABLE
  STRICT
AS $function$
  SELECT array_to_json(ARRAY(
    SELECT DISTINCT unnest(
      ARRAY(SELECT DISTINCT jsonb_array_elements("array")) ||
      ARRAY(SELECT DISTINCT jsonb_array_elements("values"))
    )
  ))::jsonb;
$function$`,

	`CREATE OR REPLACE FUNCTION "array_remove"(
  "array" jsonb,
  "values" jsonb
) RETURNS jsonb
  LANGUAGE sql
  IMMUTABLE
  STRICT
AS $function$
  SELECT array_to_json(ARRAY(
    SELECT *
    FROM jsonb_array_elements("array") AS elt
    WHERE elt NOT IN (SELECT jsonb_array_elements("values"))
  ))::jsonb;
$function$`,

	`CREATE OR REPLACE FUNCTION "array_contains"(
  "array" jsonb,
  "values" jsonb
) RETURNS boolean
  LANGUAGE sql
  IMMUTABLE
  STRICT
AS $function$
  SELECT res.cnt >= 1
  FROM (
    SELECT COUNT(*) AS cnt
    FROM jsonb_array_elements("array") AS elt
    WHERE elt IN (SELECT jsonb_array_elements("values"))
  ) AS res;
$function$`,

	`CREATE OR REPLACE FUNCTION "array_contains_all"(
  "array" jsonb,
  "values" jsonb
) RETURNS boolean
  LANGUAGE sql
  IMMUTABLE
  STRICT
AS $function$
  SELECT res.cnt = jsonb_array_length("values")
  FROM (
    SELECT COUNT(*) AS cnt
    FROM jsonb_array_elements("array") AS elt
    WHERE elt IN (SELECT jsonb_array_elements("values"))
  ) AS res;
$function$`,

	`CREATE OR REPLACE FUNCTION "array_contains_all_regex"(
  "array" jsonb,
  "values" jsonb
) RETURNS boolean
  LANGUAGE sql
  IMMUTABLE
  STRICT
AS $function$
  SELECT res.cnt = jsonb_array_length("values")
  FROM (
    SELECT COUNT(*) AS cnt
    FROM jsonb_array_elements_text("array") AS elt
    WHERE elt LIKE ANY (SELECT jsonb_array_elements_text("values"))
  ) AS res;
$function$`,

	`CREATE OR REPLACE FUNCTION "json_object_set_key"(
  "json" jsonb,
  "key_to_set" text,
  "value_to_set" jsonb
) RETURNS jsonb
  LANGUAGE sql
  IMMUTABLE
  STRICT
AS $function$
  SELECT concat('{', string_agg(to_json("key") || ':' || "value", ','), '}')::jsonb
  FROM (
    SELECT * FROM jsonb_each("json") WHERE "key" <> "key_to_set"
    UNION ALL
    SELECT "key_to_set", "value_to_set"
  ) AS fields;
$function$`,
}
