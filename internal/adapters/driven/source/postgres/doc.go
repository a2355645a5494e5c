// Package postgres provides a RowFetcher backed by PostgreSQL via pgx.
//
// The configured query is wrapped so that every expected column is cast to
// text, which leaves numeric parsing to the assembler and lets the query
// return any column types. Date and identifier filters are applied on the
// wrapped query with bound parameters.
package postgres
