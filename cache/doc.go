// Package cache provides loom.QueryResultCache implementations.
//
// Memory keeps entries in the process and DB keeps them in a table of the
// queried database, so that every process sharing the database shares the
// cache. Both store rows encoded with MarshalRows.
package cache
