// Package dynamo provides a DynamoDB backend for the docload loader.
//
// Each document kind lives in its own table. A [Registry] binds kinds to
// table names; unregistered kinds use [Config.TablePrefix] followed by the
// kind.
//
// # Item Layout
//
// Every table has a string partition key "pk" and a string sort key "sk":
//
//	pk    encoded root segment of the key    Org:acme
//	sk    full encoded key                   Org:acme/Team:t1/Doc:x
//	_rev  revision, rewritten on every put   2f1c...
//
// All descendants of a root share one partition in key order, so ancestor
// queries become a single Query with begins_with on "sk". The names pk,
// sk and _rev are reserved and may not be used as document fields.
//
// # Soft Deletes
//
// A document field named "ttl" holding a Unix timestamp marks the item as
// deleted once the timestamp passes. Expired items read as missing, are
// filtered out of queries, and may be inserted over. Enable DynamoDB TTL on
// the "ttl" attribute to have them removed.
//
// # Transactions
//
// Reads inside a transaction use TransactGetItems and remember each item's
// revision. Writes are staged and sent as one TransactWriteItems call on
// commit, with a ConditionCheck for every document read but not written.
// A commit fails with [loader.ErrTransactionConflict] when any of those
// documents changed. DynamoDB caps a transaction at 100 actions; larger
// commits fail with [ErrTransactionTooLarge].
//
// # Queries
//
// Queries with an ancestor run against the ancestor's partition, all
// others scan the kind's table. Only ordering by key (with an ancestor) is
// supported. DistinctOn and end cursors return [ErrUnsupportedQuery].
package dynamo
