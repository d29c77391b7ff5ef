// Package loader provides a request-scoped document loader: a caching,
// batching and transaction-coordinating layer over a document store.
//
// A [Loader] is created for one unit of work, typically one inbound
// request, and discarded when that work ends. Its cache is never shared
// with other Loaders or persisted.
//
// # Reads
//
// [Loader.Get] serves keys from the cache when it can. Misses from all
// goroutines sharing the Loader are collected for [Config.BatchWait] and
// sent to the backend in one [Backend.GetMany] call; a key already being
// fetched is never fetched twice. Missing documents come back as nil.
//
// # Writes
//
// [Loader.Save], [Loader.Update], [Loader.Upsert], [Loader.Insert] and
// [Loader.Delete] split their input into chunks of [Config.ChunkSize] and
// write the chunks concurrently. Chunks are independent: a failure in one
// does not undo another. Inside a transaction nothing is chunked. The
// cache is primed (or cleared, for deletes) only after the backend accepts
// the write.
//
// # Queries
//
// [Loader.Query] translates a [Query] into one backend query. Full
// documents returned by a query prime the cache; projected ones do not.
//
// # Transactions
//
//	err := l.RunInTransaction(ctx, func(ctx context.Context, tl *loader.Loader) error {
//	    docs, err := tl.Get(ctx, key)
//	    ...
//	    return tl.Save(ctx, payload)
//	})
//
// Calling RunInTransaction on a transaction-bound Loader runs the function
// in the existing transaction. After a commit the parent Loader's whole
// cache is cleared. [Transactional] does the same with the Loader carried
// by the context (see [WithLoader]).
//
// # Errors
//
//   - [BatchFetchError] - a batched read failed
//   - [BackendWriteError] - a write or a write chunk failed
//   - [ErrTransactionConflict] - the backend rejected a commit
//   - [NonFatal] - marks an expected reason to roll back
package loader
