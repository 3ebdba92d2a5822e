// Package digest scans a source tree ("code drop") and emits trust-scored
// evidence about notable files.
//
// Each Digestor looks for one kind of asset. Digestors never write
// anything; persisting their AssetRecords is the caller's job (see the
// CAS and the ledger store).
package digest
