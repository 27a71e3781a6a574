// Package records persists content records in the local SQLite store.
//
// Rows are never physically deleted: a tombstone keeps is_deleted=1 so the
// deletion can be synchronized. Tags are stored as a JSON array and filtered
// with json_each.
//
// Typical Usage
//
//	repo := records.NewSQLiteRepository(tx)
//	_ = repo.Insert(ctx, &rec)
//	rec, err := repo.GetByID(ctx, id)
//	_ = repo.Update(ctx, &rec, expectedVersion)
package records
