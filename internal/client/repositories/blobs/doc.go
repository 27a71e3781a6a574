// Package blobs tracks locally stored attachment blobs and whether the
// remote store already holds them.
//
// Typical Usage
//
//	repo := blobs.NewSQLiteRepository(db)
//	_ = repo.CreateOrUpdate(ctx, &models.Blob{Hash: h, Size: n, LocalPath: p, UploadStatus: models.BlobPending})
//	pend, _ := repo.GetAllPendingUpload(ctx)
//	_ = repo.MarkUploaded(ctx, h)
package blobs
