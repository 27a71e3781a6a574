package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/common"
)

// Export writes an encrypted archive. "--binaries" includes attachments.
func (a *App) Export(ctx context.Context, args []string) error {
	includeBinaries := false
	for _, arg := range args {
		if arg != "--binaries" {
			return usage("export [--binaries]")
		}
		includeBinaries = true
	}

	pw, err := GetPassword("Archive password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)
	confirm, err := GetPassword("Repeat password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)
	if !bytes.Equal(pw, confirm) {
		return fmt.Errorf("%w: passwords do not match", common.ErrValidation)
	}

	meta, err := a.archives.Export(ctx, pw, includeBinaries)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exported %d records to %s (%d bytes)\n", meta.ItemCount, meta.FilePath, meta.SizeBytes)
	return nil
}

func (a *App) Import(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("import <path>")
	}
	pw, err := GetPassword("Archive password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	res, err := a.archives.Import(ctx, args[0], pw)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "imported %d records, skipped %d\n", res.Imported, res.Skipped)
	return nil
}

func (a *App) Archives(ctx context.Context, args []string) error {
	list, err := a.archives.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "no exports yet")
		return nil
	}
	for _, m := range list {
		fmt.Fprintf(a.out, "%s  %4d records  %8d bytes  %s\n", formatMillis(m.CreatedAt), m.ItemCount, m.SizeBytes, m.FilePath)
	}
	return nil
}
