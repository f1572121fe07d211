package cli

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/bufsync/internal/blob"
	"github.com/roach88/bufsync/internal/ir"
)

// FileAddOptions holds flags for file add.
type FileAddOptions struct {
	*RootOptions
	Type         string
	Item         int64
	Library      bool
	Folder       string
	Name         string
	SnapshotType string
	Enqueue      bool
}

// FileResult reports a stored file.
type FileResult struct {
	File    ir.FileMeta `json:"file"`
	Command *ir.Command `json:"command,omitempty"`
}

// WriteText renders the file id and any queued upload.
func (r FileResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "✓ Stored %s as %s (%d bytes)\n", r.File.Filename, r.File.ID, r.File.Size)
	if r.Command != nil {
		fmt.Fprintf(w, "✓ Enqueued %s\n", r.Command)
	}
	return nil
}

// NewFileCommand creates the file command group.
func NewFileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Manage local attachments and library documents",
	}
	cmd.AddCommand(newFileAddCommand(rootOpts))
	return cmd
}

func newFileAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FileAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Store a file locally and optionally queue its upload",
		Long: `Copy a file into the local blob store and record its metadata.

Without --library the file is an attachment of item --item of list --type.
With --library it is a document in library --type, optionally under
--folder. Given --item, it carries a snapshot of that record and follows
the record's id when its insert is reconciled.

Examples:
  bufsync file add ./screen.png --type Ticket --item 2 --enqueue
  bufsync file add ./invoice.pdf --type Invoices --library --folder 2026 --item 4 --snapshot-type Order --enqueue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFileAdd(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "list (attachments) or library (documents) name")
	cmd.Flags().Int64Var(&opts.Item, "item", 0, "owning item id, or the snapshot record id for library documents")
	cmd.Flags().BoolVar(&opts.Library, "library", false, "store as a library document")
	cmd.Flags().StringVar(&opts.Folder, "folder", "", "library folder")
	cmd.Flags().StringVar(&opts.Name, "name", "", "remote filename (default: base name of path)")
	cmd.Flags().StringVar(&opts.SnapshotType, "snapshot-type", "", "type of the snapshot record (default: --type)")
	cmd.Flags().BoolVar(&opts.Enqueue, "enqueue", false, "queue the upload command")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runFileAdd(cmd *cobra.Command, opts *FileAddOptions, path string) error {
	f := opts.formatter(cmd)
	if !opts.Library && opts.Item == 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "--item is required for item attachments", nil)
	}

	src, err := os.Open(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "failed to open file", err)
	}
	defer src.Close()

	ctx := cmd.Context()
	a, err := openApp(ctx, opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()

	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}
	meta := ir.FileMeta{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ListName:    opts.Type,
		Filename:    name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		State:       ir.FileLocal,
	}
	action := ir.ActionAttachFileToItem
	if opts.Library {
		action = ir.ActionAttachFileToLibrary
		meta.AttachmentType = ir.AttachmentDocLib
		meta.Folder = opts.Folder
		if opts.Item != 0 {
			meta.ParentID = opts.Item
			meta.SnapshotType = opts.SnapshotType
			if meta.SnapshotType == "" {
				meta.SnapshotType = opts.Type
			}
			if meta.AdditionalInformation, err = a.snapshot(ctx, meta.SnapshotType, opts.Item); err != nil {
				return f.Fail(ExitCommandError, ErrCodeNotFound, "failed to snapshot record", err)
			}
		}
	} else {
		meta.AttachmentType = ir.AttachmentItem
		meta.ParentID = opts.Item
	}

	key, err := blob.FileKey(meta.ID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "invalid file id", err)
	}
	info, err := a.blobs.Put(ctx, key, src, blob.PutOptions{ContentType: meta.ContentType})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to store file content", err)
	}
	meta.Size = info.Size
	if err := a.store.PutFile(ctx, meta); err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to store file metadata", err)
	}

	out := FileResult{File: meta}
	if opts.Enqueue {
		c := ir.Command{
			TypeName:   opts.Type,
			Action:     action,
			Parameters: ir.Parameters{ir.P(ir.ParamAttachmentID, ir.IRString(meta.ID))},
		}
		if !opts.Library {
			c.ItemID = ir.ItemRef(opts.Item)
		}
		stored, ok, err := a.log.Enqueue(ctx, c)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStorage, "failed to enqueue command", err)
		}
		if ok {
			out.Command = &stored
		}
	}
	return f.Success(out)
}

// snapshot serializes the record a library document describes, with its
// own id under "id".
func (a *app) snapshot(ctx context.Context, typeName string, id int64) (string, error) {
	rec, err := a.store.GetRecord(ctx, typeName, id)
	if err != nil {
		return "", err
	}
	fields := rec.Fields.Clone()
	if fields == nil {
		fields = ir.IRObject{}
	}
	fields["id"] = ir.IRInt(rec.ID)
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
