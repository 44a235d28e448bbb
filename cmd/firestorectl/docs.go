package main

import (
	"context"
	"fmt"
	"os"

	"firestore-client/pkg/firestore"

	"github.com/spf13/cobra"
)

var (
	setMerge       bool
	setMergeFields []string
)

var getCmd = &cobra.Command{
	Use:   "get [document path]",
	Short: "Print a document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		client := newClient(ctx)
		defer client.Close()

		ref, err := client.Doc(args[0])
		if err != nil {
			fatal("Invalid document path", err)
		}
		snap, err := ref.Get(ctx, firestore.GetOptions{Source: firestore.SourceServer})
		if err != nil {
			fatal("Error reading document", err)
		}
		if !snap.Exists() {
			fmt.Fprintf(os.Stderr, "Document '%s' does not exist.\n", ref.Path())
			os.Exit(1)
		}
		printJSON(snapshotDocument(snap))
	},
}

var setCmd = &cobra.Command{
	Use:   "set [document path] [json object]",
	Short: "Create or overwrite a document",
	Long: `Write a document from a JSON object. With --merge the fields are merged into
the stored document; --merge-field limits the merge to the named field paths.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := parseData(args[1])
		if err != nil {
			fatal("Invalid data", err)
		}
		ctx := context.Background()
		client := newClient(ctx)
		defer client.Close()

		ref, err := client.Doc(args[0])
		if err != nil {
			fatal("Invalid document path", err)
		}
		var opts []firestore.SetOptions
		if setMerge || len(setMergeFields) > 0 {
			opts = append(opts, firestore.SetOptions{Merge: setMerge, MergeFields: setMergeFields})
		}
		if err := ref.Set(ctx, data, opts...); err != nil {
			fatal("Failed to set document", err)
		}
		fmt.Printf("Document '%s' written.\n", ref.Path())
	},
}

var addCmd = &cobra.Command{
	Use:   "add [collection path] [json object]",
	Short: "Add a document with a generated id",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := parseData(args[1])
		if err != nil {
			fatal("Invalid data", err)
		}
		ctx := context.Background()
		client := newClient(ctx)
		defer client.Close()

		coll, err := client.Collection(args[0])
		if err != nil {
			fatal("Invalid collection path", err)
		}
		ref, err := coll.Add(ctx, data)
		if err != nil {
			fatal("Failed to add document", err)
		}
		fmt.Println(ref.Path())
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [document path] [json object]",
	Short: "Update fields of an existing document",
	Long:  `Update the given fields of a document. Keys may be dotted field paths. The document must exist.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := parseData(args[1])
		if err != nil {
			fatal("Invalid data", err)
		}
		ctx := context.Background()
		client := newClient(ctx)
		defer client.Close()

		ref, err := client.Doc(args[0])
		if err != nil {
			fatal("Invalid document path", err)
		}
		if err := ref.Update(ctx, data); err != nil {
			fatal("Failed to update document", err)
		}
		fmt.Printf("Document '%s' updated.\n", ref.Path())
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document path]",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		client := newClient(ctx)
		defer client.Close()

		ref, err := client.Doc(args[0])
		if err != nil {
			fatal("Invalid document path", err)
		}
		if err := ref.Delete(ctx); err != nil {
			fatal("Failed to delete document", err)
		}
		fmt.Printf("Document '%s' deleted.\n", ref.Path())
	},
}

func init() {
	rootCmd.AddCommand(getCmd, setCmd, addCmd, updateCmd, deleteCmd)
	setCmd.Flags().BoolVar(&setMerge, "merge", false, "Merge into the stored document")
	setCmd.Flags().StringSliceVar(&setMergeFields, "merge-field", nil, "Merge only these field paths")
}
