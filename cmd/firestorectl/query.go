package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firestore-client/pkg/firestore"

	"github.com/spf13/cobra"
)

var (
	queryWhere       []string
	queryOrder       []string
	queryLimit       int
	queryLimitToLast bool
	queryGroup       bool
)

var queryCmd = &cobra.Command{
	Use:   "query [collection path]",
	Short: "Run a query and print the matching documents",
	Long: `Query a collection. Filters are written as 'field op value', for example
--where 'age >= 30' --where 'tags array-contains "go"'. Order by 'field' or
'field:desc'. With --group the argument is a collection id queried across
every parent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		client := newClient(ctx)
		defer client.Close()

		q, err := buildQuery(client, args[0])
		if err != nil {
			fatal("Invalid query", err)
		}
		snap, err := q.Get(ctx, firestore.GetOptions{Source: firestore.SourceServer})
		if err != nil {
			fatal("Query failed", err)
		}
		docs := make([]*firestore.Document, 0, snap.Size())
		for _, d := range snap.Docs {
			docs = append(docs, snapshotDocument(d))
		}
		printJSON(docs)
	},
}

// buildQuery applies the query flags to the collection (or collection group)
// named by target.
func buildQuery(client *firestore.Client, target string) (firestore.Query, error) {
	var q firestore.Query
	if queryGroup {
		q = client.CollectionGroup(target)
	} else {
		coll, err := client.Collection(target)
		if err != nil {
			return firestore.Query{}, err
		}
		q = coll.Query
	}
	for _, w := range queryWhere {
		field, op, value, err := parseWhere(w)
		if err != nil {
			return firestore.Query{}, err
		}
		q = q.Where(field, op, value)
	}
	for _, o := range queryOrder {
		field, dir, err := parseOrder(o)
		if err != nil {
			return firestore.Query{}, err
		}
		q = q.OrderBy(field, dir)
	}
	if queryLimit > 0 {
		if queryLimitToLast {
			q = q.LimitToLast(queryLimit)
		} else {
			q = q.Limit(queryLimit)
		}
	}
	return q, q.Err()
}

type listenOutput struct {
	ReadTime  time.Time             `json:"readTime"`
	FromCache bool                  `json:"fromCache,omitempty"`
	Exists    *bool                 `json:"exists,omitempty"`
	Documents []*firestore.Document `json:"documents"`
	Changes   []listenChange        `json:"changes,omitempty"`
}

type listenChange struct {
	Kind firestore.ChangeKind `json:"kind"`
	Path string               `json:"path"`
}

var listenCmd = &cobra.Command{
	Use:   "listen [document or collection path]",
	Short: "Print snapshots of a document or query until interrupted",
	Long: `Listen to a document (even number of segments) or a collection query (odd
number of segments, accepts the query flags). Every snapshot is printed as one
JSON object.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path, err := firestore.ParsePath(args[0])
		if err != nil {
			fatal("Invalid path", err)
		}
		ctx := context.Background()
		client := newClient(ctx)
		defer client.Close()

		failed := make(chan error, 1)
		onError := func(err error) {
			select {
			case failed <- err:
			default:
			}
		}

		var reg *firestore.ListenerRegistration
		if path.IsDocument() && !queryGroup {
			ref, err := client.Doc(args[0])
			if err != nil {
				fatal("Invalid document path", err)
			}
			reg, err = ref.OnSnapshot(func(s *firestore.DocumentSnapshot) {
				exists := s.Exists()
				out := listenOutput{ReadTime: s.ReadTime, FromCache: s.Metadata.FromCache, Exists: &exists, Documents: []*firestore.Document{}}
				if exists {
					out.Documents = append(out.Documents, snapshotDocument(s))
				}
				printJSON(out)
			}, onError)
			if err != nil {
				fatal("Failed to listen", err)
			}
		} else {
			q, err := buildQuery(client, args[0])
			if err != nil {
				fatal("Invalid query", err)
			}
			reg, err = q.OnSnapshot(func(s *firestore.QuerySnapshot) {
				out := listenOutput{ReadTime: s.ReadTime, FromCache: s.Metadata.FromCache, Documents: make([]*firestore.Document, 0, s.Size())}
				for _, d := range s.Docs {
					out.Documents = append(out.Documents, snapshotDocument(d))
				}
				for _, c := range s.Changes {
					out.Changes = append(out.Changes, listenChange{Kind: c.Kind, Path: c.Doc.Ref.Path()})
				}
				printJSON(out)
			}, onError)
			if err != nil {
				fatal("Failed to listen", err)
			}
		}
		defer reg.Remove()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-failed:
			reg.Remove()
			client.Close()
			fatal("Listener failed", err)
		case <-quit:
			fmt.Fprintln(os.Stderr, "Stopped listening.")
		}
	},
}

func init() {
	rootCmd.AddCommand(queryCmd, listenCmd)
	for _, c := range []*cobra.Command{queryCmd, listenCmd} {
		c.Flags().StringArrayVarP(&queryWhere, "where", "w", nil, "Filter 'field op value' (repeatable)")
		c.Flags().StringArrayVarP(&queryOrder, "order", "o", nil, "Order by 'field' or 'field:desc' (repeatable)")
		c.Flags().IntVarP(&queryLimit, "limit", "l", 0, "Maximum number of documents")
		c.Flags().BoolVar(&queryLimitToLast, "limit-to-last", false, "Keep the last --limit documents instead of the first")
		c.Flags().BoolVar(&queryGroup, "group", false, "Query the collection group with this id")
	}
}
