package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/jacentio/docload/loader"
)

var (
	errMissingArgs   = errors.New("missing arguments")
	errNeedsDynamo   = errors.New("command needs the dynamodb backend")
	errUnknownMode   = errors.New("unknown write mode")
	errMissingOutput = errors.New("--out is required")
)

// commands returns fresh command definitions. Flag sets hold parse state,
// so every invocation gets its own.
func commands() []*Command {
	return []*Command{
		getCmd(),
		putCmd(),
		deleteCmd(),
		queryCmd(),
		exportCmd(),
		initCmd(),
	}
}

func findCommand(name string) *Command {
	for _, c := range commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func getCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("get", flag.ContinueOnError),
		Usage: "get <key>...",
		Short: "Print documents by key, one JSON line each",
		Exec: func(ctx context.Context, s *session, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: get needs a key", errMissingArgs)
			}
			keys, err := parseKeys(args)
			if err != nil {
				return err
			}
			docs, err := s.loader().Get(ctx, keys...)
			if err != nil {
				return err
			}
			for i, k := range keys {
				if err := s.printJSON(record{Key: k, Data: docs[i]}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func putCmd() *Command {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	mode := fs.StringP("mode", "m", "save", "write mode: save, insert, update or upsert")
	return &Command{
		Flags: fs,
		Usage: "put [--mode m] <key> <json>",
		Short: "Write one document",
		Exec: func(ctx context.Context, s *session, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("%w: put needs a key and a document", errMissingArgs)
			}
			k, err := loader.ParseKey(args[0])
			if err != nil {
				return err
			}
			var doc loader.Document
			if err := parseJSONC([]byte(args[1]), &doc); err != nil {
				return fmt.Errorf("document: %w", err)
			}
			l := s.loader()
			p := loader.Payload{Key: k, Data: doc}
			switch *mode {
			case "save":
				err = l.Save(ctx, p)
			case "insert":
				err = l.Insert(ctx, p)
			case "update":
				err = l.Update(ctx, p)
			case "upsert":
				err = l.Upsert(ctx, p)
			default:
				return fmt.Errorf("%w %q", errUnknownMode, *mode)
			}
			if err != nil {
				return err
			}
			return s.printJSON(record{Key: k, Data: doc})
		},
	}
}

func deleteCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("delete", flag.ContinueOnError),
		Usage: "delete <key>...",
		Short: "Delete documents by key",
		Exec: func(ctx context.Context, s *session, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: delete needs a key", errMissingArgs)
			}
			keys, err := parseKeys(args)
			if err != nil {
				return err
			}
			if err := s.loader().Delete(ctx, keys...); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "deleted %d\n", len(keys))
			return nil
		},
	}
}

// queryFlags registers the flags shared by query and export.
type queryFlags struct {
	ancestor *string
	filters  *[]string
	orders   *[]string
	selects  *[]string
	distinct *[]string
	start    *string
	end      *string
	limit    *int
	offset   *int
}

func addQueryFlags(fs *flag.FlagSet) *queryFlags {
	return &queryFlags{
		ancestor: fs.StringP("ancestor", "a", "", "only documents under this key"),
		filters:  fs.StringArrayP("filter", "f", nil, `filter such as "age>=30" or 'team in ["red","blue"]' (repeatable)`),
		orders:   fs.StringArrayP("order", "o", nil, "sort field, prefix with - for descending (repeatable)"),
		selects:  fs.StringSliceP("select", "s", nil, "fields to return"),
		distinct: fs.StringSlice("distinct", nil, "return one document per distinct value of these fields"),
		start:    fs.String("start", "", "resume after this cursor"),
		end:      fs.String("end", "", "stop at this cursor"),
		limit:    fs.IntP("limit", "n", 0, "maximum documents to return"),
		offset:   fs.Int("offset", 0, "documents to skip"),
	}
}

func (f *queryFlags) build(kind string) (loader.Query, error) {
	q := loader.Query{
		Kind:       kind,
		Select:     *f.selects,
		DistinctOn: *f.distinct,
		Start:      *f.start,
		End:        *f.end,
		Limit:      *f.limit,
		Offset:     *f.offset,
	}
	if *f.ancestor != "" {
		k, err := loader.ParseKey(*f.ancestor)
		if err != nil {
			return loader.Query{}, err
		}
		q.Ancestor = k
	}
	for _, raw := range *f.filters {
		filter, err := parseFilter(raw)
		if err != nil {
			return loader.Query{}, err
		}
		q.Filters = append(q.Filters, filter)
	}
	for _, raw := range *f.orders {
		q.Orders = append(q.Orders, parseOrder(raw))
	}
	return q, nil
}

func queryCmd() *Command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	qf := addQueryFlags(fs)
	return &Command{
		Flags: fs,
		Usage: "query <kind> [flags]",
		Short: "Run a query and print matching documents",
		Exec: func(ctx context.Context, s *session, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: query needs a kind", errMissingArgs)
			}
			q, err := qf.build(args[0])
			if err != nil {
				return err
			}
			entities, info, err := s.loader().Query(ctx, q)
			if err != nil {
				return err
			}
			for _, e := range entities {
				if err := s.printJSON(record{Key: e.Key, Data: e.Data}); err != nil {
					return err
				}
			}
			if info.MoreResults {
				fmt.Fprintf(s.errOut, "more results: --start %s\n", info.EndCursor)
			}
			return nil
		},
	}
}

func exportCmd() *Command {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	qf := addQueryFlags(fs)
	out := fs.String("out", "", "file to write (replaced atomically)")
	pageSize := fs.Int("page-size", 100, "documents per query page")
	return &Command{
		Flags: fs,
		Usage: "export <kind> --out <file> [flags]",
		Short: "Write every matching document to a JSON file",
		Exec: func(ctx context.Context, s *session, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: export needs a kind", errMissingArgs)
			}
			if *out == "" {
				return errMissingOutput
			}
			q, err := qf.build(args[0])
			if err != nil {
				return err
			}
			docs, err := exportAll(ctx, s.loader(), q, *pageSize)
			if err != nil {
				return err
			}
			buf, err := json.MarshalIndent(docs, "", "  ")
			if err != nil {
				return err
			}
			if err := atomic.WriteFile(*out, bytes.NewReader(append(buf, '\n'))); err != nil {
				return fmt.Errorf("write %s: %w", *out, err)
			}
			fmt.Fprintf(s.out, "exported %d documents to %s\n", len(docs), *out)
			return nil
		},
	}
}

// exportAll pages through q. A query limit caps the total.
func exportAll(ctx context.Context, l *loader.Loader, q loader.Query, pageSize int) ([]record, error) {
	total := q.Limit
	docs := []record{}
	for {
		page := q
		page.Limit = pageSize
		if total > 0 && total-len(docs) < pageSize {
			page.Limit = total - len(docs)
		}
		entities, info, err := l.Query(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			docs = append(docs, record{Key: e.Key, Data: e.Data})
		}
		if !info.MoreResults || len(entities) == 0 || (total > 0 && len(docs) >= total) {
			return docs, nil
		}
		q.Start = info.EndCursor
		q.Offset = 0
	}
}

func initCmd() *Command {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	wait := fs.Duration("wait", 2*time.Minute, "how long to wait for tables to become active")
	return &Command{
		Flags: fs,
		Usage: "init <kind>...",
		Short: "Create DynamoDB tables for kinds (defaults to configured tables)",
		Exec: func(ctx context.Context, s *session, args []string) error {
			if s.conn.dynamo == nil {
				return errNeedsDynamo
			}
			kinds := args
			if len(kinds) == 0 {
				for _, t := range s.conn.dynamo.Registry().Tables() {
					kinds = append(kinds, t.Kind)
				}
			}
			if len(kinds) == 0 {
				return fmt.Errorf("%w: init needs a kind", errMissingArgs)
			}
			for _, kind := range kinds {
				if err := s.conn.dynamo.EnsureTable(ctx, s.conn.tables, kind, *wait); err != nil {
					return err
				}
				fmt.Fprintf(s.out, "table %s ready\n", s.conn.dynamo.TableName(kind))
			}
			return nil
		},
	}
}
