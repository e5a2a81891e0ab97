package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"contenthub.org/internal/content"
	"contenthub.org/internal/store"
)

func postsStore(r *store.Registry) *store.Store[content.Post]       { return r.Posts }
func blogsStore(r *store.Registry) *store.Store[content.Blog]       { return r.Blogs }
func commentsStore(r *store.Registry) *store.Store[content.Comment] { return r.Comments }
func eventsStore(r *store.Registry) *store.Store[content.Event]     { return r.Events }
func expertsStore(r *store.Registry) *store.Store[content.Expert]   { return r.Experts }

// resourceCommand builds list/show/create/update/delete (and like/dislike for
// reactive resources) under one noun.
func resourceCommand[T content.Entity](name, short string, pick func(*store.Registry) *store.Store[T], reactive bool) *cobra.Command {
	root := &cobra.Command{Use: name, Short: short}

	var (
		filters store.Filters
		params  []string
		asJSON  bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List " + name,
		RunE: func(cmd *cobra.Command, _ []string) error {
			extra, err := parseParams(params)
			if err != nil {
				return err
			}
			f := filters
			f.Extra = extra
			s := pick(app.stores)
			if err := s.Fetch(cmd.Context(), f); err != nil {
				return err
			}
			snap := s.Snapshot()
			if asJSON {
				return printJSON(app.out, snap.Items)
			}
			printTable(app.out, snap.Items)
			fmt.Fprintf(app.out, "page %d/%d, %d total\n", snap.Page.Page, snap.Page.TotalPages, snap.Page.Total)
			return nil
		},
	}
	list.Flags().IntVar(&filters.Page, "page", 1, "page number")
	list.Flags().IntVar(&filters.PerPage, "per-page", 20, "items per page")
	list.Flags().StringVarP(&filters.Query, "query", "q", "", "free-text filter")
	list.Flags().StringArrayVar(&params, "param", nil, "extra filter as key=value (repeatable)")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := pick(app.stores).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(app.out, v)
		},
	}

	var dataFile string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an item from a JSON document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readPayload[T](cmd, dataFile)
			if err != nil {
				return err
			}
			v, err := pick(app.stores).Create(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return printJSON(app.out, v)
		},
	}
	create.Flags().StringVarP(&dataFile, "file", "f", "-", "JSON document path, - for stdin")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace an item with a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload[T](cmd, dataFile)
			if err != nil {
				return err
			}
			v, err := pick(app.stores).Update(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			return printJSON(app.out, v)
		},
	}
	update.Flags().StringVarP(&dataFile, "file", "f", "-", "JSON document path, - for stdin")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pick(app.stores).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(app.out, "deleted %s\n", args[0])
			return nil
		},
	}

	root.AddCommand(list, show, create, update, del)
	if reactive {
		root.AddCommand(
			toggleCommand("like", pick, func(s *store.Store[T], cmd *cobra.Command, id string) (content.Reaction, error) {
				return s.ToggleLike(cmd.Context(), id)
			}),
			toggleCommand("dislike", pick, func(s *store.Store[T], cmd *cobra.Command, id string) (content.Reaction, error) {
				return s.ToggleDislike(cmd.Context(), id)
			}),
		)
	}
	return root
}

func toggleCommand[T content.Entity](verb string, pick func(*store.Registry) *store.Store[T], do func(*store.Store[T], *cobra.Command, string) (content.Reaction, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: "Toggle " + verb + " on an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := do(pick(app.stores), cmd, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "%s liked=%t disliked=%t likes=%d dislikes=%d\n",
				args[0], r.IsLiked, r.IsDisliked, r.LikesCount, r.DislikesCount)
			return nil
		},
	}
}

// readPayload decodes a T so unknown fields are rejected before anything is
// sent.
func readPayload[T any](cmd *cobra.Command, path string) (T, error) {
	var v T
	var r io.Reader = cmd.InOrStdin()
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return v, err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

func parseParams(kvs []string) (url.Values, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := url.Values{}
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		out.Add(strings.TrimSpace(k), v)
	}
	return out, nil
}

func printTable[T content.Entity](w io.Writer, items []T) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUMMARY\tREACTIONS")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.EntityID(), summary(it), reactions(&it))
	}
	_ = tw.Flush()
}

func summary(v any) string {
	var s string
	switch e := v.(type) {
	case content.Post:
		s = e.Title
	case content.Blog:
		s = e.Title
	case content.Comment:
		s = e.Body
	case content.Event:
		s = e.Title + " @ " + e.StartsAt.Format("2006-01-02 15:04")
	case content.Expert:
		s = e.Name
		if e.Headline != "" {
			s += " - " + e.Headline
		}
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

// reactions takes a pointer: the Reactive method set lives on *T.
func reactions(ptr any) string {
	r, ok := ptr.(content.Reactive)
	if !ok {
		return "-"
	}
	rc := r.Reactions()
	mark := ""
	switch {
	case rc.IsLiked:
		mark = " (liked)"
	case rc.IsDisliked:
		mark = " (disliked)"
	}
	return fmt.Sprintf("+%d/-%d%s", rc.LikesCount, rc.DislikesCount, mark)
}
