package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"contenthub.org/internal/apiclient"
	"contenthub.org/internal/content"
)

func uploadCommand() *cobra.Command {
	var (
		field string
		path  string
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file with a progress indicator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			var out map[string]any
			err = app.session.Client().Upload(cmd.Context(), path, apiclient.File{
				Field:   field,
				Name:    info.Name(),
				Content: f,
				Size:    info.Size(),
			}, func(pct int) {
				fmt.Fprintf(app.errOut, "\ruploading %s %3d%%", info.Name(), pct)
			}, &out)
			fmt.Fprintln(app.errOut)
			if err != nil {
				return err
			}
			return printJSON(app.out, out)
		},
	}
	cmd.Flags().StringVar(&field, "field", "file", "multipart field name")
	cmd.Flags().StringVar(&path, "path", "/uploads", "upload endpoint")
	return cmd
}

// publicCommand reads the unauthenticated, envelope-wrapped listings.
func publicCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "public",
		Short: "Browse public listings without signing in",
	}
	root.AddCommand(
		publicList[content.Post]("posts"),
		publicList[content.Event]("events"),
		publicList[content.Expert]("experts"),
	)
	return root
}

func publicList[T content.Entity](name string) *cobra.Command {
	var page, perPage int
	var query string
	cmd := &cobra.Command{
		Use:   name,
		Short: "List public " + name,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("per_page", strconv.Itoa(perPage))
			if query != "" {
				q.Set("q", query)
			}
			var out content.Page[T]
			if err := app.public.Get(cmd.Context(), "/public/"+name, &out, apiclient.WithQuery(q)); err != nil {
				return err
			}
			printTable(app.out, out.Items)
			fmt.Fprintf(app.out, "page %d/%d, %d total\n", out.Page, out.TotalPages, out.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "items per page")
	cmd.Flags().StringVarP(&query, "query", "q", "", "free-text filter")
	return cmd
}
