package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/policy"
)

func newListCmd(get func() *app) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List files and directories under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			entries, err := get().store.ListContents(cmd.Context(), prefix, recursive)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "include files of every sub-directory")
	return cmd
}

func printEntries(w io.Writer, entries []filestore.FileInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(tw, "DIR\t-\t-\t%s/\n", e.Path)
			continue
		}
		modified := "-"
		if !e.LastModified.IsZero() {
			modified = e.LastModified.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "FILE\t%d\t%s\t%s\n", e.Size, modified, e.Path)
	}
	return tw.Flush()
}

func newURLCmd(get func() *app) *cobra.Command {
	var (
		ttl    time.Duration
		method string
	)

	cmd := &cobra.Command{
		Use:   "url <path>",
		Short: "Print a temporary signed URL for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := get().signing.TemporaryURL(cmd.Context(), args[0], time.Now().Add(ttl), method)
			if err != nil {
				return err
			}
			cmd.Println(u)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "how long the URL stays valid")
	cmd.Flags().StringVarP(&method, "method", "X", filestore.DefaultMethod, "HTTP method the URL is signed for")
	return cmd
}

func newPolicyCmd(get func() *app) *cobra.Command {
	var (
		dir     string
		expire  time.Duration
		maxSize int64
		vars    []string
	)

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Sign a direct-upload policy and print it as JSON",
		Long: `Signs the same upload authorization GET /v1/uploads/policy returns.
Only the oss provider supports POST policies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			if a.policies == nil {
				return errs.Configuration("provider %q does not support upload policies", a.cfg.Storage.Provider)
			}

			custom, err := parseVars(vars)
			if err != nil {
				return err
			}
			req := policy.Request{
				Dir:              dir,
				CallbackURL:      a.cfg.Upload.CallbackURL,
				Expire:           a.cfg.Upload.Expire,
				MaxContentLength: a.cfg.Upload.MaxContentLength,
				SystemFields:     a.cfg.Upload.PolicySystemFields(),
				CustomFields:     custom,
			}
			if expire > 0 {
				req.Expire = expire
			}
			if maxSize > 0 {
				req.MaxContentLength = maxSize
			}

			resp, err := a.policies.UploadPolicy(req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "key prefix uploads are restricted to")
	cmd.Flags().DurationVar(&expire, "expire", 0, "policy lifetime (default upload.expire)")
	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "upload size cap in bytes (default upload.max_content_length)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "custom callback variable as name=value (repeatable)")
	return cmd
}

// parseVars turns name=value pairs into custom fields, keeping their order.
func parseVars(pairs []string) ([]policy.CustomField, error) {
	out := make([]policy.CustomField, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, errs.InvalidArgument("--var must be name=value, got %q", p)
		}
		out = append(out, policy.CustomField{Name: name, Value: value})
	}
	return out, nil
}
