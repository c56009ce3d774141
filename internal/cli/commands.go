package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sharedash/internal/config"
	"sharedash/internal/fs/graph"
	"sharedash/internal/transform"
)

func newLsCmd() *cobra.Command {
	var folderID string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List a folder (library root by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.ListChildren(GetContext(), cfg.ContainerID(), folderID)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tSIZE\tID")
			for _, e := range entries {
				size := "-"
				if e.IsFile() {
					size = humanSize(e.Size)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Kind, e.Name, size, e.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&folderID, "folder", "", "Folder ID to list (empty = root)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var fileID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Data quality report (nulls, unexpected types, out-of-range) for a CSV or XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.store.Download(GetContext(), cfg.ContainerID(), fileID)
			if err != nil {
				return err
			}
			table, err := transform.Parse(data)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), fileID, table)
			return nil
		},
	}
	cmd.Flags().StringVar(&fileID, "file", "", "File ID")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with the authorization-code flow and cache the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Store.Backend != config.BackendGraph || cfg.Graph.AuthMode != config.AuthAuthorizationCode {
				return errors.New("login 仅用于 store.backend=graph 且 graph.auth_mode=authorization_code")
			}
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			tok, err := graph.Login(GetContext(), oauthConfig(cfg), func(authURL string) {
				fmt.Fprintf(out, "Open this URL in a browser to sign in:\n\n  %s\n\nWaiting for the redirect to %s ...\n",
					authURL, cfg.Graph.RedirectURL)
			})
			if err != nil {
				return err
			}
			a.tokens.Seed(tok)
			fmt.Fprintf(out, "signed in, token cached in %s (expires %s)\n", cfg.System.DBPath, tok.Expiry.Format("2006-01-02 15:04"))
			return nil
		},
	}
}

// printStats 脏数据报告 + 数值列的 min/max/mean
func printStats(w io.Writer, name string, table *transform.Table) {
	fmt.Fprintf(w, "%s: %d rows, %d columns\n", name, len(table.Rows), len(table.Columns))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tNULL %\tUNEXPECTED TYPE %\tOUT OF RANGE %\tMIN\tMAX\tMEAN")
	for _, st := range transform.Dirtiness(table) {
		minV, maxV, meanV := "-", "-", "-"
		if v, err := table.Min(st.Column); err == nil {
			minV = fmt.Sprintf("%g", v)
		}
		if v, err := table.Max(st.Column); err == nil {
			maxV = fmt.Sprintf("%g", v)
		}
		if v, err := table.Mean(st.Column); err == nil {
			meanV = fmt.Sprintf("%.2f", v)
		}
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\t%s\t%s\t%s\n",
			st.Column, st.NullPct, st.UnexpectedTypePct, st.OutOfRangePct, minV, maxV, meanV)
	}
	_ = tw.Flush()
}

const defaultHeadRows = 10

// printHead 表头加前 limit 行
func printHead(w io.Writer, name string, table *transform.Table, limit int) {
	shown := min(limit, len(table.Rows))
	fmt.Fprintf(w, "%s: showing %d of %d rows\n", name, shown, len(table.Rows))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(table.Columns, "\t"))
	for _, row := range table.Rows[:shown] {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}
