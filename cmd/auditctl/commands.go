package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/repo"
	"auditdesk.io/internal/requests"
)

const timeLayout = "2006-01-02 15:04"

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage user profiles"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepos(cmd, func(ctx context.Context, r *repo.Repositories) error {
				users, err := r.Users().List(ctx)
				if err != nil {
					return err
				}
				if asJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), users)
				}
				return printTable(cmd.OutOrStdout(), []string{"ID", "EMAIL", "NAME", "ROLE", "CREATED"}, func(emit func(...string)) {
					for _, u := range users {
						emit(u.ID, u.Email, u.Name, string(u.Role), u.CreatedAt.Format(timeLayout))
					}
				})
			})
		},
	})
	return cmd
}

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "requests", Short: "Inspect document requests"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			overdueOnly, _ := cmd.Flags().GetBool("overdue")
			return withRepos(cmd, func(ctx context.Context, r *repo.Repositories) error {
				all, err := r.Requests().List(ctx)
				if err != nil {
					return err
				}
				rows, err := filterRequests(all, status, overdueOnly, time.Now().UTC())
				if err != nil {
					return err
				}
				if asJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				return printTable(cmd.OutOrStdout(), []string{"ID", "TITLE", "STATUS", "ASSIGNEE", "DEPARTMENT", "DUE"}, func(emit func(...string)) {
					for _, req := range rows {
						assignee := req.AssignedToEmail
						if req.PendingAssignment {
							assignee += " (pending)"
						}
						emit(req.ID, req.Title, string(req.Status), assignee, req.Department, req.DueDate.Format("2006-01-02"))
					}
				})
			})
		},
	}
	list.Flags().String("status", "", "Only requests with this status")
	list.Flags().Bool("overdue", false, "Only overdue requests")
	cmd.AddCommand(list)
	return cmd
}

func filterRequests(all []domain.Request, status string, overdueOnly bool, now time.Time) ([]domain.Request, error) {
	var want domain.Status
	if strings.TrimSpace(status) != "" {
		s, ok := domain.ParseStatus(status)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", status)
		}
		want = s
	}
	out := make([]domain.Request, 0, len(all))
	for _, req := range all {
		if want != "" && req.Status != want {
			continue
		}
		if overdueOnly && !requests.IsOverdue(req, now) {
			continue
		}
		out = append(out, req)
	}
	// ids are ULIDs, so reverse key order is newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Read the audit trail"}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("lines")
			action, _ := cmd.Flags().GetString("action")
			return withRepos(cmd, func(ctx context.Context, r *repo.Repositories) error {
				entries, err := r.AuditLogs().List(ctx)
				if err != nil {
					return err
				}
				entries = tailAudit(entries, action, n)
				if asJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				return printTable(cmd.OutOrStdout(), []string{"TIME", "ACTION", "USER", "REQUEST", "DOCUMENT"}, func(emit func(...string)) {
					for _, e := range entries {
						emit(e.Timestamp.Format(time.RFC3339), e.Action, e.UserID, e.RequestID, e.DocumentID)
					}
				})
			})
		},
	}
	tail.Flags().IntP("lines", "n", 20, "Number of entries")
	tail.Flags().String("action", "", "Only entries with this action")
	cmd.AddCommand(tail)
	return cmd
}

// tailAudit keeps the newest n entries matching action; entries arrive
// newest first.
func tailAudit(entries []domain.AuditEntry, action string, n int) []domain.AuditEntry {
	action = strings.TrimSpace(action)
	out := make([]domain.AuditEntry, 0, len(entries))
	for _, e := range entries {
		if action != "" && e.Action != action {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

func emailsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "emails", Short: "Read the email log"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent email attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("limit")
			failedOnly, _ := cmd.Flags().GetBool("failed")
			return withRepos(cmd, func(ctx context.Context, r *repo.Repositories) error {
				records, err := r.Emails().List(ctx)
				if err != nil {
					return err
				}
				out := make([]domain.EmailRecord, 0, len(records))
				for _, rec := range records {
					if failedOnly && rec.Status != domain.EmailStatusFailed {
						continue
					}
					out = append(out, rec)
					if n > 0 && len(out) == n {
						break
					}
				}
				if asJSON(cmd) {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				return printTable(cmd.OutOrStdout(), []string{"SENT", "TYPE", "STATUS", "TO", "SUBJECT"}, func(emit func(...string)) {
					for _, rec := range out {
						emit(rec.SentAt.Format(timeLayout), rec.EmailType, rec.Status, strings.Join(rec.To, ","), rec.Subject)
					}
				})
			})
		},
	}
	list.Flags().IntP("limit", "n", 20, "Number of records")
	list.Flags().Bool("failed", false, "Only failed deliveries")
	cmd.AddCommand(list)
	return cmd
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, header []string, rows func(emit func(...string))) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	rows(func(cols ...string) {
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	})
	return tw.Flush()
}
