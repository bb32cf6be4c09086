package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Commvault/cvpysdk-sub002/internal/logging"
	"github.com/Commvault/cvpysdk-sub002/internal/utils"
	"github.com/Commvault/cvpysdk-sub002/ops"
	"github.com/Commvault/cvpysdk-sub002/vsa"
)

const maxColWidth = 60 // Column width limit of CLI tables

func newTable(headers ...any) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = maxColWidth
	table.AddRow(headers...)
	return table
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "list <collection>",
		Short:     "List the entities of a Commcell collection",
		Long:      "List names and ids of a collection. Collections: " + strings.Join(collectionNames(), ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: collectionNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()
			return runList(cmd.Context(), cmd.OutOrStdout(), sess, args[0])
		},
	}
}

func runList(ctx context.Context, w io.Writer, sess *session, name string) error {
	col, ok := sess.collection(strings.ToLower(name))
	if !ok {
		return fmt.Errorf("unknown collection %q, expected one of: %s", name, strings.Join(collectionNames(), ", "))
	}
	entries, err := col.list(ctx)
	if err != nil {
		return errors.Annotatef(err, "listing %s", col.name)
	}

	table := newTable("NAME", "ID", "DETAILS")
	for _, e := range entries {
		table.AddRow(e.name, e.id, e.detail)
	}
	_, _ = fmt.Fprintln(w, table)
	_, _ = fmt.Fprintf(w, "%s %s\n", humanize.Comma(int64(len(entries))), col.name)
	return nil
}

func newActivityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activity [enable|disable] [type]",
		Short: "Show or change Commcell activity control",
		Long: "Without arguments every activity is listed. With a type only that activity is shown; " +
			"with enable or disable it is switched. Types: " + activityNames(),
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()
			return runActivity(cmd.Context(), cmd.OutOrStdout(), ops.NewActivityControl(sess.cc), args)
		},
	}
}

func activityNames() string {
	names := make([]string, 0, len(ops.ActivityTypes()))
	for _, a := range ops.ActivityTypes() {
		names = append(names, strings.ToLower(strings.ReplaceAll(string(a), " ", "-")))
	}
	return strings.Join(names, ", ")
}

// parseActivity accepts "DATA MANAGEMENT", "data-management" or
// "data_management".
func parseActivity(name string) (ops.ActivityType, error) {
	normalized := strings.ToUpper(strings.NewReplacer("-", " ", "_", " ").Replace(strings.TrimSpace(name)))
	activity := ops.ActivityType(normalized)
	if _, ok := activity.Code(); !ok {
		return "", fmt.Errorf("unknown activity type %q, expected one of: %s", name, activityNames())
	}
	return activity, nil
}

func runActivity(ctx context.Context, w io.Writer, ac *ops.ActivityControl, args []string) error {
	switch len(args) {
	case 0:
		if err := ac.Refresh(ctx); err != nil {
			return errors.Annotate(err, "reading activity control")
		}
		table := newTable("ACTIVITY", "STATUS", "RE-ENABLE")
		statuses := ac.Statuses()
		for _, activity := range ops.ActivityTypes() {
			code, _ := activity.Code()
			for _, s := range statuses {
				if s.ActivityType == code {
					table.AddRow(string(activity), enabledWord(s.Enabled), reEnable(s))
					break
				}
			}
		}
		_, _ = fmt.Fprintln(w, table)
		return nil

	case 1:
		activity, err := parseActivity(args[0])
		if err != nil {
			return err
		}
		enabled, err := ac.IsEnabled(ctx, activity)
		if err != nil {
			return errors.Annotatef(err, "reading %s", activity)
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", activity, enabledWord(enabled))
		return nil
	}

	var action string
	switch strings.ToLower(args[0]) {
	case "enable":
		action = ops.ActionEnable
	case "disable":
		action = ops.ActionDisable
	default:
		return fmt.Errorf("unknown action %q, expected enable or disable", args[0])
	}
	activity, err := parseActivity(args[1])
	if err != nil {
		return err
	}
	if err := ac.Set(ctx, activity, action); err != nil {
		return errors.Annotatef(err, "%s %s", strings.ToLower(action), activity)
	}
	logging.LogFields(log.Fields{"activity": string(activity), "action": action}, "Activity control changed")
	_, _ = fmt.Fprintf(w, "%s: %sd\n", activity, strings.ToLower(action))
	return nil
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func reEnable(s ops.ActivityStatus) string {
	if s.Enabled || s.ReEnableTime <= 0 {
		return ""
	}
	return utils.HumanTime(s.ReEnableTime)
}

func newMetricsCmd() *cobra.Command {
	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Commcell metrics reporting",
	}

	var (
		timeout time.Duration
		private bool
	)
	waitCmd := &cobra.Command{
		Use:       "wait <download|collection|upload>",
		Short:     "Wait for a metrics reporting stage to complete",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"download", "collection", "upload"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			poll := ops.WithPollInterval(sess.cfg.MetricsPollInterval())
			var m *ops.Metrics
			if private {
				m = ops.NewPrivateMetrics(sess.cc, poll).Metrics
			} else {
				m = ops.NewCloudMetrics(sess.cc, poll).Metrics
			}
			return runMetricsWait(cmd.Context(), cmd.OutOrStdout(), m, args[0], timeout)
		},
	}
	waitCmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait; the stage default when unset")
	waitCmd.Flags().BoolVar(&private, "private", false, "Use the private metrics server instead of cloud metrics")

	metricsCmd.AddCommand(waitCmd)
	return metricsCmd
}

type metricsStage struct {
	timeout time.Duration
	wait    func(m *ops.Metrics) func(context.Context, time.Duration) error
	last    func(m *ops.Metrics) func(context.Context) (int64, error)
}

var metricsStages = map[string]metricsStage{
	"download": {
		timeout: ops.DefaultDownloadTimeout,
		wait:    func(m *ops.Metrics) func(context.Context, time.Duration) error { return m.WaitForDownloadCompletion },
		last:    func(m *ops.Metrics) func(context.Context) (int64, error) { return m.LastDownloadTime },
	},
	"collection": {
		timeout: ops.DefaultCollectionTimeout,
		wait:    func(m *ops.Metrics) func(context.Context, time.Duration) error { return m.WaitForCollectionCompletion },
		last:    func(m *ops.Metrics) func(context.Context) (int64, error) { return m.LastCollectionTime },
	},
	"upload": {
		timeout: ops.DefaultUploadTimeout,
		wait:    func(m *ops.Metrics) func(context.Context, time.Duration) error { return m.WaitForUploadCompletion },
		last:    func(m *ops.Metrics) func(context.Context) (int64, error) { return m.LastUploadTime },
	},
}

func runMetricsWait(ctx context.Context, w io.Writer, m *ops.Metrics, stageName string, timeout time.Duration) error {
	stage, ok := metricsStages[strings.ToLower(stageName)]
	if !ok {
		return fmt.Errorf("unknown metrics stage %q, expected download, collection or upload", stageName)
	}
	if timeout <= 0 {
		timeout = stage.timeout
	}
	logging.LogDebug(fmt.Sprintf("Waiting up to %s for metrics %s", timeout, strings.ToLower(stageName)))
	if err := stage.wait(m)(ctx, timeout); err != nil {
		return err
	}
	last, err := stage.last(m)(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s completed %s\n", strings.ToLower(stageName), utils.HumanTime(last))
	return nil
}

func newBrowseCmd() *cobra.Command {
	var (
		entity  vsa.Entity
		deleted bool
	)
	cmd := &cobra.Command{
		Use:   "browse [path...]",
		Short: "Browse the backed up content of a virtual-server backupset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if entity.ClientName == "" || entity.BackupsetID == 0 {
				return fmt.Errorf("--client and --backupset-id are required")
			}
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()
			return runBrowse(cmd.Context(), cmd.OutOrStdout(), sess.backupset(entity),
				vsa.BrowseOptions{Paths: args, ShowDeleted: deleted})
		},
	}
	f := cmd.Flags()
	f.StringVar(&entity.ClientName, "client", "", "Virtualization client name")
	f.IntVar(&entity.ClientID, "client-id", 0, "Virtualization client id")
	f.StringVar(&entity.InstanceName, "instance", "", "Instance name")
	f.IntVar(&entity.InstanceID, "instance-id", 0, "Instance id")
	f.StringVar(&entity.BackupsetName, "backupset", "defaultBackupSet", "Backupset name")
	f.IntVar(&entity.BackupsetID, "backupset-id", 0, "Backupset id")
	f.IntVar(&entity.SubclientID, "subclient-id", 0, "Subclient id")
	f.BoolVar(&deleted, "deleted", false, "Include deleted items")
	return cmd
}

func runBrowse(ctx context.Context, w io.Writer, bs *vsa.Backupset, opts vsa.BrowseOptions) error {
	items, err := bs.Browse(ctx, opts)
	if err != nil {
		return errors.Annotatef(err, "browsing %s", bs.Name())
	}
	table := newTable("PATH", "TYPE", "SIZE", "MODIFIED")
	var total uint64
	for _, item := range items {
		size := uint64(max(item.Size, 0))
		total += size
		modified := ""
		if !item.ModifiedTime.IsZero() {
			modified = humanize.Time(item.ModifiedTime)
		}
		table.AddRow(item.Path, item.Type, humanize.Bytes(size), modified)
	}
	_, _ = fmt.Fprintln(w, table)
	_, _ = fmt.Fprintf(w, "%s items, %s\n", humanize.Comma(int64(len(items))), humanize.Bytes(total))
	return nil
}
