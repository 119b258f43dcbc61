package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "media-fetch",
		Short: "media-fetch CLI - audio download jobs for playlists and single tracks",
		Long:  `A command-line client for the media-fetch server: queue, watch, pause, cancel and collect download jobs.`,
	}
)

type jobSummary struct {
	ID           string  `json:"id"`
	URL          string  `json:"url"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	Message      string  `json:"message"`
	Title        string  `json:"title"`
	TotalItems   int     `json:"total_items"`
	CurrentItem  int     `json:"current_item"`
	Paused       bool    `json:"paused"`
	ArchiveReady bool    `json:"archive_ready"`
	CreatedAt    string  `json:"created_at"`
}

type jobItem struct {
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error"`
}

type jobDetail struct {
	jobSummary
	OutputDir   string    `json:"output_dir"`
	ArchivePath string    `json:"archive_path"`
	Logs        []string  `json:"logs"`
	PausedItems []int     `json:"paused_items"`
	Items       []jobItem `json:"items"`
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(pauseItemCmd)
	rootCmd.AddCommand(resumeItemCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(logsCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

var addCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Queue a download job",
	Long: `Queue a download of a playlist or single track. With --item, only the
given track URLs are downloaded; --title and --thumb match items by position.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		items, _ := cmd.Flags().GetStringArray("item")
		titles, _ := cmd.Flags().GetStringArray("title")
		thumbs, _ := cmd.Flags().GetStringArray("thumb")

		payload := map[string]interface{}{"url": args[0]}
		if len(items) > 0 {
			payload["items"] = items
			payload["titles"] = titles
			payload["thumbnails"] = thumbs
		}

		var job jobSummary
		exitOnError(call(http.MethodPost, "/api/v1/jobs", payload, &job))
		fmt.Printf("Job queued\n")
		fmt.Printf("ID: %s\n", job.ID)
		fmt.Printf("Status: %s\n", job.Status)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		status, _ := cmd.Flags().GetString("status")

		var result struct {
			Jobs []jobSummary `json:"jobs"`
		}
		exitOnError(call(http.MethodGet, "/api/v1/jobs", nil, &result))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPROGRESS\tITEMS\tMESSAGE")
		for _, j := range result.Jobs {
			if status != "" && j.Status != status {
				continue
			}
			title := j.Title
			if title == "" {
				title = j.URL
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
				truncate(j.ID, 8),
				truncate(title, 40),
				statusLabel(j.Status, j.Paused),
				j.Progress,
				itemsLabel(j.CurrentItem, j.TotalItems),
				truncate(j.Message, 40))
		}
		w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		jsonOutput, _ := cmd.Flags().GetBool("json")
		showLogs, _ := cmd.Flags().GetBool("logs")

		if jsonOutput {
			var raw map[string]interface{}
			exitOnError(call(http.MethodGet, "/api/v1/jobs/"+args[0], nil, &raw))
			pretty, _ := json.MarshalIndent(raw, "", "  ")
			fmt.Println(string(pretty))
			return
		}

		var job jobDetail
		exitOnError(call(http.MethodGet, "/api/v1/jobs/"+args[0], nil, &job))
		printJob(job, showLogs)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	Run:   controlRun("cancel", "Cancel requested"),
}

var pauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause a job",
	Args:  cobra.ExactArgs(1),
	Run:   controlRun("pause", "Job paused"),
}

var resumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	Run:   controlRun("resume", "Job resumed"),
}

var pauseItemCmd = &cobra.Command{
	Use:   "pause-item [id] [index]",
	Short: "Pause one item of a job (1-based index)",
	Args:  cobra.ExactArgs(2),
	Run:   itemControlRun("pause", "Item paused"),
}

var resumeItemCmd = &cobra.Command{
	Use:   "resume-item [id] [index]",
	Short: "Resume one paused item of a job",
	Args:  cobra.ExactArgs(2),
	Run:   itemControlRun("resume", "Item resumed"),
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a job and its files",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		exitOnError(call(http.MethodDelete, "/api/v1/jobs/"+args[0], nil, nil))
		fmt.Println("Job deleted")
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive [id]",
	Short: "Download the zip archive of a finished job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		id := args[0]
		output, _ := cmd.Flags().GetString("output")
		rebuild, _ := cmd.Flags().GetBool("rebuild")

		if rebuild {
			exitOnError(call(http.MethodPost, "/api/v1/jobs/"+id+"/invalidate-archive", nil, nil))
			fmt.Println("Archive rebuild started")
			return
		}

		if output == "" {
			output = id + ".zip"
		}
		n, err := download("/api/v1/jobs/"+id+"/archive", output)
		exitOnError(err)
		fmt.Printf("Saved %s (%s)\n", output, formatBytes(n))
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs and their files",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		days, _ := cmd.Flags().GetInt("days")
		all, _ := cmd.Flags().GetBool("all")
		if !all && days <= 0 {
			exitOnError(fmt.Errorf("pass --days N or --all"))
		}

		var result struct {
			DeletedCount int   `json:"deleted_count"`
			FreedBytes   int64 `json:"freed_bytes"`
		}
		payload := map[string]interface{}{"days": days, "all": all}
		exitOnError(call(http.MethodPost, "/api/v1/storage/cleanup", payload, &result))
		fmt.Printf("Deleted %d jobs, freed %s\n", result.DeletedCount, formatBytes(result.FreedBytes))
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show disk space used by jobs",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		var usage struct {
			JobCount   int   `json:"job_count"`
			TotalBytes int64 `json:"total_bytes"`
		}
		exitOnError(call(http.MethodGet, "/api/v1/storage/usage", nil, &usage))
		fmt.Printf("Jobs:  %d\n", usage.JobCount)
		fmt.Printf("Space: %s\n", formatBytes(usage.TotalBytes))
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "Show server logs (jobs, error)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		date, _ := cmd.Flags().GetString("date")
		limit, _ := cmd.Flags().GetInt("limit")
		search, _ := cmd.Flags().GetString("search")

		query := url.Values{}
		query.Set("limit", strconv.Itoa(limit))
		if date != "" {
			query.Set("date", date)
		}
		path := "/api/v1/logs/" + url.PathEscape(args[0])
		if search != "" {
			path += "/search"
			query.Set("q", search)
		}

		var result struct {
			Entries []struct {
				Timestamp string                 `json:"timestamp"`
				Level     string                 `json:"level"`
				Message   string                 `json:"message"`
				Fields    map[string]interface{} `json:"fields"`
			} `json:"entries"`
		}
		exitOnError(call(http.MethodGet, path+"?"+query.Encode(), nil, &result))

		for _, e := range result.Entries {
			fmt.Printf("%s %-5s %s%s\n", e.Timestamp, strings.ToUpper(e.Level), e.Message, formatFields(e.Fields))
		}
	},
}

func init() {
	addCmd.Flags().StringArray("item", nil, "Track URL to download (repeatable)")
	addCmd.Flags().StringArray("title", nil, "Title for the matching --item (repeatable)")
	addCmd.Flags().StringArray("thumb", nil, "Thumbnail URL for the matching --item (repeatable)")
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	getCmd.Flags().BoolP("json", "j", false, "Output in JSON format")
	getCmd.Flags().BoolP("logs", "l", false, "Include the job's process output")
	archiveCmd.Flags().StringP("output", "o", "", "Output file (default <id>.zip)")
	archiveCmd.Flags().Bool("rebuild", false, "Rebuild the archive instead of downloading it")
	cleanupCmd.Flags().Int("days", 0, "Delete finished jobs older than this many days")
	cleanupCmd.Flags().Bool("all", false, "Delete every finished job")
	logsCmd.Flags().String("date", "", "Day to read (YYYY-MM-DD, default today)")
	logsCmd.Flags().IntP("limit", "n", 100, "Maximum entries")
	logsCmd.Flags().StringP("search", "q", "", "Only entries containing this text")
}

func controlRun(action, done string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		ensureServer()
		var job jobSummary
		exitOnError(call(http.MethodPost, "/api/v1/jobs/"+args[0]+"/"+action, nil, &job))
		fmt.Printf("%s (status: %s)\n", done, statusLabel(job.Status, job.Paused))
	}
}

func itemControlRun(action, done string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		ensureServer()
		if _, err := strconv.Atoi(args[1]); err != nil {
			exitOnError(fmt.Errorf("invalid item index %q", args[1]))
		}
		path := "/api/v1/jobs/" + args[0] + "/items/" + args[1] + "/" + action
		exitOnError(call(http.MethodPost, path, nil, nil))
		fmt.Println(done)
	}
}

func printJob(job jobDetail, showLogs bool) {
	fmt.Printf("Job Details:\n")
	fmt.Printf("  ID:       %s\n", job.ID)
	fmt.Printf("  URL:      %s\n", job.URL)
	if job.Title != "" {
		fmt.Printf("  Title:    %s\n", job.Title)
	}
	fmt.Printf("  Status:   %s\n", statusLabel(job.Status, job.Paused))
	fmt.Printf("  Progress: %.1f%%\n", job.Progress)
	fmt.Printf("  Items:    %s\n", itemsLabel(job.CurrentItem, job.TotalItems))
	fmt.Printf("  Message:  %s\n", job.Message)
	fmt.Printf("  Created:  %s\n", job.CreatedAt)
	if job.OutputDir != "" {
		fmt.Printf("  Output:   %s\n", job.OutputDir)
	}
	if job.ArchiveReady {
		fmt.Printf("  Archive:  %s\n", job.ArchivePath)
	}

	if len(job.Items) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tTITLE\tSTATUS\tPROGRESS\tERROR")
		for _, it := range job.Items {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.0f%%\t%s\n",
				it.Index, truncate(it.Title, 40), it.Status, it.Progress, it.Error)
		}
		w.Flush()
	}

	if showLogs && len(job.Logs) > 0 {
		fmt.Println()
		for _, line := range job.Logs {
			fmt.Println(line)
		}
	}
}

func statusLabel(status string, paused bool) string {
	if paused && status == "running" {
		return "paused"
	}
	return status
}

func itemsLabel(current, total int) string {
	if total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", current, total)
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, key := range []string{"job_id", "item_index", "status", "exit_code", "error"} {
		if v, ok := fields[key]; ok {
			fmt.Fprintf(&b, " %s=%v", key, v)
		}
	}
	return b.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
