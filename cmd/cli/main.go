package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourusername/yt-relay/internal/domain"
	"github.com/yourusername/yt-relay/pkg/logger"
)

var (
	serverURL   string
	configFile  string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "yt-relay",
		Short: "yt-relay CLI - submit and follow YouTube downloads",
		Long:  `A command-line client for the yt-relay download server.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8765", "Server URL")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file passed to an auto-started server")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(historyCmd)
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

// getJSON fetches path from the server and decodes the body into out
func getJSON(path string, out interface{}) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var addCmd = &cobra.Command{
	Use:   "add [video id or url]",
	Short: "Download a video and follow its progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		detach, _ := cmd.Flags().GetBool("detach")

		key, err := domain.ResolveKey(args[0])
		exitOnError(err)

		conn, err := dialEvents()
		exitOnError(err)
		defer conn.Close()

		exitOnError(submit(conn, args[0]))
		ok, err := follow(conn, key, detach, os.Stdout)
		exitOnError(err)
		if !ok {
			os.Exit(1)
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every event broadcast by the server",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		conn, err := dialEvents()
		exitOnError(err)
		defer conn.Close()

		exitOnError(watch(conn, os.Stdout))
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all downloads",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		status, _ := cmd.Flags().GetString("status")

		path := "/api/v1/downloads"
		if status != "" {
			path += "?status=" + url.QueryEscape(status)
		}

		var result struct {
			Count     int                   `json:"count"`
			Downloads map[string]domain.Job `json:"downloads"`
		}
		exitOnError(getJSON(path, &result))

		keys := make([]string, 0, len(result.Downloads))
		for key := range result.Downloads {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VIDEO\tSTATUS\tPERCENT\tTITLE")
		for _, key := range keys {
			job := result.Downloads[key]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				key, job.Status, formatPercent(job.Percent), truncate(deref(job.Title), 40))
		}
		w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var stats struct {
			Jobs          domain.JobStats `json:"jobs"`
			ActiveWorkers int             `json:"active_workers"`
		}
		exitOnError(getJSON("/api/v1/downloads/stats", &stats))

		fmt.Println("Download Statistics:")
		fmt.Printf("  Total:       %d\n", stats.Jobs.Total)
		fmt.Printf("  Queued:      %d\n", stats.Jobs.Queued)
		fmt.Printf("  Starting:    %d\n", stats.Jobs.Starting)
		fmt.Printf("  Downloading: %d\n", stats.Jobs.Downloading)
		fmt.Printf("  Extracting:  %d\n", stats.Jobs.Extracting)
		fmt.Printf("  Finished:    %d\n", stats.Jobs.Finished)
		fmt.Printf("  Failed:      %d\n", stats.Jobs.Failed)
		fmt.Printf("  Workers:     %d\n", stats.ActiveWorkers)
	},
}

var getCmd = &cobra.Command{
	Use:   "get [video id]",
	Short: "Get download details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		key, err := domain.ResolveKey(args[0])
		exitOnError(err)

		var job domain.Job
		exitOnError(getJSON("/api/v1/downloads/"+url.PathEscape(key), &job))

		fmt.Printf("Download Details:\n")
		fmt.Printf("  Video:    %s\n", job.Key)
		fmt.Printf("  Status:   %s\n", job.Status)
		fmt.Printf("  Progress: %s (%s)\n", formatPercent(job.Percent), formatBytes(job.DownloadedBytes, job.TotalBytes))
		if job.Title != nil {
			fmt.Printf("  Title:    %s\n", *job.Title)
		}
		if job.Filename != nil {
			fmt.Printf("  File:     %s\n", *job.Filename)
		}
		if job.Error != nil {
			fmt.Printf("  Error:    %s\n", *job.Error)
		}
		if job.QueuedAt != nil {
			fmt.Printf("  Queued:   %s\n", job.QueuedAt.Format("2006-01-02 15:04:05"))
		}
		if job.FinishedAt != nil {
			fmt.Printf("  Finished: %s\n", job.FinishedAt.Format("2006-01-02 15:04:05"))
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished and failed downloads from the archive",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		limit, _ := cmd.Flags().GetInt("limit")
		video, _ := cmd.Flags().GetString("video")

		query := url.Values{}
		query.Set("limit", fmt.Sprint(limit))
		if video != "" {
			key, err := domain.ResolveKey(video)
			exitOnError(err)
			query.Set("videoId", key)
		}

		var result struct {
			Count int                   `json:"count"`
			Jobs  []*domain.ArchivedJob `json:"jobs"`
		}
		exitOnError(getJSON("/api/v1/history?"+query.Encode(), &result))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VIDEO\tSTATUS\tFINISHED\tTITLE / ERROR")
		for _, job := range result.Jobs {
			detail := job.Title
			if job.Status == domain.StatusError {
				detail = job.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				job.Key, job.Status, job.FinishedAt.Format("2006-01-02 15:04:05"), truncate(detail, 50))
		}
		w.Flush()
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "View server logs (job, connection, error)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		limit, _ := cmd.Flags().GetInt("limit")
		search, _ := cmd.Flags().GetString("search")

		path := fmt.Sprintf("/api/v1/logs/%s?limit=%d", url.PathEscape(args[0]), limit)
		if search != "" {
			path = fmt.Sprintf("/api/v1/logs/%s/search?limit=%d&q=%s",
				url.PathEscape(args[0]), limit, url.QueryEscape(search))
		}

		var result struct {
			Entries []logger.LogEntry `json:"entries"`
		}
		exitOnError(getJSON(path, &result))

		for _, e := range result.Entries {
			if e.Key != "" {
				fmt.Printf("%s %-5s %s [%s]\n", e.Timestamp, e.Level, e.Message, e.Key)
				continue
			}
			fmt.Printf("%s %-5s %s\n", e.Timestamp, e.Level, e.Message)
		}
	},
}

func init() {
	addCmd.Flags().BoolP("detach", "d", false, "Return once the download is accepted")
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum entries to show")
	historyCmd.Flags().StringP("video", "v", "", "Only show this video")
	logsCmd.Flags().IntP("limit", "n", 100, "Maximum entries to show")
	logsCmd.Flags().StringP("search", "q", "", "Only show entries containing this text")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
