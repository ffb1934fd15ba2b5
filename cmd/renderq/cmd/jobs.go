package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	// Job submit flags
	template   string
	workflow   string
	prompt     string
	prompts    []string
	content    string

	// Job status flags
	followStatus bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage render jobs",
	Long:  `Commands for submitting, listing, and deleting rendering jobs tracked by the renderq daemon.`,
}

// jobsSubmitCmd represents the jobs submit command
var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new render job",
	Long: `Submit a new rendering job to the daemon.

The workflow comes either from a named template stored on the daemon or
from a local workflow JSON file. Passing --prompt replaces the text of
the workflow's prompt node before submission. Passing --prompts more
than once submits one job per prompt as a single batch.`,
	RunE: runJobsSubmit,
}

// jobsStatusCmd represents the jobs status command
var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Get job status",
	Long:  `Retrieve the status of a specific job by its ID. If no ID is provided, lists all jobs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsStatus,
}

// jobsDeleteCmd represents the jobs delete command
var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job record",
	Long:  `Remove a job record from the daemon's store. The remote engine is not contacted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)

	// Flags for job submit
	jobsSubmitCmd.Flags().StringVar(&template, "template", "", "workflow template name stored on the daemon")
	jobsSubmitCmd.Flags().StringVar(&workflow, "workflow", "", "path to a local workflow JSON file")
	jobsSubmitCmd.Flags().StringVar(&prompt, "prompt", "", "text prompt applied to the workflow")
	jobsSubmitCmd.Flags().StringArrayVar(&prompts, "prompts", nil, "submit one job per prompt as a batch (repeatable)")
	jobsSubmitCmd.Flags().StringVar(&content, "content", "", "free-form note stored with the job record")

	// Flags for job status
	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")
}

type submitRequest struct {
	Template string          `json:"template,omitempty"`
	Workflow json.RawMessage `json:"workflow,omitempty"`
	Prompt   string          `json:"prompt,omitempty"`
	Prompts  []string        `json:"prompts,omitempty"`
	Content  string          `json:"content,omitempty"`
}

type jobResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Message        string     `json:"message,omitempty"`
	Prompt         string     `json:"prompt,omitempty"`
	Model          string     `json:"model,omitempty"`
	Seed           int64      `json:"seed,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdated    time.Time  `json:"last_updated"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	QueuePosition  int        `json:"queue_position,omitempty"`
	ProcessingTime float64    `json:"processing_time,omitempty"`
	WaitingTime    float64    `json:"waiting_time,omitempty"`
	OutputPath     string     `json:"output_path,omitempty"`
	PreviewURL     string     `json:"preview_url,omitempty"`
	ArtifactType   string     `json:"artifact_type,omitempty"`
	BatchID        string     `json:"batch_id,omitempty"`
	SegmentIndex   int        `json:"segment_index,omitempty"`
	TotalSegments  int        `json:"total_segments,omitempty"`
	Content        string     `json:"content,omitempty"`
}

type batchResponse struct {
	BatchID string        `json:"batch_id"`
	Jobs    []jobResponse `json:"jobs"`
}

type jobsListResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Count int           `json:"count"`
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	if template == "" && workflow == "" {
		return fmt.Errorf("either --template or --workflow is required")
	}

	req := submitRequest{
		Template: template,
		Prompt:   prompt,
		Prompts:  prompts,
		Content:  content,
	}

	if workflow != "" {
		raw, err := os.ReadFile(workflow)
		if err != nil {
			return fmt.Errorf("failed to read workflow file: %w", err)
		}
		req.Workflow = json.RawMessage(raw)
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/jobs", GetServerURL())
	resp, err := GetHTTPClient().Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if len(prompts) > 0 {
		var batch batchResponse
		if err := json.Unmarshal(body, &batch); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		if IsJSONOutput() {
			output, err := json.MarshalIndent(batch, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}
			fmt.Println(string(output))
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Segment", "Job ID", "Status", "Prompt")
		for _, job := range batch.Jobs {
			table.Append(
				fmt.Sprintf("%d/%d", job.SegmentIndex, job.TotalSegments),
				job.ID,
				job.Status,
				truncate(job.Prompt, 48),
			)
		}
		table.Render()
		fmt.Printf("\nBatch %s submitted with %d jobs\n", batch.BatchID, len(batch.Jobs))
		return nil
	}

	var result jobResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	} else {
		displayJob(&result)
		fmt.Printf("\nJob submitted successfully! ID %s\n", result.ID)
	}

	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	// If no job ID provided, list all jobs
	if len(args) == 0 {
		return listAllJobs()
	}

	jobID := args[0]

	if followStatus {
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
		for {
			result, err := fetchJobStatus(jobID)
			if err != nil {
				return err
			}

			fmt.Print("\033[H\033[2J") // Clear screen
			displayJob(result)

			if result.Status == "completed" || result.Status == "error" {
				fmt.Println("\n✓ Job reached terminal state")
				break
			}

			time.Sleep(2 * time.Second)
		}
		return nil
	}

	result, err := fetchJobStatus(jobID)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	displayJob(result)
	return nil
}

func listAllJobs() error {
	url := fmt.Sprintf("%s/jobs", GetServerURL())

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result jobsListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Status", "Prompt", "Model", "Position", "Created")

	for _, job := range result.Jobs {
		position := "-"
		if job.QueuePosition > 0 {
			position = fmt.Sprintf("%d", job.QueuePosition)
		}
		model := job.Model
		if model == "" {
			model = "-"
		}

		table.Append(
			job.ID,
			job.Status,
			truncate(job.Prompt, 40),
			model,
			position,
			job.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
	fmt.Printf("\nTotal jobs: %d\n", result.Count)
	return nil
}

func fetchJobStatus(jobID string) (*jobResponse, error) {
	url := fmt.Sprintf("%s/jobs/%s", GetServerURL(), jobID)

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result jobResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

func displayJob(result *jobResponse) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Job ID", result.ID)
	table.Append("Status", result.Status)
	if result.Message != "" {
		table.Append("Message", result.Message)
	}
	if result.Prompt != "" {
		table.Append("Prompt", truncate(result.Prompt, 64))
	}
	if result.Model != "" {
		table.Append("Model", result.Model)
	}
	if result.QueuePosition > 0 {
		table.Append("Queue Position", fmt.Sprintf("%d", result.QueuePosition))
	}
	if result.ProcessingTime > 0 {
		table.Append("Processing Time", fmt.Sprintf("%.1fs", result.ProcessingTime))
	}
	if result.WaitingTime > 0 {
		table.Append("Waiting Time", fmt.Sprintf("%.1fs", result.WaitingTime))
	}
	if result.OutputPath != "" {
		table.Append("Output", result.OutputPath)
	}
	if result.PreviewURL != "" {
		table.Append("Preview", result.PreviewURL)
	}
	if result.BatchID != "" {
		table.Append("Batch", fmt.Sprintf("%s (%d/%d)", result.BatchID, result.SegmentIndex, result.TotalSegments))
	}

	table.Append("Created At", result.CreatedAt.Format(time.RFC3339))
	if result.CompletedAt != nil {
		table.Append("Completed At", result.CompletedAt.Format(time.RFC3339))
	}

	table.Render()
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	url := fmt.Sprintf("%s/jobs/%s", GetServerURL(), jobID)

	httpReq, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Printf("✓ Job %s deleted\n", jobID)
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
