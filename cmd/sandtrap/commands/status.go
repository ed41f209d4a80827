package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandtrap-io/sandtrap/internal/cli/output"
	"github.com/sandtrap-io/sandtrap/pkg/api"
	"github.com/sandtrap-io/sandtrap/pkg/resultserver"
	"github.com/sandtrap-io/sandtrap/pkg/taskstore"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIHost string
	statusAPIPort int
	statusFromDB  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the sandtrap server.

Checks the control API for registered tasks and live sessions, and the PID
file for the daemon process.

Examples:
  # Check status (uses default settings)
  sandtrap status

  # Check status with custom control API port
  sandtrap status --api-port 9080

  # Output as JSON
  sandtrap status --output json

  # Inspect the task journal of a stopped server
  sandtrap status --from-db ~/.sandtrap/taskstore`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/sandtrap/sandtrap.pid)")
	statusCmd.Flags().StringVar(&statusAPIHost, "api-host", "127.0.0.1", "Control API host")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8090, "Control API port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
	statusCmd.Flags().StringVar(&statusFromDB, "from-db", "", "Read the task registration journal at this path instead of the control API")
}

// ServerStatus is the status report printed by the status command.
type ServerStatus struct {
	Running  bool                    `json:"running" yaml:"running"`
	PID      int                     `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message  string                  `json:"message" yaml:"message"`
	Tasks    []resultserver.TaskInfo `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Sessions int                     `json:"sessions" yaml:"sessions"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	if statusFromDB != "" {
		return runStatusFromDB(statusFromDB, format)
	}

	status := ServerStatus{
		Running: false,
		Message: "Server is not running",
	}

	// Check PID file first
	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pidData, err := os.ReadFile(pidPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidData))); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				// On Unix FindProcess always succeeds, signal 0 probes liveness
				if err := process.Signal(syscall.Signal(0)); err == nil {
					status.Running = true
					status.PID = pid
				}
			}
		}
	}

	// Ask the control API for the live task list
	client := &http.Client{Timeout: 2 * time.Second}
	base := fmt.Sprintf("http://%s:%d", statusAPIHost, statusAPIPort)

	if tasks, err := fetchTasks(client, base); err == nil {
		status.Running = true
		status.Tasks = tasks
		for _, t := range tasks {
			status.Sessions += t.Sessions
		}
		status.Message = "Server is running"
	} else if status.Running {
		status.Message = "Server process exists but control API is unreachable"
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		return printStatusTable(status)
	}
}

// runStatusFromDB prints the task registration journal of a stopped server.
func runStatusFromDB(path string, format output.Format) error {
	store, err := taskstore.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	events, err := store.List(context.Background())
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, events)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, events)
	default:
		return output.PrintTable(os.Stdout, eventTable(events))
	}
}

// eventTable renders journal entries as a table.
type eventTable []taskstore.Event

func (t eventTable) Headers() []string {
	return []string{"SEQ", "OP", "TASK", "IP", "TIME"}
}

func (t eventTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{
			strconv.FormatUint(e.Seq, 10),
			string(e.Op),
			strconv.FormatInt(e.TaskID, 10),
			e.IP,
			e.Time.Format(time.RFC3339),
		})
	}
	return rows
}

// fetchTasks queries GET /tasks on the control API.
func fetchTasks(client *http.Client, base string) ([]resultserver.TaskInfo, error) {
	resp, err := client.Get(base + "/tasks")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope api.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if envelope.Status != "ok" {
		return nil, fmt.Errorf("control API error: %s", envelope.Error)
	}

	// Data round-trips through the generic envelope, re-decode it.
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		return nil, err
	}
	var data struct {
		Tasks []resultserver.TaskInfo `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data.Tasks, nil
}

// taskTable renders the registered tasks as a table.
type taskTable []resultserver.TaskInfo

func (t taskTable) Headers() []string {
	return []string{"TASK", "IP", "SESSIONS"}
}

func (t taskTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, info := range t {
		rows = append(rows, []string{
			strconv.FormatInt(info.TaskID, 10),
			info.IP,
			strconv.Itoa(info.Sessions),
		})
	}
	return rows
}

func printStatusTable(status ServerStatus) error {
	state := "stopped"
	if status.Running {
		state = "running"
	}

	pairs := [][2]string{
		{"Status", state},
	}
	if status.PID != 0 {
		pairs = append(pairs, [2]string{"PID", strconv.Itoa(status.PID)})
	}
	pairs = append(pairs,
		[2]string{"Tasks", strconv.Itoa(len(status.Tasks))},
		[2]string{"Sessions", strconv.Itoa(status.Sessions)},
	)

	if err := output.KeyValueTable(os.Stdout, pairs); err != nil {
		return err
	}

	if len(status.Tasks) > 0 {
		fmt.Println()
		if err := output.PrintTable(os.Stdout, taskTable(status.Tasks)); err != nil {
			return err
		}
	}

	fmt.Printf("\n%s\n", status.Message)
	return nil
}
