package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/campuskit/remotehub/pkg/protocol"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
	Version    = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "remotehub",
		Short: "remotehub - manage remote classroom clients",
		Long:  "Inspect registered clients, queue commands, and manage credential rotation",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "remotehub server URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", os.Getenv("REMOTEHUB_ADMIN_TOKEN"), "admin bearer token")

	rootCmd.AddCommand(
		clientsCmd(),
		commandsCmd(),
		enqueueCmd(),
		stagePasswordCmd(),
		rotateCmd(),
		removeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func clientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "clients",
		Aliases: []string{"ls", "list"},
		Short:   "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			var clients []protocol.ClientSummary
			if err := getJSON("/v1/clients", &clients); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT\tIP\tSTATUS\tLAST HEARTBEAT")
			fmt.Fprintln(w, "------\t--\t------\t--------------")
			for _, c := range clients {
				status := "offline"
				if c.Online {
					status = "online"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ClientID, c.IP, status, c.LastHeartbeatAt)
			}
			w.Flush()
			return nil
		},
	}
}

func commandsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "commands [client-id]",
		Short: "Show a client's command history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/admin/clients/" + args[0] + "/commands"
			if status != "" {
				path += "?status=" + status
			}
			var commands []struct {
				ID             uint       `json:"id"`
				Kind           string     `json:"kind"`
				Status         string     `json:"status"`
				DisplayText    string     `json:"displayText"`
				ReportedResult string     `json:"reportedResult"`
				CreatedAt      time.Time  `json:"createdAt"`
				ReportedAt     *time.Time `json:"reportedAt"`
			}
			if err := getJSON(path, &commands); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSTATUS\tCREATED\tRESULT")
			for _, c := range commands {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					c.ID, c.Kind, c.Status, c.CreatedAt.Format(time.RFC3339), c.ReportedResult)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (running, finished, failed)")
	return cmd
}

func enqueueCmd() *cobra.Command {
	var displayText string
	cmd := &cobra.Command{
		Use:   "enqueue [client-id] [kind] [args...]",
		Short: "Queue a command for a client",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"kind":        args[1],
				"args":        args[2:],
				"displayText": displayText,
			}
			envelope, err := callAdmin(http.MethodPost, "/v1/admin/clients/"+args[0]+"/commands", payload)
			if err != nil {
				return err
			}
			fmt.Printf("queued command %d (%s)\n", envelope.Data.ID, envelope.Data.Kind)
			return nil
		},
	}
	cmd.Flags().StringVarP(&displayText, "message", "m", "", "human-readable description")
	return cmd
}

func stagePasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage-password [client-id] [password]",
		Short: "Stage the next credential; applied on the client's next poll",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := callAdmin(http.MethodPut, "/v1/admin/clients/"+args[0]+"/password", map[string]string{
				"nextPassword": args[1],
			})
			if err != nil {
				return err
			}
			fmt.Println("password staged")
			return nil
		},
	}
}

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate [client-id]",
		Short: "Force a credential rotation on the client's next poll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := callAdmin(http.MethodPost, "/v1/admin/clients/"+args[0]+"/rotate", nil); err != nil {
				return err
			}
			fmt.Println("rotation forced")
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [client-id]",
		Short: "Remove a client; its command history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := callAdmin(http.MethodDelete, "/v1/admin/clients/"+args[0], nil); err != nil {
				return err
			}
			fmt.Println("client removed")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("remotehub version %s\n", Version)
		},
	}
}

func getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func callAdmin(method, path string, payload any) (*protocol.Response, error) {
	var reader *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var envelope protocol.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, fmt.Errorf("server refused: %s", envelope.Message)
	}
	return &envelope, nil
}
