package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the tutor a question",
	Long: `Ask the tutor a question.

Examples:
  tutord ask "explain goroutines"
  tutord ask --user alice "review this function for bugs"
  tutord ask --session study-1 "what did we cover so far?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		username, _ := cmd.Flags().GetString("user")
		sess, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.sessionID = sess

		req := map[string]string{"query": query}
		if username != "" {
			req["username"] = username
		}

		resp, err := client.post(cmd.Context(), "/api/chat", req)
		if err != nil {
			return err
		}

		var result struct {
			Response string `json:"response"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Response)
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "", "username for personalized answers")
	askCmd.Flags().String("session", "cli", "conversation session id")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add reference material to the document index",
	Long: `Add reference material to the document index.

Examples:
  tutord ingest --text "Goroutines are lightweight threads managed by the Go runtime"
  tutord ingest --file ./notes.md
  tutord ingest --url https://example.com/article`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")

		if text == "" && url == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]string{}
		switch {
		case text != "":
			req["content"] = text
		case url != "":
			req["url"] = url
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["content"] = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Content indexed")
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to index")
	ingestCmd.Flags().String("url", "", "URL to fetch and index")
	ingestCmd.Flags().String("file", "", "file path to index")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversation history for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.sessionID = sess

		resp, err := client.get(cmd.Context(), "/api/history")
		if err != nil {
			return err
		}

		var result struct {
			History []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"history"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.History) == 0 {
			fmt.Println("No history yet.")
			return nil
		}

		for _, turn := range result.History {
			label := "you"
			if turn.Role == "assistant" {
				label = "tutor"
			}
			fmt.Printf("%s %s\n\n", colorize(colorBold, label+":"), turn.Content)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("session", "cli", "conversation session id")
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the conversation history for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.sessionID = sess

		resp, err := client.post(cmd.Context(), "/api/clear", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("History cleared")
		return nil
	},
}

func init() {
	clearCmd.Flags().String("session", "cli", "conversation session id")
}
